package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/mailer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

// MockMetricRepository is a mock implementation of repository.MetricRepository
type MockMetricRepository struct {
	mock.Mock
}

func (m *MockMetricRepository) FindEnabled(ctx context.Context, clientID string, sensorType domain.SensorType) ([]*domain.Metric, error) {
	args := m.Called(ctx, clientID, sensorType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Metric), args.Error(1)
}

// MockMetricAlertRepository is a mock implementation of repository.MetricAlertRepository
type MockMetricAlertRepository struct {
	mock.Mock
}

func (m *MockMetricAlertRepository) FindEnabledByMetric(ctx context.Context, metricID string) ([]*domain.MetricAlert, error) {
	args := m.Called(ctx, metricID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MetricAlert), args.Error(1)
}

// MockUserRepository is a mock implementation of repository.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockMailer is a mock implementation of Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendAlert(ctx context.Context, email mailer.AlertEmail) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// fakeNotificationRepository stores notifications in memory
type fakeNotificationRepository struct {
	mu            sync.Mutex
	notifications []*domain.Notification
	err           error
}

func (f *fakeNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeNotificationRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

// fakeEmailLogRepository is an in-memory email log
type fakeEmailLogRepository struct {
	mu   sync.Mutex
	logs []*domain.EmailLog
	err  error
}

func (f *fakeEmailLogRepository) Append(ctx context.Context, log *domain.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeEmailLogRepository) LatestSentAt(ctx context.Context, alertID string, sev domain.Severity) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	var latest time.Time
	found := false
	for _, l := range f.logs {
		if l.MetricAlertID == alertID && l.Severity == sev && (!found || l.SentAt.After(latest)) {
			latest = l.SentAt
			found = true
		}
	}
	return latest, found, nil
}

func (f *fakeEmailLogRepository) CountSince(ctx context.Context, alertID string, sev domain.Severity, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, l := range f.logs {
		if l.MetricAlertID == alertID && l.Severity == sev && !l.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeEmailLogRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

var (
	_ repository.NotificationRepository = (*fakeNotificationRepository)(nil)
	_ repository.EmailLogRepository     = (*fakeEmailLogRepository)(nil)
)
