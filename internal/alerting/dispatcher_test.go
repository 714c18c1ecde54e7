package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/mailer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

type dispatcherFixture struct {
	alerts        *MockMetricAlertRepository
	users         *MockUserRepository
	notifications *fakeNotificationRepository
	emailLogs     *fakeEmailLogRepository
	mailer        *MockMailer
	dedup         *MemoryDedup
	clock         *testClock
	dispatcher    *Dispatcher
}

func newDispatcherFixture() *dispatcherFixture {
	fx := &dispatcherFixture{
		alerts:        new(MockMetricAlertRepository),
		users:         new(MockUserRepository),
		notifications: &fakeNotificationRepository{},
		emailLogs:     &fakeEmailLogRepository{},
		mailer:        new(MockMailer),
		clock:         &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	fx.dedup = NewMemoryDedupWithClock(1024, fx.clock.Now)

	throttle := NewEmailThrottle(fx.emailLogs, ThrottleConfig{Location: time.UTC})
	throttle.now = fx.clock.Now

	fx.dispatcher = NewDispatcher(
		fx.alerts,
		fx.users,
		fx.notifications,
		fx.emailLogs,
		fx.dedup,
		throttle,
		fx.mailer,
		DispatcherConfig{DedupWindow: 5 * time.Minute, StoreURLPrefix: "/puntoVenta/"},
		zap.NewNop(),
	)
	fx.dispatcher.now = fx.clock.Now
	return fx
}

func intPtr(v int) *int { return &v }

func criticalTrigger() Trigger {
	return Trigger{Metric: tdsMetric("m1"), Severity: domain.SeverityCritical, Reading: tdsReading(620)}
}

func bothChannels(id string) *domain.MetricAlert {
	return &domain.MetricAlert{
		ID:               id,
		MetricID:         "m1",
		RecipientEmail:   "Ops@Example.com",
		RecipientName:    "Ops",
		DashboardEnabled: true,
		EmailEnabled:     true,
		NotifyOnCritical: true,
		Enabled:          true,
	}
}

func outcomes(deliveries []Delivery) map[Channel]Outcome {
	out := make(map[Channel]Outcome)
	for _, d := range deliveries {
		out[d.Channel] = d.Outcome
	}
	return out
}

func TestDispatcher_SendsBothChannels(t *testing.T) {
	fx := newDispatcherFixture()
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{bothChannels("a1")}, nil)
	fx.users.On("FindByEmail", mock.Anything, "ops@example.com").Return(&domain.User{ID: "u1", Email: "ops@example.com"}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.MatchedBy(func(e mailer.AlertEmail) bool {
		return e.To == "Ops@Example.com" && e.Severity == domain.SeverityCritical && e.Value == 620 && e.StoreCode == "STORE01"
	})).Return(nil)

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	require.NoError(t, err)
	assert.Equal(t, map[Channel]Outcome{ChannelDashboard: OutcomeSent, ChannelEmail: OutcomeSent}, outcomes(deliveries))

	require.Equal(t, 1, fx.notifications.count())
	n := fx.notifications.notifications[0]
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, "Alerta: TDS", n.Title)
	assert.Equal(t, domain.NotificationTypeAlert, n.Type)
	assert.Equal(t, "/puntoVenta/s1", n.URL)
	assert.True(t, n.IsUnread)
	assert.Contains(t, n.Description, "CRÍTICO")
	assert.Contains(t, n.Description, "620.00 ppm")

	require.Equal(t, 1, fx.emailLogs.count())
	entry := fx.emailLogs.logs[0]
	assert.Equal(t, "a1", entry.MetricAlertID)
	assert.Equal(t, domain.SeverityCritical, entry.Severity)
	assert.Equal(t, 620.0, entry.SensorValue)
	fx.mailer.AssertExpectations(t)
}

func TestDispatcher_ReplaySuppressed(t *testing.T) {
	fx := newDispatcherFixture()
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{bothChannels("a1")}, nil)
	fx.users.On("FindByEmail", mock.Anything, mock.Anything).Return(&domain.User{ID: "u1"}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(nil)

	_, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)

	fx.clock.Advance(30 * time.Second)
	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	require.NoError(t, err)
	assert.Equal(t, map[Channel]Outcome{
		ChannelDashboard: OutcomeSuppressedDedup,
		ChannelEmail:     OutcomeSuppressedCooldown,
	}, outcomes(deliveries))
	assert.Equal(t, 1, fx.notifications.count())
	assert.Equal(t, 1, fx.emailLogs.count())
	fx.mailer.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestDispatcher_DailyCap(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	alert.EmailCooldownMinutes = intPtr(1)
	alert.EmailMaxPerDay = intPtr(5)
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(nil)

	var last []Delivery
	for i := 0; i < 6; i++ {
		var err error
		last, err = fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
		require.NoError(t, err)
		fx.clock.Advance(2 * time.Minute)
	}

	assert.Equal(t, OutcomeSuppressedDailyCap, outcomes(last)[ChannelEmail])
	assert.Equal(t, 5, fx.emailLogs.count())
}

func TestDispatcher_RecipientNotFoundSkipsDashboardOnly(t *testing.T) {
	fx := newDispatcherFixture()
	sibling := bothChannels("a2")
	sibling.RecipientEmail = "known@example.com"
	sibling.EmailEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{bothChannels("a1"), sibling}, nil)
	fx.users.On("FindByEmail", mock.Anything, "ops@example.com").Return(nil, repository.ErrNotFound)
	fx.users.On("FindByEmail", mock.Anything, "known@example.com").Return(&domain.User{ID: "u2"}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(nil)

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	require.NoError(t, err)
	assert.Equal(t, []Delivery{
		{AlertID: "a1", Channel: ChannelDashboard, Outcome: OutcomeSkipped},
		{AlertID: "a1", Channel: ChannelEmail, Outcome: OutcomeSent},
		{AlertID: "a2", Channel: ChannelDashboard, Outcome: OutcomeSent},
	}, deliveries)
	assert.Equal(t, 1, fx.notifications.count())
}

func TestDispatcher_SendFailureDoesNotConsumeBudget(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(nil).Once()

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcomes(deliveries)[ChannelEmail])
	assert.Equal(t, 0, fx.emailLogs.count())

	// no cooldown was started by the failed attempt
	deliveries, err = fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcomes(deliveries)[ChannelEmail])
	assert.Equal(t, 1, fx.emailLogs.count())
}

func TestDispatcher_UnknownDeliveryConsumesBudget(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	timedOut := fmt.Errorf("failed to send email to ops: %w: %w", mailer.ErrDeliveryUnknown, context.DeadlineExceeded)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(timedOut).Once()

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcomes(deliveries)[ChannelEmail])
	require.Equal(t, 1, fx.emailLogs.count())
	assert.Equal(t, "a1", fx.emailLogs.logs[0].MetricAlertID)

	// the possibly delivered email starts the cooldown
	deliveries, err = fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressedCooldown, outcomes(deliveries)[ChannelEmail])
	fx.mailer.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestDispatcher_ZeroCooldownSendsEveryTrigger(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	alert.EmailCooldownMinutes = intPtr(0)
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, outcomes(deliveries)[ChannelEmail])
	}
	assert.Equal(t, 2, fx.emailLogs.count())
}

func TestDispatcher_NotificationFailureReleasesDedup(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.EmailEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.users.On("FindByEmail", mock.Anything, mock.Anything).Return(&domain.User{ID: "u1"}, nil)
	fx.notifications.err = errors.New("write conflict")

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcomes(deliveries)[ChannelDashboard])

	fx.notifications.err = nil
	deliveries, err = fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcomes(deliveries)[ChannelDashboard])
}

func TestDispatcher_SeverityFlags(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.NotifyOnCritical = false
	alert.NotifyOnPreventive = true
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	require.NoError(t, err)
	assert.Empty(t, deliveries)
	fx.users.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	fx.mailer.AssertNotCalled(t, "SendAlert", mock.Anything, mock.Anything)
}

func TestDispatcher_NormalNeverNotifies(t *testing.T) {
	fx := newDispatcherFixture()
	trigger := criticalTrigger()
	trigger.Severity = domain.SeverityNormal

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), trigger)

	require.NoError(t, err)
	assert.Empty(t, deliveries)
	fx.alerts.AssertNotCalled(t, "FindEnabledByMetric", mock.Anything, mock.Anything)
}

func TestDispatcher_PreventiveUsesWarningType(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.EmailEnabled = false
	alert.NotifyOnPreventive = true
	alert.Message = "Revisar membrana"
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.users.On("FindByEmail", mock.Anything, mock.Anything).Return(&domain.User{ID: "u1"}, nil)

	trigger := criticalTrigger()
	trigger.Severity = domain.SeverityPreventive
	_, err := fx.dispatcher.Dispatch(context.Background(), trigger)

	require.NoError(t, err)
	require.Equal(t, 1, fx.notifications.count())
	assert.Equal(t, domain.NotificationTypeWarning, fx.notifications.notifications[0].Type)
	assert.Equal(t, "Revisar membrana", fx.notifications.notifications[0].Description)
}

func TestDispatcher_AlertLookupError(t *testing.T) {
	fx := newDispatcherFixture()
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return(nil, errors.New("timeout"))

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	assert.Error(t, err)
	assert.Nil(t, deliveries)
}

func TestDispatcher_NoMailerSkipsEmail(t *testing.T) {
	fx := newDispatcherFixture()
	fx.dispatcher.mailer = nil
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)

	deliveries, err := fx.dispatcher.Dispatch(context.Background(), criticalTrigger())

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcomes(deliveries)[ChannelEmail])
}

func TestDispatcher_ConcurrentTriggersSendOneEmail(t *testing.T) {
	fx := newDispatcherFixture()
	alert := bothChannels("a1")
	alert.DashboardEnabled = false
	fx.alerts.On("FindEnabledByMetric", mock.Anything, "m1").Return([]*domain.MetricAlert{alert}, nil)
	fx.mailer.On("SendAlert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { time.Sleep(5 * time.Millisecond) }).
		Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = fx.dispatcher.Dispatch(context.Background(), criticalTrigger())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fx.emailLogs.count())
	fx.mailer.AssertNumberOfCalls(t, "SendAlert", 1)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()

	assert.Empty(t, k.locks)
}
