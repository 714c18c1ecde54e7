package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/mailer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelEmail     Channel = "email"
)

// Outcome is the terminal state of one delivery attempt. Nothing is retried.
type Outcome string

const (
	OutcomeSent               Outcome = "sent"
	OutcomeSuppressedDedup    Outcome = "suppressed_dedup"
	OutcomeSuppressedCooldown Outcome = "suppressed_cooldown"
	OutcomeSuppressedDailyCap Outcome = "suppressed_daily_cap"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkipped            Outcome = "skipped"
)

// Delivery reports what happened on one channel of one alert
type Delivery struct {
	AlertID string
	Channel Channel
	Outcome Outcome
}

// Mailer sends rendered alert emails
type Mailer interface {
	SendAlert(ctx context.Context, email mailer.AlertEmail) error
}

// Throttle gates alert emails
type Throttle interface {
	CanSend(ctx context.Context, alertID string, sev domain.Severity, cooldownMinutes, maxPerDay int) (Decision, error)
}

const emailLogTimeout = 5 * time.Second

type DispatcherConfig struct {
	DedupWindow    time.Duration
	StoreURLPrefix string
}

// Dispatcher fans a trigger out to the subscribed alerts of its metric
type Dispatcher struct {
	alerts        repository.MetricAlertRepository
	users         repository.UserRepository
	notifications repository.NotificationRepository
	emailLogs     repository.EmailLogRepository
	dedup         Deduper
	throttle      Throttle
	mailer        Mailer
	config        DispatcherConfig
	emailLocks    *keyedMutex
	now           func() time.Time
	log           *zap.Logger
}

// NewDispatcher builds a dispatcher. A nil sender disables the email channel.
func NewDispatcher(
	alerts repository.MetricAlertRepository,
	users repository.UserRepository,
	notifications repository.NotificationRepository,
	emailLogs repository.EmailLogRepository,
	dedup Deduper,
	throttle Throttle,
	sender Mailer,
	config DispatcherConfig,
	log *zap.Logger,
) *Dispatcher {
	if config.DedupWindow <= 0 {
		config.DedupWindow = 5 * time.Minute
	}
	return &Dispatcher{
		alerts:        alerts,
		users:         users,
		notifications: notifications,
		emailLogs:     emailLogs,
		dedup:         dedup,
		throttle:      throttle,
		mailer:        sender,
		config:        config,
		emailLocks:    newKeyedMutex(),
		now:           time.Now,
		log:           log,
	}
}

// Dispatch delivers one trigger. Only a failure to load the metric's alerts
// is returned; per-alert problems are logged and reported as deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger Trigger) ([]Delivery, error) {
	if trigger.Severity == domain.SeverityNormal {
		return nil, nil
	}

	alerts, err := d.alerts.FindEnabledByMetric(ctx, trigger.Metric.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts for metric %s: %w", trigger.Metric.ID, err)
	}

	var deliveries []Delivery
	for _, alert := range alerts {
		if !alert.Wants(trigger.Severity) {
			continue
		}

		if alert.DashboardEnabled {
			deliveries = append(deliveries, d.record(alert, ChannelDashboard, d.notifyDashboard(ctx, alert, trigger)))
		}
		if alert.EmailEnabled {
			deliveries = append(deliveries, d.record(alert, ChannelEmail, d.notifyEmail(ctx, alert, trigger)))
		}
	}
	return deliveries, nil
}

func (d *Dispatcher) record(alert *domain.MetricAlert, channel Channel, outcome Outcome) Delivery {
	metrics.Notifications.WithLabelValues(string(channel), string(outcome)).Inc()
	return Delivery{AlertID: alert.ID, Channel: channel, Outcome: outcome}
}

func (d *Dispatcher) notifyDashboard(ctx context.Context, alert *domain.MetricAlert, trigger Trigger) Outcome {
	fields := d.fields(alert, trigger, ChannelDashboard)

	user, err := d.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(alert.RecipientEmail)))
	if errors.Is(err, repository.ErrNotFound) {
		d.log.Warn("Alert recipient not found, dashboard notification skipped", fields...)
		return OutcomeSkipped
	}
	if err != nil {
		d.log.Error("Failed to resolve alert recipient", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}

	key := DedupKey{RecipientID: user.ID, MetricID: trigger.Metric.ID, Severity: trigger.Severity}
	reserved, err := d.dedup.Reserve(ctx, key, d.config.DedupWindow)
	if err != nil {
		d.log.Error("Failed to check dashboard dedup", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}
	if !reserved {
		d.log.Debug("Dashboard notification suppressed by dedup", fields...)
		return OutcomeSuppressedDedup
	}

	notification := &domain.Notification{
		UserID:      user.ID,
		Title:       "Alerta: " + trigger.Metric.Name,
		Description: alertMessage(alert, trigger),
		Type:        notificationType(trigger.Severity),
		PostedAt:    d.now().UTC(),
		IsUnread:    true,
		URL:         d.config.StoreURLPrefix + trigger.Reading.StoreID,
	}
	if err := d.notifications.Create(ctx, notification); err != nil {
		if relErr := d.dedup.Release(ctx, key); relErr != nil {
			d.log.Warn("Failed to release dedup reservation", append(fields, zap.Error(relErr))...)
		}
		d.log.Error("Failed to create dashboard notification", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}

	d.log.Info("Dashboard notification created", append(fields, zap.String("user_id", user.ID))...)
	return OutcomeSent
}

func (d *Dispatcher) notifyEmail(ctx context.Context, alert *domain.MetricAlert, trigger Trigger) Outcome {
	fields := d.fields(alert, trigger, ChannelEmail)

	if d.mailer == nil {
		d.log.Debug("Email channel disabled, no mailer configured", fields...)
		return OutcomeSkipped
	}
	if strings.TrimSpace(alert.RecipientEmail) == "" {
		d.log.Warn("Alert has no recipient email", fields...)
		return OutcomeSkipped
	}

	unlock := d.emailLocks.Lock(alert.ID + "|" + string(trigger.Severity))
	defer unlock()

	cooldown, maxPerDay := alert.EmailLimits()
	decision, err := d.throttle.CanSend(ctx, alert.ID, trigger.Severity, cooldown, maxPerDay)
	if err != nil {
		d.log.Error("Failed to check email throttle", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}
	if !decision.Allowed {
		d.log.Debug("Email suppressed", append(fields, zap.String("reason", decision.Reason))...)
		if decision.Reason == ReasonDailyLimit {
			return OutcomeSuppressedDailyCap
		}
		return OutcomeSuppressedCooldown
	}

	reading := trigger.Reading
	email := mailer.AlertEmail{
		To:         alert.RecipientEmail,
		ToName:     alert.RecipientName,
		Severity:   trigger.Severity,
		MetricName: trigger.Metric.Name,
		Message:    alertMessage(alert, trigger),
		Value:      reading.Value,
		Unit:       readingUnit(trigger),
		StoreCode:  reading.StoreCode,
		SensorType: string(reading.SensorType),
		Timestamp:  reading.Timestamp,
	}
	sendErr := d.mailer.SendAlert(ctx, email)
	unknown := errors.Is(sendErr, mailer.ErrDeliveryUnknown)
	if sendErr != nil && !unknown {
		d.log.Error("Failed to send alert email", append(fields, zap.Error(sendErr))...)
		return OutcomeFailed
	}

	entry := &domain.EmailLog{
		MetricAlertID:  alert.ID,
		MetricID:       trigger.Metric.ID,
		RecipientEmail: alert.RecipientEmail,
		Severity:       trigger.Severity,
		MetricName:     trigger.Metric.Name,
		StoreCode:      reading.StoreCode,
		SensorValue:    reading.Value,
		SentAt:         d.now().UTC(),
	}
	if unknown {
		// the relay may still deliver it, so it counts against cooldown and cap
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailLogTimeout)
		defer cancel()
		if err := d.emailLogs.Append(logCtx, entry); err != nil {
			d.log.Error("Failed to record email with unknown outcome", append(fields, zap.Error(err))...)
		}
		d.log.Warn("Alert email outcome unknown, charged to throttle", append(fields, zap.Error(sendErr))...)
		return OutcomeFailed
	}

	if err := d.emailLogs.Append(ctx, entry); err != nil {
		// the email is out; only the throttle bookkeeping is missing
		d.log.Error("Failed to record sent email", append(fields, zap.Error(err))...)
	}

	d.log.Info("Alert email sent", fields...)
	return OutcomeSent
}

func (d *Dispatcher) fields(alert *domain.MetricAlert, trigger Trigger, channel Channel) []zap.Field {
	return []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("metric_id", trigger.Metric.ID),
		zap.String("severity", string(trigger.Severity)),
		zap.String("channel", string(channel)),
		zap.String("store_code", trigger.Reading.StoreCode),
	}
}

func notificationType(sev domain.Severity) string {
	if sev == domain.SeverityCritical {
		return domain.NotificationTypeAlert
	}
	return domain.NotificationTypeWarning
}

func severityLabel(sev domain.Severity) string {
	if sev == domain.SeverityCritical {
		return "CRÍTICO"
	}
	return "PREVENTIVO"
}

func readingUnit(trigger Trigger) string {
	if trigger.Metric.Unit != "" {
		return trigger.Metric.Unit
	}
	return trigger.Reading.Unit
}

// alertMessage is the alert's own message, or the default text.
func alertMessage(alert *domain.MetricAlert, trigger Trigger) string {
	if msg := strings.TrimSpace(alert.Message); msg != "" {
		return msg
	}
	return fmt.Sprintf("⚠️ Alerta %s: %s en %s. Valor: %.2f %s",
		severityLabel(trigger.Severity),
		trigger.Metric.Name,
		trigger.Reading.StoreCode,
		trigger.Reading.Value,
		readingUnit(trigger))
}

// keyedMutex serializes work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
