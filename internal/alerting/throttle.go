package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

const (
	ReasonCooldown   = "cooldown"
	ReasonDailyLimit = "daily limit"
)

// Decision is the throttle verdict for one email attempt
type Decision struct {
	Allowed bool
	Reason  string
}

// ThrottleConfig holds the limits used when an alert leaves them unset
type ThrottleConfig struct {
	DefaultCooldownMinutes int
	DefaultMaxPerDay       int
	Location               *time.Location
}

// EmailThrottle decides from the email log alone whether an alert may send
type EmailThrottle struct {
	logs   repository.EmailLogRepository
	config ThrottleConfig
	now    func() time.Time
}

func NewEmailThrottle(logs repository.EmailLogRepository, config ThrottleConfig) *EmailThrottle {
	if config.DefaultCooldownMinutes <= 0 {
		config.DefaultCooldownMinutes = 10
	}
	if config.DefaultMaxPerDay <= 0 {
		config.DefaultMaxPerDay = 5
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &EmailThrottle{
		logs:   logs,
		config: config,
		now:    time.Now,
	}
}

// CanSend checks the cooldown first and then the daily cap. A negative
// cooldown falls back to the configured default and zero disables it. A
// daily cap below one falls back to the default.
func (t *EmailThrottle) CanSend(ctx context.Context, alertID string, sev domain.Severity, cooldownMinutes, maxPerDay int) (Decision, error) {
	if cooldownMinutes < 0 {
		cooldownMinutes = t.config.DefaultCooldownMinutes
	}
	if maxPerDay <= 0 {
		maxPerDay = t.config.DefaultMaxPerDay
	}
	now := t.now()

	last, ok, err := t.logs.LatestSentAt(ctx, alertID, sev)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check email cooldown: %w", err)
	}
	if ok && cooldownMinutes > 0 && last.After(now.Add(-time.Duration(cooldownMinutes)*time.Minute)) {
		return Decision{Allowed: false, Reason: ReasonCooldown}, nil
	}

	sent, err := t.logs.CountSince(ctx, alertID, sev, t.startOfDay(now))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check email daily cap: %w", err)
	}
	if sent >= int64(maxPerDay) {
		return Decision{Allowed: false, Reason: ReasonDailyLimit}, nil
	}

	return Decision{Allowed: true}, nil
}

func (t *EmailThrottle) startOfDay(now time.Time) time.Time {
	local := now.In(t.config.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.config.Location)
}
