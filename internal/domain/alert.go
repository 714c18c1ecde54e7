package domain

import (
	"strings"
	"time"
)

// Severity is the outcome of classifying a value against a metric's rules.
type Severity string

const (
	SeverityNormal     Severity = "normal"
	SeverityPreventive Severity = "preventivo"
	SeverityCritical   Severity = "critico"
)

var severityAliases = map[string]Severity{
	"normal":      SeverityNormal,
	"ok":          SeverityNormal,
	"preventivo":  SeverityPreventive,
	"preventive":  SeverityPreventive,
	"warning":     SeverityPreventive,
	"advertencia": SeverityPreventive,
	"critico":     SeverityCritical,
	"crítico":     SeverityCritical,
	"critical":    SeverityCritical,
	"correctivo":  SeverityCritical,
	"danger":      SeverityCritical,
}

// NormalizeSeverity maps the spellings used in rule definitions to a known
// severity. Unknown labels are returned lower-cased and unchanged.
func NormalizeSeverity(s string) Severity {
	key := strings.ToLower(strings.TrimSpace(s))
	if sev, ok := severityAliases[key]; ok {
		return sev
	}
	return Severity(key)
}

// Known reports whether s is one of the three severity levels.
func (s Severity) Known() bool {
	return s == SeverityNormal || s == SeverityPreventive || s == SeverityCritical
}

// Rule is one band of a metric. A nil bound is open on that side.
type Rule struct {
	Min      *float64 `bson:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `bson:"max,omitempty" json:"max,omitempty"`
	Label    string   `bson:"label" json:"label"`
	Severity Severity `bson:"severity" json:"severity"`
	Color    string   `bson:"color,omitempty" json:"color,omitempty"`
}

// Metric is a client's alerting rule set for one sensor type. Rule order
// matters: the first matching rule wins.
type Metric struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	ClientID   string     `bson:"clientId" json:"client_id"`
	SensorType SensorType `bson:"sensorType" json:"sensor_type"`
	Name       string     `bson:"name" json:"name"`
	Unit       string     `bson:"unit,omitempty" json:"unit,omitempty"`
	Rules      []Rule     `bson:"rules" json:"rules"`
	Enabled    bool       `bson:"enabled" json:"enabled"`
}

// MetricAlert is one recipient's notification preferences for a metric.
type MetricAlert struct {
	ID                   string `bson:"_id,omitempty" json:"id"`
	MetricID             string `bson:"metricId" json:"metric_id"`
	RecipientEmail       string `bson:"recipientEmail" json:"recipient_email"`
	RecipientName        string `bson:"recipientName,omitempty" json:"recipient_name,omitempty"`
	Phone                string `bson:"phone,omitempty" json:"phone,omitempty"`
	DashboardEnabled     bool   `bson:"dashboardEnabled" json:"dashboard_enabled"`
	EmailEnabled         bool   `bson:"emailEnabled" json:"email_enabled"`
	NotifyOnPreventive   bool   `bson:"notifyOnPreventive" json:"notify_on_preventive"`
	NotifyOnCritical     bool   `bson:"notifyOnCritical" json:"notify_on_critical"`
	EmailCooldownMinutes *int   `bson:"emailCooldownMinutes,omitempty" json:"email_cooldown_minutes,omitempty"`
	EmailMaxPerDay       *int   `bson:"emailMaxPerDay,omitempty" json:"email_max_per_day,omitempty"`
	Message              string `bson:"message,omitempty" json:"message,omitempty"`
	Enabled              bool   `bson:"enabled" json:"enabled"`
}

// UnsetLimit marks an email limit the alert leaves to the service default.
const UnsetLimit = -1

// EmailLimits returns the cooldown in minutes and the daily cap, with
// UnsetLimit for a field the alert does not set. An explicit zero cooldown
// means no cooldown.
func (a *MetricAlert) EmailLimits() (cooldownMinutes, maxPerDay int) {
	cooldownMinutes, maxPerDay = UnsetLimit, UnsetLimit
	if a.EmailCooldownMinutes != nil {
		cooldownMinutes = *a.EmailCooldownMinutes
	}
	if a.EmailMaxPerDay != nil {
		maxPerDay = *a.EmailMaxPerDay
	}
	return cooldownMinutes, maxPerDay
}

// Wants reports whether the alert subscribes to the given severity.
func (a *MetricAlert) Wants(sev Severity) bool {
	switch sev {
	case SeverityPreventive:
		return a.NotifyOnPreventive
	case SeverityCritical:
		return a.NotifyOnCritical
	default:
		return false
	}
}

// EmailLog records a sent alert email. It is the only input to cooldown and
// daily cap decisions.
type EmailLog struct {
	ID             string    `bson:"_id,omitempty"`
	MetricAlertID  string    `bson:"metricAlertId"`
	MetricID       string    `bson:"metricId"`
	RecipientEmail string    `bson:"recipientEmail"`
	Severity       Severity  `bson:"severity"`
	MetricName     string    `bson:"metricName"`
	StoreCode      string    `bson:"storeCode"`
	SensorValue    float64   `bson:"sensorValue"`
	SentAt         time.Time `bson:"sentAt"`
}

type User struct {
	ID    string `bson:"_id,omitempty"`
	Email string `bson:"email"`
	Name  string `bson:"name,omitempty"`
}

const (
	NotificationTypeAlert   = "alert"
	NotificationTypeWarning = "warning"
)

// Notification is an in-app dashboard notification.
type Notification struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	UserID      string    `bson:"userId" json:"user_id"`
	Title       string    `bson:"title" json:"title"`
	Description string    `bson:"description" json:"description"`
	Type        string    `bson:"type" json:"type"`
	PostedAt    time.Time `bson:"postedAt" json:"posted_at"`
	IsUnread    bool      `bson:"isUnread" json:"is_unread"`
	URL         string    `bson:"url" json:"url"`
}
