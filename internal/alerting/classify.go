// Package alerting evaluates persisted readings against client rule sets and
// delivers the resulting alerts to the dashboard and by email.
//
// Alerting runs off the ingestion path: the consumer hands readings to a
// Pool and moves on. Nothing here may fail a message.
package alerting

import (
	"math"
	"strings"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// Classify returns the severity of the first rule whose closed interval
// contains value. A nil Min is -Inf and a nil Max is +Inf. When no rule
// matches, or there are none, fallback is returned. A matching rule without a
// recognised severity is classified from its label and colour.
func Classify(value float64, rules []domain.Rule, fallback domain.Severity) domain.Severity {
	for _, rule := range rules {
		lo, hi := math.Inf(-1), math.Inf(1)
		if rule.Min != nil {
			lo = *rule.Min
		}
		if rule.Max != nil {
			hi = *rule.Max
		}
		if value >= lo && value <= hi {
			if sev := domain.NormalizeSeverity(string(rule.Severity)); sev.Known() {
				return sev
			}
			return inferSeverity(rule)
		}
	}
	return domain.NormalizeSeverity(string(fallback))
}

var criticalLabelWords = []string{"critico", "crítico", "danger", "peligro"}

// inferSeverity covers legacy rules stored before severity was a field.
// Anything that is not obviously critical is worth a preventive alert.
func inferSeverity(rule domain.Rule) domain.Severity {
	label := strings.ToLower(rule.Label)
	for _, w := range criticalLabelWords {
		if strings.Contains(label, w) {
			return domain.SeverityCritical
		}
	}

	color := strings.ToLower(rule.Color)
	if strings.Contains(color, "red") || strings.Contains(color, "#f") || strings.Contains(color, "ff0000") {
		return domain.SeverityCritical
	}

	return domain.SeverityPreventive
}
