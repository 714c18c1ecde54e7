package alerting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

// Trigger is one metric's verdict on one reading
type Trigger struct {
	Metric   *domain.Metric
	Severity domain.Severity
	Reading  *domain.Reading
}

// Evaluator classifies readings against every enabled metric of their client
type Evaluator struct {
	metrics  repository.MetricRepository
	fallback domain.Severity
	log      *zap.Logger
}

func NewEvaluator(metricRepo repository.MetricRepository, fallback domain.Severity, log *zap.Logger) *Evaluator {
	if fallback == "" {
		fallback = domain.SeverityPreventive
	}
	return &Evaluator{
		metrics:  metricRepo,
		fallback: domain.NormalizeSeverity(string(fallback)),
		log:      log,
	}
}

// Evaluate returns one trigger per enabled metric bound to the reading's
// client and sensor type, normal verdicts included. Readings without a client
// have no metrics and produce nothing.
func (e *Evaluator) Evaluate(ctx context.Context, reading *domain.Reading) ([]Trigger, error) {
	if reading.ClientID == "" {
		return nil, nil
	}

	found, err := e.metrics.FindEnabled(ctx, reading.ClientID, reading.SensorType)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics for client %s sensor %s: %w", reading.ClientID, reading.SensorType, err)
	}

	triggers := make([]Trigger, 0, len(found))
	for _, metric := range found {
		sev := Classify(reading.Value, metric.Rules, e.fallback)
		metrics.AlertTriggers.WithLabelValues(string(sev)).Inc()

		e.log.Debug("Reading classified",
			zap.String("metric_id", metric.ID),
			zap.String("store_code", reading.StoreCode),
			zap.String("sensor_type", string(reading.SensorType)),
			zap.Float64("value", reading.Value),
			zap.String("severity", string(sev)))

		triggers = append(triggers, Trigger{Metric: metric, Severity: sev, Reading: reading})
	}
	return triggers, nil
}
