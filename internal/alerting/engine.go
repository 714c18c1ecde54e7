package alerting

import (
	"context"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// Engine runs evaluation and dispatch for persisted readings
type Engine struct {
	evaluator  *Evaluator
	dispatcher *Dispatcher
	log        *zap.Logger
}

func NewEngine(evaluator *Evaluator, dispatcher *Dispatcher, log *zap.Logger) *Engine {
	return &Engine{
		evaluator:  evaluator,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Process evaluates each reading on its own; an error on one reading or
// metric never stops the others. It is a ProcessFunc.
func (e *Engine) Process(ctx context.Context, readings []*domain.Reading) {
	for _, reading := range readings {
		if ctx.Err() != nil {
			e.log.Warn("Alert evaluation cancelled", zap.String("store_code", reading.StoreCode), zap.Error(ctx.Err()))
			return
		}

		triggers, err := e.evaluator.Evaluate(ctx, reading)
		if err != nil {
			e.log.Error("Failed to evaluate reading",
				zap.String("reading_id", reading.ID),
				zap.String("store_code", reading.StoreCode),
				zap.String("sensor_type", string(reading.SensorType)),
				zap.Error(err))
			continue
		}

		for _, trigger := range triggers {
			if _, err := e.dispatcher.Dispatch(ctx, trigger); err != nil {
				e.log.Error("Failed to dispatch alert",
					zap.String("metric_id", trigger.Metric.ID),
					zap.String("store_code", reading.StoreCode),
					zap.Error(err))
			}
		}
	}
}
