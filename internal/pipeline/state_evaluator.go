package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/classify"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
)

type ThresholdSource interface {
	Thresholds(ctx context.Context, deviceID string) (domain.DeviceThresholds, error)
}

// Deduper suppresses repeats of the same anomaly type per device for a
// cooling-off period.
type Deduper interface {
	CheckAnomalyDedup(ctx context.Context, deviceID string, t domain.AnomalyType) (bool, error)
	SetAnomalyDedup(ctx context.Context, deviceID string, t domain.AnomalyType, ttl time.Duration) error
}

type Recorder interface {
	Record(ctx context.Context, a *domain.Anomaly) (*domain.Anomaly, error)
}

// StateEvaluator classifies stored vehicle-state samples. It keeps the
// newest sample per device as the prior for spike detection; samples
// that arrive out of order are classified but do not replace the prior.
type StateEvaluator struct {
	ch         <-chan domain.VehicleStateSample
	thresholds ThresholdSource
	dedup      Deduper
	recorder   Recorder
	dedupTTL   time.Duration
	log        *zap.Logger

	prior map[string]domain.VehicleStateSample
}

// NewStateEvaluator builds an evaluator. dedup may be nil.
func NewStateEvaluator(
	ch <-chan domain.VehicleStateSample,
	thresholds ThresholdSource,
	dedup Deduper,
	recorder Recorder,
	dedupTTL time.Duration,
	log *zap.Logger,
) *StateEvaluator {
	return &StateEvaluator{
		ch:         ch,
		thresholds: thresholds,
		dedup:      dedup,
		recorder:   recorder,
		dedupTTL:   dedupTTL,
		log:        log,
		prior:      make(map[string]domain.VehicleStateSample),
	}
}

// Run must be called from a single goroutine.
func (e *StateEvaluator) Run(ctx context.Context) {
	for {
		select {
		case s, ok := <-e.ch:
			if !ok {
				return
			}
			e.evaluate(context.Background(), s)

		case <-ctx.Done():
			return
		}
	}
}

func (e *StateEvaluator) evaluate(ctx context.Context, s domain.VehicleStateSample) {
	var prior *domain.VehicleStateSample
	if p, ok := e.prior[s.DeviceID]; ok {
		prior = &p
	}
	if prior == nil || s.Timestamp >= prior.Timestamp {
		e.prior[s.DeviceID] = s
	}

	th, err := e.thresholds.Thresholds(ctx, s.DeviceID)
	if err != nil {
		e.log.Warn("threshold lookup failed, using defaults",
			zap.String("device_id", s.DeviceID), zap.Error(err))
	}

	a := classify.Classify(&s, prior, th)
	if a == nil {
		return
	}

	if e.dedup != nil {
		dup, err := e.dedup.CheckAnomalyDedup(ctx, s.DeviceID, a.Type)
		if err != nil {
			e.log.Warn("anomaly dedup check failed",
				zap.String("device_id", s.DeviceID),
				zap.String("type", string(a.Type)),
				zap.Error(err))
			return
		}
		if dup {
			return
		}
	}

	if _, err := e.recorder.Record(ctx, a); err != nil {
		e.log.Error("recording classified anomaly failed",
			zap.String("device_id", s.DeviceID),
			zap.String("type", string(a.Type)),
			zap.Error(err))
		return
	}
	metrics.AnomaliesClassified.Inc()

	if e.dedup != nil {
		if err := e.dedup.SetAnomalyDedup(ctx, s.DeviceID, a.Type, e.dedupTTL); err != nil {
			e.log.Warn("anomaly dedup set failed",
				zap.String("device_id", s.DeviceID), zap.Error(err))
		}
	}
}
