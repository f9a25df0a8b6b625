// Package query is the read side over frames, samples and anomalies.
// All reads are scoped to one device and see committed writes only.
package query

import (
	"context"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/store"
)

type Engine struct {
	frames    store.FrameRepository
	states    store.StateRepository
	anomalies store.AnomalyRepository
}

func NewEngine(frames store.FrameRepository, states store.StateRepository, anomalies store.AnomalyRepository) *Engine {
	return &Engine{frames: frames, states: states, anomalies: anomalies}
}

func (e *Engine) LatestFrames(ctx context.Context, deviceID string, limit int) ([]domain.CANFrame, error) {
	if limit <= 0 {
		return []domain.CANFrame{}, nil
	}
	return e.frames.LatestFrames(ctx, deviceID, limit)
}

func (e *Engine) FramesByCanID(ctx context.Context, deviceID, canID string, limit int) ([]domain.CANFrame, error) {
	if limit <= 0 {
		return []domain.CANFrame{}, nil
	}
	return e.frames.FramesByCanID(ctx, deviceID, canID, limit)
}

// FramesInRange returns frames with start <= timestamp <= end.
func (e *Engine) FramesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.CANFrame, error) {
	if err := domain.CheckRange(start, end); err != nil {
		return nil, err
	}
	return e.frames.FramesInRange(ctx, deviceID, start, end, order)
}

func (e *Engine) LatestStates(ctx context.Context, deviceID string, limit int) ([]domain.VehicleStateSample, error) {
	if limit <= 0 {
		return []domain.VehicleStateSample{}, nil
	}
	return e.states.LatestStates(ctx, deviceID, limit)
}

// LatestState returns the most recent sample or a NotFoundError.
func (e *Engine) LatestState(ctx context.Context, deviceID string) (*domain.VehicleStateSample, error) {
	states, err := e.states.LatestStates(ctx, deviceID, 1)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, &domain.NotFoundError{Kind: "vehicle state for device", Key: deviceID}
	}
	return &states[0], nil
}

func (e *Engine) StatesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.VehicleStateSample, error) {
	if err := domain.CheckRange(start, end); err != nil {
		return nil, err
	}
	return e.states.StatesInRange(ctx, deviceID, start, end, order)
}

func (e *Engine) LatestAnomalies(ctx context.Context, deviceID string, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		return []domain.Anomaly{}, nil
	}
	return e.anomalies.LatestAnomalies(ctx, deviceID, limit)
}

func (e *Engine) AnomaliesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.Anomaly, error) {
	if err := domain.CheckRange(start, end); err != nil {
		return nil, err
	}
	return e.anomalies.AnomaliesInRange(ctx, deviceID, start, end, order)
}
