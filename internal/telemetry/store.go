// Package telemetry is the write side for raw CAN frames and decoded
// vehicle-state samples. Every record is validated before it reaches
// the repository, so a rejected call persists nothing.
package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
	"fleet-monitor/telemetry/internal/store"
)

type Store struct {
	frames store.FrameRepository
	states store.StateRepository
	clock  clock.Clock
	log    *zap.Logger
}

func NewStore(frames store.FrameRepository, states store.StateRepository, c clock.Clock, log *zap.Logger) *Store {
	return &Store{frames: frames, states: states, clock: c, log: log}
}

// AppendFrame validates and persists one frame. Duplicate
// (deviceId, timestamp) pairs are kept.
func (s *Store) AppendFrame(ctx context.Context, f *domain.CANFrame) error {
	if err := f.Validate(); err != nil {
		metrics.ValidationRejects.Inc()
		return err
	}
	if err := s.frames.InsertFrame(ctx, f); err != nil {
		metrics.StorageFailures.Inc()
		return err
	}
	metrics.FramesIngested.Inc()
	s.log.Debug("can frame stored",
		zap.String("device_id", f.DeviceID),
		zap.String("can_id", f.CanID),
		zap.Int64("timestamp", f.Timestamp),
	)
	return nil
}

// AppendFrames validates the whole batch before writing any of it.
func (s *Store) AppendFrames(ctx context.Context, frames []domain.CANFrame) error {
	for i := range frames {
		if err := frames[i].Validate(); err != nil {
			metrics.ValidationRejects.Inc()
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	if len(frames) == 0 {
		return nil
	}
	if err := s.frames.InsertFrames(ctx, frames); err != nil {
		metrics.StorageFailures.Inc()
		return err
	}
	metrics.FramesIngested.Add(int64(len(frames)))
	s.log.Debug("can frame batch stored", zap.Int("count", len(frames)))
	return nil
}

func (s *Store) AppendState(ctx context.Context, st *domain.VehicleStateSample) error {
	if err := st.Validate(); err != nil {
		metrics.ValidationRejects.Inc()
		return err
	}
	if err := s.states.InsertState(ctx, st); err != nil {
		metrics.StorageFailures.Inc()
		return err
	}
	metrics.StatesIngested.Inc()
	s.log.Debug("vehicle state stored",
		zap.String("device_id", st.DeviceID),
		zap.Int64("timestamp", st.Timestamp),
	)
	return nil
}

// PruneOlderThan deletes the device's frames with timestamp < now-ageMs
// and returns how many were removed.
func (s *Store) PruneOlderThan(ctx context.Context, deviceID string, ageMs int64) (int64, error) {
	if deviceID == "" {
		return 0, &domain.ValidationError{Field: "deviceId", Reason: "required"}
	}
	if ageMs < 0 {
		return 0, &domain.ValidationError{Field: "ageMs", Reason: "must be >= 0"}
	}

	cutoff := clock.NowMillis(s.clock) - ageMs
	n, err := s.frames.DeleteFramesBefore(ctx, deviceID, cutoff)
	if err != nil {
		metrics.StorageFailures.Inc()
		return 0, err
	}
	s.log.Info("pruned old can frames",
		zap.String("device_id", deviceID),
		zap.Int64("cutoff", cutoff),
		zap.Int64("deleted", n),
	)
	return n, nil
}
