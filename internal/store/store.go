package store

import (
	"context"

	"fleet-monitor/telemetry/internal/domain"
)

// Every read is scoped to one device. Latest-style reads order by
// timestamp descending with later inserts first on ties; range reads
// honour the requested order, ties following insertion order in that
// direction. A limit <= 0 yields no rows.

type FrameRepository interface {
	InsertFrame(ctx context.Context, f *domain.CANFrame) error
	InsertFrames(ctx context.Context, frames []domain.CANFrame) error
	LatestFrames(ctx context.Context, deviceID string, limit int) ([]domain.CANFrame, error)
	FramesByCanID(ctx context.Context, deviceID, canID string, limit int) ([]domain.CANFrame, error)
	FramesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.CANFrame, error)
	DeleteFramesBefore(ctx context.Context, deviceID string, cutoff int64) (int64, error)
}

type StateRepository interface {
	InsertState(ctx context.Context, s *domain.VehicleStateSample) error
	LatestStates(ctx context.Context, deviceID string, limit int) ([]domain.VehicleStateSample, error)
	StatesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.VehicleStateSample, error)
}

type AnomalyRepository interface {
	InsertAnomaly(ctx context.Context, a *domain.Anomaly) error
	GetAnomaly(ctx context.Context, id string) (*domain.Anomaly, error)
	// AcknowledgeAnomaly overwrites the acknowledgment and returns the
	// updated record, or a domain.NotFoundError.
	AcknowledgeAnomaly(ctx context.Context, id string, ack domain.Acknowledgment) (*domain.Anomaly, error)
	LatestAnomalies(ctx context.Context, deviceID string, limit int) ([]domain.Anomaly, error)
	AnomaliesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.Anomaly, error)
	// UnacknowledgedAnomalies orders by severity then timestamp, both
	// descending.
	UnacknowledgedAnomalies(ctx context.Context, deviceID string) ([]domain.Anomaly, error)
}

// Store is the full durable backend.
type Store interface {
	FrameRepository
	StateRepository
	AnomalyRepository
	Ping(ctx context.Context) error
	Close()
}
