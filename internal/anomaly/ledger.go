// Package anomaly records classified anomalies and drives their
// acknowledgment lifecycle: Unacknowledged -> Acknowledged, with no way
// back. Re-acknowledging overwrites the actor, time and notes.
package anomaly

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/metrics"
	"fleet-monitor/telemetry/internal/store"
)

// Publisher receives HIGH severity anomalies after they are stored.
// PublishAnomaly must not block; delivery is best effort.
type Publisher interface {
	PublishAnomaly(a domain.Anomaly)
}

type Ledger struct {
	repo      store.AnomalyRepository
	publisher Publisher
	clock     clock.Clock
	log       *zap.Logger
}

// NewLedger builds a ledger. publisher may be nil, in which case HIGH
// severity anomalies are only logged.
func NewLedger(repo store.AnomalyRepository, publisher Publisher, c clock.Clock, log *zap.Logger) *Ledger {
	return &Ledger{repo: repo, publisher: publisher, clock: c, log: log}
}

// Record stores a new unacknowledged anomaly. The caller's ID,
// CreatedAt and acknowledgment fields are replaced.
func (l *Ledger) Record(ctx context.Context, a *domain.Anomaly) (*domain.Anomaly, error) {
	if err := a.Validate(); err != nil {
		metrics.ValidationRejects.Inc()
		return nil, err
	}

	rec := *a
	rec.ID = uuid.NewString()
	rec.CreatedAt = clock.NowMillis(l.clock)
	rec.Ack = domain.Acknowledgment{}

	if err := l.repo.InsertAnomaly(ctx, &rec); err != nil {
		metrics.StorageFailures.Inc()
		return nil, err
	}
	metrics.AnomaliesRecorded.Inc()

	l.log.Warn("anomaly recorded",
		zap.String("anomaly_id", rec.ID),
		zap.String("device_id", rec.DeviceID),
		zap.String("type", string(rec.Type)),
		zap.Stringer("severity", rec.Severity),
	)

	if rec.Severity == domain.SeverityHigh {
		if l.publisher != nil {
			l.publisher.PublishAnomaly(rec)
		} else {
			l.log.Info("no publisher configured, high severity anomaly not forwarded",
				zap.String("anomaly_id", rec.ID))
		}
	}
	return &rec, nil
}

// Acknowledge marks the anomaly acknowledged by actorID at the current
// time. Acknowledging twice succeeds and the later call wins.
func (l *Ledger) Acknowledge(ctx context.Context, anomalyID, actorID, notes string) (*domain.Anomaly, error) {
	if actorID == "" {
		return nil, &domain.ValidationError{Field: "actorId", Reason: "required"}
	}
	id, err := canonicalID(anomalyID)
	if err != nil {
		return nil, err
	}

	at := clock.NowMillis(l.clock)
	a, err := l.repo.AcknowledgeAnomaly(ctx, id, domain.Acknowledgment{
		Acknowledged: true,
		By:           actorID,
		At:           &at,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("anomaly acknowledged",
		zap.String("anomaly_id", id),
		zap.String("actor_id", actorID),
	)
	return a, nil
}

func (l *Ledger) Get(ctx context.Context, anomalyID string) (*domain.Anomaly, error) {
	id, err := canonicalID(anomalyID)
	if err != nil {
		return nil, err
	}
	return l.repo.GetAnomaly(ctx, id)
}

// canonicalID normalises any accepted UUID spelling (braces, urn:uuid:,
// upper case) to the lowercase hyphenated form ids are stored under.
func canonicalID(raw string) (string, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", &domain.NotFoundError{Kind: "anomaly", Key: raw}
	}
	return parsed.String(), nil
}

// ListUnacknowledged orders highest severity first, then most recent.
func (l *Ledger) ListUnacknowledged(ctx context.Context, deviceID string) ([]domain.Anomaly, error) {
	return l.repo.UnacknowledgedAnomalies(ctx, deviceID)
}

func (l *Ledger) ListLatest(ctx context.Context, deviceID string, limit int) ([]domain.Anomaly, error) {
	if limit <= 0 {
		return []domain.Anomaly{}, nil
	}
	return l.repo.LatestAnomalies(ctx, deviceID, limit)
}
