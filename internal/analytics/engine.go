// Package analytics aggregates stored telemetry: trip statistics over
// vehicle-state samples and per-type anomaly summaries.
package analytics

import (
	"context"
	"sort"

	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/domain"
)

// Source is the slice of the query engine analytics reads from.
type Source interface {
	StatesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.VehicleStateSample, error)
	AnomaliesInRange(ctx context.Context, deviceID string, start, end int64, order domain.Order) ([]domain.Anomaly, error)
}

type Engine struct {
	source Source
	clock  clock.Clock
}

func NewEngine(source Source, c clock.Clock) *Engine {
	return &Engine{source: source, clock: c}
}

type TripStatistics struct {
	// DurationMs is the requested window, not the span covered by data.
	DurationMs  int64   `json:"duration"`
	DistanceKm  float64 `json:"distance"`
	MaxSpeed    float64 `json:"maxSpeed"`
	AvgSpeed    float64 `json:"avgSpeed"`
	MaxRPM      float64 `json:"maxRpm"`
	AvgRPM      float64 `json:"avgRpm"`
	FaultCount  int     `json:"faultCount"`
	SampleCount int     `json:"sampleCount"`
}

type AnomalyTypeStats struct {
	Type        domain.AnomalyType `json:"type"`
	Count       int                `json:"count"`
	AvgSeverity float64            `json:"avgSeverity"`
}

// Trip returns the samples of the window in ascending order.
func (e *Engine) Trip(ctx context.Context, deviceID string, start, end int64) ([]domain.VehicleStateSample, error) {
	return e.source.StatesInRange(ctx, deviceID, start, end, domain.Ascending)
}

// TripStatistics returns nil, nil when the window holds no samples.
func (e *Engine) TripStatistics(ctx context.Context, deviceID string, start, end int64) (*TripStatistics, error) {
	samples, err := e.Trip(ctx, deviceID, start, end)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	stats := &TripStatistics{
		DurationMs:  end - start,
		DistanceKm:  Distance(samples),
		MaxSpeed:    samples[0].Speed,
		MaxRPM:      samples[0].RPM,
		SampleCount: len(samples),
	}

	var speedSum, rpmSum float64
	for i := range samples {
		s := &samples[i]
		speedSum += s.Speed
		rpmSum += s.RPM
		if s.Speed > stats.MaxSpeed {
			stats.MaxSpeed = s.Speed
		}
		if s.RPM > stats.MaxRPM {
			stats.MaxRPM = s.RPM
		}
		if s.Fault {
			stats.FaultCount++
		}
	}
	n := float64(len(samples))
	stats.AvgSpeed = speedSum / n
	stats.AvgRPM = rpmSum / n

	return stats, nil
}

// Distance sums Haversine legs between consecutive samples. A leg
// counts only when both ends carry a location; others contribute zero.
func Distance(samples []domain.VehicleStateSample) float64 {
	var total float64
	for i := 1; i < len(samples); i++ {
		prev, cur := &samples[i-1], &samples[i]
		if !prev.HasLocation() || !cur.HasLocation() {
			continue
		}
		total += Haversine(*prev.Latitude, *prev.Longitude, *cur.Latitude, *cur.Longitude)
	}
	return total
}

// AnomalyStatistics groups anomalies in [now-windowMs, now] by type,
// sorted by type name.
func (e *Engine) AnomalyStatistics(ctx context.Context, deviceID string, windowMs int64) ([]AnomalyTypeStats, error) {
	if windowMs < 0 {
		return nil, &domain.ValidationError{Field: "windowMs", Reason: "must be >= 0"}
	}

	now := clock.NowMillis(e.clock)
	anomalies, err := e.source.AnomaliesInRange(ctx, deviceID, now-windowMs, now, domain.Ascending)
	if err != nil {
		return nil, err
	}

	type acc struct {
		count       int
		severitySum int
	}
	groups := make(map[domain.AnomalyType]*acc)
	for i := range anomalies {
		a := &anomalies[i]
		g, ok := groups[a.Type]
		if !ok {
			g = &acc{}
			groups[a.Type] = g
		}
		g.count++
		g.severitySum += int(a.Severity)
	}

	out := make([]AnomalyTypeStats, 0, len(groups))
	for t, g := range groups {
		out = append(out, AnomalyTypeStats{
			Type:        t,
			Count:       g.count,
			AvgSeverity: float64(g.severitySum) / float64(g.count),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
