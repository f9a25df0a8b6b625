package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/query"
	"fleet-monitor/telemetry/internal/store"
)

func f64(v float64) *float64 { return &v }

func newTestEngine(t *testing.T, now int64) (*Engine, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	q := query.NewEngine(mem, mem, mem)
	return NewEngine(q, clock.Fake(time.UnixMilli(now))), mem
}

func addState(t *testing.T, mem *store.MemoryStore, s domain.VehicleStateSample) {
	t.Helper()
	if s.DeviceID == "" {
		s.DeviceID = "truck-1"
	}
	if s.EngineStatus == "" {
		s.EngineStatus = domain.EngineOn
	}
	if err := mem.InsertState(context.Background(), &s); err != nil {
		t.Fatal(err)
	}
}

func near(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestHaversineOneDegreeAtEquator(t *testing.T) {
	if d := Haversine(0, 0, 0, 1); !near(d, 111.19, 0.01) {
		t.Fatalf("Haversine = %.4f, want ~111.19", d)
	}
	if d := Haversine(12.97, 77.59, 12.97, 77.59); d != 0 {
		t.Fatalf("zero leg = %v", d)
	}
}

func TestTripStatisticsEmptyWindow(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	stats, err := e.TripStatistics(context.Background(), "truck-1", 0, 1000)
	if err != nil || stats != nil {
		t.Fatalf("TripStatistics = %+v, %v; want nil, nil", stats, err)
	}
}

func TestTripStatisticsTwoPoints(t *testing.T) {
	e, mem := newTestEngine(t, 0)
	addState(t, mem, domain.VehicleStateSample{Timestamp: 1000, Speed: 40, RPM: 1500, Latitude: f64(0), Longitude: f64(0)})
	addState(t, mem, domain.VehicleStateSample{Timestamp: 2000, Speed: 80, RPM: 3000, Fault: true, Latitude: f64(0), Longitude: f64(1)})

	stats, err := e.TripStatistics(context.Background(), "truck-1", 500, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if !near(stats.DistanceKm, 111.19, 0.01) {
		t.Errorf("distance = %.4f", stats.DistanceKm)
	}
	if stats.DurationMs != 4500 {
		t.Errorf("duration = %d, want requested window 4500", stats.DurationMs)
	}
	if stats.MaxSpeed != 80 || stats.AvgSpeed != 60 {
		t.Errorf("speed max/avg = %v/%v", stats.MaxSpeed, stats.AvgSpeed)
	}
	if stats.MaxRPM != 3000 || stats.AvgRPM != 2250 {
		t.Errorf("rpm max/avg = %v/%v", stats.MaxRPM, stats.AvgRPM)
	}
	if stats.FaultCount != 1 || stats.SampleCount != 2 {
		t.Errorf("faults/samples = %d/%d", stats.FaultCount, stats.SampleCount)
	}
}

func TestTripDistanceSkipsLegsWithoutLocation(t *testing.T) {
	e, mem := newTestEngine(t, 0)
	// Inserted out of order: the engine must walk them by timestamp.
	addState(t, mem, domain.VehicleStateSample{Timestamp: 4000, Latitude: f64(0), Longitude: f64(2)})
	addState(t, mem, domain.VehicleStateSample{Timestamp: 1000, Latitude: f64(0), Longitude: f64(0)})
	addState(t, mem, domain.VehicleStateSample{Timestamp: 2000, Latitude: f64(0), Longitude: f64(1)})
	addState(t, mem, domain.VehicleStateSample{Timestamp: 3000})

	stats, err := e.TripStatistics(context.Background(), "truck-1", 0, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	// Only the 1000->2000 leg has both ends located; 2000->3000 and
	// 3000->4000 are skipped rather than bridged.
	if !near(stats.DistanceKm, 111.19, 0.01) {
		t.Fatalf("distance = %.4f, want ~111.19", stats.DistanceKm)
	}
}

func TestTripStatisticsInvalidRange(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	if _, err := e.TripStatistics(context.Background(), "truck-1", 10, 5); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("got %v, want ErrInvalidRange", err)
	}
}

func TestAnomalyStatistics(t *testing.T) {
	const now = 1_000_000
	e, mem := newTestEngine(t, now)
	ctx := context.Background()

	add := func(id string, ts int64, typ domain.AnomalyType, sev domain.Severity) {
		a := domain.Anomaly{ID: id, Timestamp: ts, DeviceID: "truck-1", Type: typ, Description: id, Severity: sev}
		if err := mem.InsertAnomaly(ctx, &a); err != nil {
			t.Fatal(err)
		}
	}
	add("a", now-100, domain.AnomalyRPMSpike, domain.SeverityLow)
	add("b", now-50, domain.AnomalyRPMSpike, domain.SeverityMedium)
	add("c", now, domain.AnomalyRPMSpike, domain.SeverityHigh)
	add("d", now-10, domain.AnomalyEngineInconsistency, domain.SeverityHigh)
	add("e", now-1000, domain.AnomalySpeedExceed, domain.SeverityHigh)
	add("f", now+1, domain.AnomalySpeedExceed, domain.SeverityHigh)

	stats, err := e.AnomalyStatistics(ctx, "truck-1", 100)
	if err != nil {
		t.Fatal(err)
	}
	want := []AnomalyTypeStats{
		{Type: domain.AnomalyEngineInconsistency, Count: 1, AvgSeverity: 3},
		{Type: domain.AnomalyRPMSpike, Count: 3, AvgSeverity: 2},
	}
	if len(stats) != len(want) {
		t.Fatalf("stats = %+v", stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}

	if _, err := e.AnomalyStatistics(ctx, "truck-1", -1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative window: %v", err)
	}
}

func TestAnomalyStatisticsFollowsClock(t *testing.T) {
	mem := store.NewMemoryStore()
	c := clock.Fake(time.UnixMilli(1000))
	e := NewEngine(query.NewEngine(mem, mem, mem), c)
	ctx := context.Background()

	a := domain.Anomaly{ID: "x", Timestamp: 1000, DeviceID: "truck-1", Type: domain.AnomalyCANFrequency, Description: "x", Severity: domain.SeverityLow}
	_ = mem.InsertAnomaly(ctx, &a)

	if stats, _ := e.AnomalyStatistics(ctx, "truck-1", 500); len(stats) != 1 {
		t.Fatalf("anomaly at now not counted: %+v", stats)
	}
	c.Advance(501 * time.Millisecond)
	if stats, _ := e.AnomalyStatistics(ctx, "truck-1", 500); len(stats) != 0 {
		t.Fatalf("anomaly outside trailing window counted: %+v", stats)
	}
}
