package query

import (
	"context"
	"errors"
	"testing"

	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/store"
)

func seed(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()

	frames := []domain.CANFrame{
		{Timestamp: 999, CanID: "0x100", DeviceID: "truck-1"},
		{Timestamp: 1000, CanID: "0x100", DeviceID: "truck-1"},
		{Timestamp: 1500, CanID: "0x200", DeviceID: "truck-1"},
		{Timestamp: 2000, CanID: "0x100", DeviceID: "truck-1"},
		{Timestamp: 2001, CanID: "0x100", DeviceID: "truck-1"},
		{Timestamp: 1500, CanID: "0x100", DeviceID: "truck-2"},
	}
	if err := mem.InsertFrames(ctx, frames); err != nil {
		t.Fatal(err)
	}
	for _, ts := range []int64{1000, 1200, 3000} {
		st := domain.VehicleStateSample{Timestamp: ts, DeviceID: "truck-1", EngineStatus: domain.EngineOn}
		if err := mem.InsertState(ctx, &st); err != nil {
			t.Fatal(err)
		}
	}
	return NewEngine(mem, mem, mem), mem
}

func frameTimestamps(frames []domain.CANFrame) []int64 {
	out := make([]int64, len(frames))
	for i, f := range frames {
		out[i] = f.Timestamp
	}
	return out
}

func sameInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRangeIsInclusiveAndDeviceScoped(t *testing.T) {
	e, _ := seed(t)
	ctx := context.Background()

	asc, err := e.FramesInRange(ctx, "truck-1", 1000, 2000, domain.Ascending)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1000, 1500, 2000}; !sameInts(frameTimestamps(asc), want) {
		t.Fatalf("ascending = %v, want %v", frameTimestamps(asc), want)
	}

	desc, err := e.FramesInRange(ctx, "truck-1", 1000, 2000, domain.Descending)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{2000, 1500, 1000}; !sameInts(frameTimestamps(desc), want) {
		t.Fatalf("descending = %v, want %v", frameTimestamps(desc), want)
	}

	single, _ := e.FramesInRange(ctx, "truck-1", 1500, 1500, domain.Ascending)
	if len(single) != 1 || single[0].CanID != "0x200" {
		t.Fatalf("point range = %+v", single)
	}
}

func TestRangeRejectsInvertedBounds(t *testing.T) {
	e, _ := seed(t)
	ctx := context.Background()

	if _, err := e.FramesInRange(ctx, "truck-1", 2000, 1000, domain.Ascending); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("frames: %v", err)
	}
	if _, err := e.StatesInRange(ctx, "truck-1", 2, 1, domain.Ascending); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("states: %v", err)
	}
	if _, err := e.AnomaliesInRange(ctx, "truck-1", 2, 1, domain.Descending); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("anomalies: %v", err)
	}
}

func TestLatestLimits(t *testing.T) {
	e, _ := seed(t)
	ctx := context.Background()

	tests := []struct {
		limit int
		want  []int64
	}{
		{limit: 0, want: []int64{}},
		{limit: -1, want: []int64{}},
		{limit: 2, want: []int64{2001, 2000}},
		{limit: 100, want: []int64{2001, 2000, 1500, 1000, 999}},
	}
	for _, tt := range tests {
		got, err := e.LatestFrames(ctx, "truck-1", tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if !sameInts(frameTimestamps(got), tt.want) {
			t.Errorf("LatestFrames(limit=%d) = %v, want %v", tt.limit, frameTimestamps(got), tt.want)
		}
	}
}

func TestFramesByCanID(t *testing.T) {
	e, _ := seed(t)
	ctx := context.Background()

	got, _ := e.FramesByCanID(ctx, "truck-1", "0x100", 3)
	if want := []int64{2001, 2000, 1000}; !sameInts(frameTimestamps(got), want) {
		t.Fatalf("FramesByCanID = %v, want %v", frameTimestamps(got), want)
	}
	if got, _ := e.FramesByCanID(ctx, "truck-1", "0x100", 0); len(got) != 0 {
		t.Fatalf("limit 0 returned %d", len(got))
	}
	if got, _ := e.FramesByCanID(ctx, "truck-1", "0x7FF", 10); len(got) != 0 {
		t.Fatalf("unknown can id returned %d", len(got))
	}
}

func TestLatestState(t *testing.T) {
	e, _ := seed(t)
	ctx := context.Background()

	st, err := e.LatestState(ctx, "truck-1")
	if err != nil || st.Timestamp != 3000 {
		t.Fatalf("LatestState = %+v, %v", st, err)
	}
	if _, err := e.LatestState(ctx, "truck-9"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown device: %v", err)
	}

	states, _ := e.StatesInRange(ctx, "truck-1", 1000, 1200, domain.Ascending)
	if len(states) != 2 || states[0].Timestamp != 1000 {
		t.Fatalf("StatesInRange = %+v", states)
	}
}
