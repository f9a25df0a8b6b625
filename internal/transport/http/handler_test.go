package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/anomaly"
	"fleet-monitor/telemetry/internal/auth"
	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/query"
	"fleet-monitor/telemetry/internal/store"
	"fleet-monitor/telemetry/internal/telemetry"
)

const (
	keyTruck1 = "key-1"
	keyTruck2 = "key-2"
)

type sinkRecorder struct {
	got []domain.VehicleStateSample
}

func (s *sinkRecorder) SubmitState(st domain.VehicleStateSample) { s.got = append(s.got, st) }

type testServer struct {
	srv   *httptest.Server
	mem   *store.MemoryStore
	sink  *sinkRecorder
	clock *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	c := clock.Fake(time.UnixMilli(1_000_000))
	mem := store.NewMemoryStore()
	q := query.NewEngine(mem, mem, mem)
	sink := &sinkRecorder{}

	h := NewHandler(Deps{
		Telemetry: telemetry.NewStore(mem, mem, c, log),
		Query:     q,
		Ledger:    anomaly.NewLedger(mem, nil, c, log),
		Analytics: analytics.NewEngine(q, c),
		States:    sink,
		Health:    []Pinger{mem},
		Clock:     c,
		Log:       log,
	})
	cfg := &config.Config{
		AuthCacheTTLSeconds: 60,
		ValidAPIKeys:        map[string]string{keyTruck1: "truck-1", keyTruck2: "truck-2"},
	}
	authMW := NewAuthMiddleware(auth.NewAuthenticator(cfg, nil, c, log))

	srv := httptest.NewServer(NewRouter(h, authMW, log))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mem: mem, sink: sink, clock: c}
}

func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	req.Header.Set("X-Actor-ID", "ops-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/latest", "", nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/latest", "bogus", nil), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/latest", keyTruck2, nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestFrameIngestAndQuery(t *testing.T) {
	ts := newTestServer(t)

	for i, ts0 := range []int64{1000, 2000, 3000} {
		f := domain.CANFrame{Timestamp: ts0, CanID: "0x100", DLC: 2, Data: []int{i, 255}}
		expectStatus(t, ts.do(t, http.MethodPost, "/v1/can", keyTruck1, f), http.StatusCreated)
	}

	resp := ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/latest?limit=2", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	frames := decodeBody[[]domain.CANFrame](t, resp)
	if len(frames) != 2 || frames[0].Timestamp != 3000 || frames[0].DeviceID != "truck-1" {
		t.Fatalf("latest = %+v", frames)
	}

	resp = ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/range?startTime=1000&endTime=2000&order=asc", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	frames = decodeBody[[]domain.CANFrame](t, resp)
	if len(frames) != 2 || frames[0].Timestamp != 1000 || frames[1].Timestamp != 2000 {
		t.Fatalf("range = %+v", frames)
	}

	resp = ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/range?startTime=5&endTime=1", keyTruck1, nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestFrameRejections(t *testing.T) {
	ts := newTestServer(t)

	bad := domain.CANFrame{Timestamp: 1, CanID: "0x100", DLC: 1, Data: []int{256}}
	resp := ts.do(t, http.MethodPost, "/v1/can", keyTruck1, bad)
	expectStatus(t, resp, http.StatusBadRequest)
	if body := decodeBody[errorBody](t, resp); body.Field != "data" {
		t.Fatalf("field = %q", body.Field)
	}

	foreign := domain.CANFrame{Timestamp: 1, CanID: "0x100", DeviceID: "truck-2"}
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/can", keyTruck1, foreign), http.StatusForbidden)

	batch := []domain.CANFrame{
		{Timestamp: 1, CanID: "0x100"},
		{Timestamp: 2, CanID: "0x100", DLC: 9},
	}
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/can/batch", keyTruck1, batch), http.StatusBadRequest)

	frames, _ := ts.mem.LatestFrames(context.Background(), "truck-1", 10)
	if len(frames) != 0 {
		t.Fatalf("rejected input persisted: %+v", frames)
	}
}

func TestStateIngestFeedsSinkAndDefaultsTimestamp(t *testing.T) {
	ts := newTestServer(t)

	s := domain.VehicleStateSample{Speed: 40, RPM: 1800, Gear: 3, EngineStatus: domain.EngineOn}
	expectStatus(t, ts.do(t, http.MethodPost, "/v1/state", keyTruck1, s), http.StatusCreated)

	if len(ts.sink.got) != 1 || ts.sink.got[0].Timestamp != 1_000_000 {
		t.Fatalf("sink = %+v", ts.sink.got)
	}

	resp := ts.do(t, http.MethodGet, "/v1/devices/truck-1/state/latest", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[domain.VehicleStateSample](t, resp); got.RPM != 1800 {
		t.Fatalf("latest state = %+v", got)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-2/state/latest", keyTruck2, nil), http.StatusNotFound)
}

func TestTripStatistics(t *testing.T) {
	ts := newTestServer(t)

	zero, one := 0.0, 1.0
	for i, lon := range []*float64{&zero, &one} {
		s := domain.VehicleStateSample{
			Timestamp: int64(1000 * (i + 1)), Speed: float64(50 + 10*i), RPM: 2000,
			EngineStatus: domain.EngineOn, Latitude: &zero, Longitude: lon,
		}
		expectStatus(t, ts.do(t, http.MethodPost, "/v1/state", keyTruck1, s), http.StatusCreated)
	}

	resp := ts.do(t, http.MethodGet, "/v1/devices/truck-1/trip/statistics?startTime=0&endTime=5000", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	stats := decodeBody[analytics.TripStatistics](t, resp)
	if stats.SampleCount != 2 || stats.MaxSpeed != 60 || stats.DurationMs != 5000 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.DistanceKm < 111.1 || stats.DistanceKm > 111.3 {
		t.Fatalf("distance = %v", stats.DistanceKm)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-1/trip/statistics?startTime=9000&endTime=9999", keyTruck1, nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, "/v1/devices/truck-1/trip/statistics?startTime=0", keyTruck1, nil), http.StatusBadRequest)
}

func TestAnomalyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	a := domain.Anomaly{Timestamp: 900_000, Type: domain.AnomalyEngineInconsistency, Description: "engine off, rpm 800", Severity: domain.SeverityHigh}
	resp := ts.do(t, http.MethodPost, "/v1/anomalies", keyTruck1, a)
	expectStatus(t, resp, http.StatusCreated)
	rec := decodeBody[domain.Anomaly](t, resp)
	if rec.ID == "" || rec.Ack.Acknowledged {
		t.Fatalf("recorded = %+v", rec)
	}

	resp = ts.do(t, http.MethodGet, "/v1/devices/truck-1/anomalies/unacknowledged", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[[]domain.Anomaly](t, resp); len(got) != 1 {
		t.Fatalf("unacknowledged = %+v", got)
	}

	// Another device cannot acknowledge it.
	expectStatus(t, ts.do(t, http.MethodPatch, "/v1/anomalies/"+rec.ID+"/acknowledge", keyTruck2, nil), http.StatusNotFound)

	resp = ts.do(t, http.MethodPatch, "/v1/anomalies/"+rec.ID+"/acknowledge", keyTruck1, ackRequest{Notes: "checked"})
	expectStatus(t, resp, http.StatusOK)
	acked := decodeBody[domain.Anomaly](t, resp)
	if !acked.Ack.Acknowledged || acked.Ack.By != "ops-1" || acked.Ack.Notes != "checked" {
		t.Fatalf("ack = %+v", acked.Ack)
	}

	resp = ts.do(t, http.MethodGet, "/v1/devices/truck-1/anomalies/unacknowledged", keyTruck1, nil)
	if got := decodeBody[[]domain.Anomaly](t, resp); len(got) != 0 {
		t.Fatalf("still unacknowledged: %+v", got)
	}

	resp = ts.do(t, http.MethodGet, "/v1/devices/truck-1/anomalies/statistics", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	stats := decodeBody[[]analytics.AnomalyTypeStats](t, resp)
	if len(stats) != 1 || stats[0].Count != 1 || stats[0].AvgSeverity != 3 {
		t.Fatalf("stats = %+v", stats)
	}

	expectStatus(t, ts.do(t, http.MethodPatch, "/v1/anomalies/not-a-uuid/acknowledge", keyTruck1, nil), http.StatusNotFound)
}

func TestPruneFrames(t *testing.T) {
	ts := newTestServer(t)

	for _, at := range []int64{100_000, 999_000} {
		f := domain.CANFrame{Timestamp: at, CanID: "0x100"}
		expectStatus(t, ts.do(t, http.MethodPost, "/v1/can", keyTruck1, f), http.StatusCreated)
	}

	resp := ts.do(t, http.MethodDelete, "/v1/devices/truck-1/can?olderThanMs=10000", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[map[string]int64](t, resp); got["deleted"] != 1 {
		t.Fatalf("deleted = %v", got)
	}
	expectStatus(t, ts.do(t, http.MethodDelete, "/v1/devices/truck-1/can?olderThanMs=-1", keyTruck1, nil), http.StatusBadRequest)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestFramesByCanIDDefaultLimit(t *testing.T) {
	ts := newTestServer(t)

	frames := make([]domain.CANFrame, 0, 60)
	for i := 0; i < 60; i++ {
		frames = append(frames, domain.CANFrame{Timestamp: int64(i + 1), CanID: "0x101", DeviceID: "truck-1"})
	}
	frames = append(frames, domain.CANFrame{Timestamp: 100, CanID: "0x100", DeviceID: "truck-1"})
	if err := ts.mem.InsertFrames(context.Background(), frames); err != nil {
		t.Fatal(err)
	}

	resp := ts.do(t, http.MethodGet, "/v1/devices/truck-1/can/id/0x101", keyTruck1, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decodeBody[[]domain.CANFrame](t, resp)
	if len(got) != defaultCanIDLimit {
		t.Fatalf("returned %d frames, want %d", len(got), defaultCanIDLimit)
	}
	if got[0].Timestamp != 60 || got[0].CanID != "0x101" {
		t.Fatalf("first frame = %+v", got[0])
	}
}
