package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/anomaly"
	"fleet-monitor/telemetry/internal/clock"
	"fleet-monitor/telemetry/internal/domain"
	"fleet-monitor/telemetry/internal/query"
	"fleet-monitor/telemetry/internal/telemetry"
)

const (
	maxBodyBytes = 1 << 20
	maxBatch     = 1000

	defaultLogLimit     = 100
	defaultAnomalyLimit = 50
	defaultCanIDLimit   = 50
	defaultStatsWindow  = 24 * 60 * 60 * 1000
)

// StateSink receives every stored vehicle-state sample. Must not block.
type StateSink interface {
	SubmitState(s domain.VehicleStateSample)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	telemetry *telemetry.Store
	query     *query.Engine
	ledger    *anomaly.Ledger
	analytics *analytics.Engine
	states    StateSink
	health    []Pinger
	clock     clock.Clock
	log       *zap.Logger
}

type Deps struct {
	Telemetry *telemetry.Store
	Query     *query.Engine
	Ledger    *anomaly.Ledger
	Analytics *analytics.Engine
	// States is optional; nil disables server-side classification.
	States StateSink
	Health []Pinger
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		telemetry: d.Telemetry,
		query:     d.Query,
		ledger:    d.Ledger,
		analytics: d.Analytics,
		states:    d.States,
		health:    d.Health,
		clock:     d.Clock,
		log:       d.Log,
	}
}

// ownDevice fills an empty payload device id with the authenticated one
// and rejects a mismatch.
func ownDevice(w http.ResponseWriter, r *http.Request, payload *string) bool {
	authed := DeviceFromContext(r.Context())
	if *payload == "" {
		*payload = authed
	}
	if *payload != authed {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "deviceId does not match API key"})
		return false
	}
	return true
}

// pathDevice returns the {deviceID} URL parameter when it belongs to
// the caller.
func pathDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "deviceID")
	if id != DeviceFromContext(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "device not accessible with this API key"})
		return "", false
	}
	return id, true
}

func (h *Handler) stamp(ts *int64) {
	if *ts == 0 {
		*ts = clock.NowMillis(h.clock)
	}
}

func (h *Handler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	var f domain.CANFrame
	if err := decode(w, r, &f); err != nil {
		h.writeError(w, err)
		return
	}
	if !ownDevice(w, r, &f.DeviceID) {
		return
	}
	h.stamp(&f.Timestamp)

	if err := h.telemetry.AppendFrame(r.Context(), &f); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *Handler) HandleFrameBatch(w http.ResponseWriter, r *http.Request) {
	var frames []domain.CANFrame
	if err := decode(w, r, &frames); err != nil {
		h.writeError(w, err)
		return
	}
	if len(frames) > maxBatch {
		h.writeError(w, &domain.ValidationError{Field: "body", Reason: "batch too large"})
		return
	}
	for i := range frames {
		if !ownDevice(w, r, &frames[i].DeviceID) {
			return
		}
		h.stamp(&frames[i].Timestamp)
	}

	if err := h.telemetry.AppendFrames(r.Context(), frames); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"stored": len(frames)})
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	var s domain.VehicleStateSample
	if err := decode(w, r, &s); err != nil {
		h.writeError(w, err)
		return
	}
	if !ownDevice(w, r, &s.DeviceID) {
		return
	}
	h.stamp(&s.Timestamp)

	if err := h.telemetry.AppendState(r.Context(), &s); err != nil {
		h.writeError(w, err)
		return
	}
	if h.states != nil {
		h.states.SubmitState(s)
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) HandleAnomaly(w http.ResponseWriter, r *http.Request) {
	var a domain.Anomaly
	if err := decode(w, r, &a); err != nil {
		h.writeError(w, err)
		return
	}
	if !ownDevice(w, r, &a.DeviceID) {
		return
	}
	h.stamp(&a.Timestamp)

	rec, err := h.ledger.Record(r.Context(), &a)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) HandleLatestFrames(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	frames, err := h.query.LatestFrames(r.Context(), deviceID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (h *Handler) HandleFrameRange(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	order, err := domain.ParseOrder(r.URL.Query().Get("order"), domain.Descending)
	if err != nil {
		h.writeError(w, err)
		return
	}
	frames, err := h.query.FramesInRange(r.Context(), deviceID, start, end, order)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (h *Handler) HandleFramesByCanID(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultCanIDLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	frames, err := h.query.FramesByCanID(r.Context(), deviceID, chi.URLParam(r, "canID"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (h *Handler) HandlePruneFrames(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	age, err := queryInt64(r, "olderThanMs", 0, true)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.telemetry.PruneOlderThan(r.Context(), deviceID, age)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) HandleLatestState(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	s, err := h.query.LatestState(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) HandleStateHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	states, err := h.query.LatestStates(r.Context(), deviceID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) HandleStateRange(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	order, err := domain.ParseOrder(r.URL.Query().Get("order"), domain.Descending)
	if err != nil {
		h.writeError(w, err)
		return
	}
	states, err := h.query.StatesInRange(r.Context(), deviceID, start, end, order)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) HandleTrip(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	samples, err := h.analytics.Trip(r.Context(), deviceID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// HandleTripStatistics answers 404 for a window without samples.
func (h *Handler) HandleTripStatistics(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	start, end, err := timeRange(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats, err := h.analytics.TripStatistics(r.Context(), deviceID, start, end)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if stats == nil {
		h.writeError(w, &domain.NotFoundError{Kind: "trip data for device", Key: deviceID})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleLatestAnomalies(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultAnomalyLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	anomalies, err := h.ledger.ListLatest(r.Context(), deviceID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) HandleUnacknowledged(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	anomalies, err := h.ledger.ListUnacknowledged(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) HandleAnomalyStatistics(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathDevice(w, r)
	if !ok {
		return
	}
	window, err := queryInt64(r, "timeRange", defaultStatsWindow, false)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats, err := h.analytics.AnomalyStatistics(r.Context(), deviceID, window)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type ackRequest struct {
	Notes string `json:"notes"`
}

// HandleAcknowledge takes the actor from X-Actor-ID. The anomaly must
// belong to the authenticated device.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "anomalyID")

	var req ackRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, err)
			return
		}
	}

	existing, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if existing.DeviceID != DeviceFromContext(r.Context()) {
		// Same answer as a missing id so foreign ids are not probeable.
		h.writeError(w, &domain.NotFoundError{Kind: "anomaly", Key: id})
		return
	}

	a, err := h.ledger.Acknowledge(r.Context(), id, r.Header.Get("X-Actor-ID"), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.health {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
