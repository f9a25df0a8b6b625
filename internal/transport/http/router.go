package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/metrics"
)

func NewRouter(h *Handler, authMW *AuthMiddleware, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/metrics", metrics.HandleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMW.Wrap)

		r.Post("/can", h.HandleFrame)
		r.Post("/can/batch", h.HandleFrameBatch)
		r.Post("/state", h.HandleState)
		r.Post("/anomalies", h.HandleAnomaly)
		r.Patch("/anomalies/{anomalyID}/acknowledge", h.HandleAcknowledge)

		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Get("/can/latest", h.HandleLatestFrames)
			r.Get("/can/range", h.HandleFrameRange)
			r.Get("/can/id/{canID}", h.HandleFramesByCanID)
			r.Delete("/can", h.HandlePruneFrames)

			r.Get("/state/latest", h.HandleLatestState)
			r.Get("/state/history", h.HandleStateHistory)
			r.Get("/state/range", h.HandleStateRange)

			r.Get("/trip", h.HandleTrip)
			r.Get("/trip/statistics", h.HandleTripStatistics)

			r.Get("/anomalies/latest", h.HandleLatestAnomalies)
			r.Get("/anomalies/unacknowledged", h.HandleUnacknowledged)
			r.Get("/anomalies/statistics", h.HandleAnomalyStatistics)
		})
	})

	return r
}
