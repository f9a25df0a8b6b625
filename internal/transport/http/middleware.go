package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fleet-monitor/telemetry/internal/auth"
)

type ctxKey int

const deviceKey ctxKey = iota

// DeviceFromContext returns the device authenticated for the request.
func DeviceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey).(string)
	return id
}

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing X-API-Key header"})
			return
		}

		deviceID, ok := m.auth.Resolve(r.Context(), apiKey)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid API key"})
			return
		}

		ctx := context.WithValue(r.Context(), deviceKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
