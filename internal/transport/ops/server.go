// Package ops serves the operational HTTP surface: liveness, readiness
// backed by component health checks, and Prometheus metrics.
package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/issuepilot/internal/logger"
	"github.com/kailas-cloud/issuepilot/internal/metrics"
	healthuc "github.com/kailas-cloud/issuepilot/internal/usecase/health"
)

// NewRouter assembles the ops router. Auth tokens guard /metrics; the health
// endpoints stay open so probes work without credentials. Empty tokens
// disable authentication.
func NewRouter(health *healthuc.Service, logger *zap.Logger, authTokens []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogMiddleware(logger))
	r.Use(BearerAuthMiddleware(authTokens))
	r.Use(metrics.Middleware())

	r.Get("/healthz", handleLiveness)
	r.Get("/readyz", handleReadiness(health))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports 503 until every component check passes.
func handleReadiness(health *healthuc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())

		resp := readinessResponse{
			Status: string(report.Status),
			Checks: make(map[string]string, len(report.Checks)),
		}
		for name, result := range report.Checks {
			resp.Checks[name] = string(result)
		}

		status := http.StatusOK
		if report.Status != healthuc.Healthy {
			status = http.StatusServiceUnavailable
			logpkg.FromContext(r.Context()).Warn("Readiness check failed",
				zap.Any("checks", resp.Checks))
		}
		writeJSON(w, status, resp)
	}
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeJSON(w, http.StatusInternalServerError, map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogMiddleware propagates X-Request-ID, stores a request-scoped
// logger in the context, and emits one debug line per request.
func requestLogMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Debug("ops_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}
