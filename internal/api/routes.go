package api

import (
	"net/http"

	"classifier/internal/health"
	"classifier/internal/job"
	"classifier/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService     *job.Service
	Metrics        *observability.Metrics
	HealthChecker  *health.Checker
	APIKey         string
	AllowedOrigins []string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.Metrics, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Service banner
	mux.HandleFunc("GET /{$}", handler.Root)

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs", authMiddleware(http.HandlerFunc(handler.SubmitJob)))
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))
	mux.Handle("GET /v1/jobs/{jobId}/events", authMiddleware(http.HandlerFunc(handler.StreamJob)))
	mux.Handle("POST /v1/jobs/{jobId}/retry", authMiddleware(http.HandlerFunc(handler.RetryJob)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = CORSMiddleware(cfg.AllowedOrigins)(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
