// internal/api/router.go
package api

import (
	"context"
	"net/http"

	"leader-intake/internal/common/config"
	"leader-intake/internal/common/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	AllowedOrigins []string
	RateLimit      config.RateLimitConfig
	// Ready backs /ready; nil means always ready.
	Ready func(ctx context.Context) error
	// Limiter overrides the limiter built from RateLimit.
	Limiter *RateLimiter
}

// NewRouter wires the public and admin routes, the operational endpoints and
// the middleware chain. CORS wraps the router so preflight requests are
// answered before route matching.
func NewRouter(h *Handler, opts RouterOptions, log logger.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(RequestLogger(log))
	r.Use(Metrics())

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", ReadyHandler(opts.Ready)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/slots", h.ListSlots).Methods(http.MethodGet)
	apiRouter.HandleFunc("/slots", h.InitializeSlots).Methods(http.MethodPost)
	apiRouter.HandleFunc("/slots/summary", h.SlotSummary).Methods(http.MethodGet)

	var submit http.Handler = http.HandlerFunc(h.SubmitApplication)
	limiter := opts.Limiter
	if limiter == nil && opts.RateLimit.Enabled {
		limiter = NewRateLimiter(opts.RateLimit.RequestsPerMinute, opts.RateLimit.Burst, log)
	}
	if limiter != nil {
		submit = limiter.Handler(submit)
	}
	apiRouter.Handle("/applications", submit).Methods(http.MethodPost)
	apiRouter.HandleFunc("/applications", h.ListApplications).Methods(http.MethodGet)
	apiRouter.HandleFunc("/applications/{id}", h.GetApplication).Methods(http.MethodGet)
	apiRouter.HandleFunc("/applications/{id}", h.UpdateApplicationStatus).Methods(http.MethodPatch)

	return NewCORS(opts.AllowedOrigins).Handler(r)
}
