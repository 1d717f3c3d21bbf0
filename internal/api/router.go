package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ratnathegod/cloud-cost-router/internal/docs"
	"github.com/ratnathegod/cloud-cost-router/internal/providers"
	"github.com/ratnathegod/cloud-cost-router/internal/telemetry"
)

type RouterOptions struct {
	Providers  *providers.Set
	Metrics    *telemetry.Metrics
	AdminToken string
}

// NewRouter wires every public route. The admin API is mounted only when a
// token is configured.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(telemetry.RequestIDMiddleware)
	r.Use(opts.Metrics.Middleware)
	r.Use(EnableCORS)

	r.Get("/v1/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readyz", HandleReady(opts.Providers))
	r.Handle("/metrics", opts.Metrics.Handler())

	costs := HandleCosts(opts.Providers, opts.Metrics)
	r.Post("/costs", costs)
	r.Post("/v1/costs", costs)

	r.Mount("/docs", docs.Handler())

	if opts.AdminToken != "" {
		admin := chi.NewRouter()
		admin.Use(AdminAuth(opts.AdminToken))
		admin.Get("/status", HandleAdminStatus(opts.Providers))
		r.Mount("/v1/admin", admin)
	}
	return r
}
