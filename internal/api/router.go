package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/api/handler"
	apimw "github.com/notifyhub/actionqueue/internal/api/middleware"
	"github.com/notifyhub/actionqueue/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.JobService,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)         // recover panics, return 500
	r.Use(chimw.RealIP)            // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)     // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	jh := handler.NewJobHandler(svc, logger)
	qh := handler.NewQueueHandler(svc, logger)
	eh := handler.NewExecutionHandler(svc, logger)
	hh := handler.NewHealthHandler(func() bool { return svc.Snapshot().Started })

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", jh.Submit)
		r.Get("/jobs/{id}/progress", jh.Progress)
		r.Delete("/jobs/{id}", jh.Cancel)

		r.Get("/queue", qh.Get)
		r.Post("/queue/start", qh.Start)
		r.Post("/queue/stop", qh.Stop)

		r.Get("/executions", eh.List)
		r.Get("/executions/{id}", eh.GetByID)
	})

	return r
}
