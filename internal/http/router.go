package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/equipment-availability/internal/metrics"
)

type RouterConfig struct {
	Availability *AvailabilityHandler
	Reservations *ReservationHandler
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
	RateLimiter *IPRateLimiter
	Logger      *slog.Logger
	// Middleware runs after the built-in stack, outermost first.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	notFound := newResponder(logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		RequestID(),
		RequestLogger(logger),
		Recoverer(logger),
		Instrument(cfg.Metrics),
	)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		notFound.writeJSON(req.Context(), w, http.StatusNotFound, errorResponse{
			ErrorCode: "NOT_FOUND",
			Message:   localizedStatusMessage(http.StatusNotFound),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		notFound.writeJSON(req.Context(), w, http.StatusMethodNotAllowed, errorResponse{
			ErrorCode: "METHOD_NOT_ALLOWED",
			Message:   localizedStatusMessage(http.StatusMethodNotAllowed),
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		notFound.writeJSON(req.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimiter, logger))

		if h := cfg.Availability; h != nil {
			r.Post("/availability/check", h.Check)
			r.Post("/availability/batch", h.Batch)
			r.Post("/alternatives", h.Alternatives)
		}

		if h := cfg.Reservations; h != nil {
			r.Post("/holds", h.Hold)
			r.Post("/holds/{reservationID}/confirm", h.Confirm)
			r.Route("/reservations/{reservationID}", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Delete("/", h.Cancel)
				r.Post("/reschedule", h.Reschedule)
			})
			r.Get("/projects/{projectID}/reservations", h.ListForProject)
		}
	})

	return r
}
