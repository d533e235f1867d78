package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perfeval-dashboard/internal/handlers"
	"perfeval-dashboard/internal/middleware"
	"perfeval-dashboard/internal/websocket"
)

type Options struct {
	FrontendURL      string
	CommandRateLimit int // per client per minute; 0 disables
	Gatherer         prometheus.Gatherer
	// Health reports dependency problems; nil means always healthy.
	Health func(r *http.Request) error
}

func New(
	dashboardHandler *handlers.DashboardHandler,
	chatHandler *handlers.ChatHandler,
	wsHub *websocket.Hub,
	opts Options,
) (http.Handler, *middleware.RateLimiter) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.FrontendURL))

	// Command rate limiter (per IP)
	commandLimiter := middleware.NewRateLimiter(opts.CommandRateLimit, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.Health != nil {
			if err := opts.Health(r); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Dashboard Routes ────
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/state", dashboardHandler.State)
			r.Patch("/inputs", dashboardHandler.UpdateInputs)

			r.Group(func(r chi.Router) {
				r.Use(commandLimiter.Middleware)
				r.Post("/evaluate", dashboardHandler.Evaluate)
				r.Post("/suggestion", dashboardHandler.Suggestion)
				r.Post("/report", dashboardHandler.Report)
			})
		})

		// ──── Chat Routes ────
		r.Route("/chat", func(r chi.Router) {
			r.Get("/", chatHandler.Get)
			r.Delete("/", chatHandler.Reset)
			r.With(commandLimiter.Middleware).Post("/messages", chatHandler.Send)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r, commandLimiter
}
