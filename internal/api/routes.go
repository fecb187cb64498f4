package api

import (
	"time"

	"grave.box/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func SetupRouter(d Dispatcher, cfg *config.Config, logger zerolog.Logger) *chi.Mux {
	h := NewHandler(d, cfg)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID(logger))
	r.Use(Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Chat transport events
	r.Route("/api/events", func(r chi.Router) {
		r.Use(TransportAuth(cfg.Bot.TransportToken))
		if cfg.RateLimit.Enabled {
			r.Use(NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute).Middleware)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			r.Use(JSONOnly)
			r.Post("/command", h.Command)
			r.Post("/text", h.Text)
		})

		// uploads stream to object storage and get the longer budget
		r.With(middleware.Timeout(cfg.Server.UploadTimeout)).Post("/file", h.File)
	})

	return r
}
