package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"discord-router/internal/observability"
)

func Router(ih *InteractionHandler, ah *AdminHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(Recoverer)

	// No request timeout here: the forwarder carries its own deadline and
	// must always get to write its fallback reply.
	r.Post("/interactions", ih.Interactions)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))

		r.Post("/register", ah.Register)
		r.Post("/unregister", ah.Unregister)
		r.Post("/heartbeat", ah.Heartbeat)
		r.Get("/health", ah.Health)
		r.Get("/status", ah.Status)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
