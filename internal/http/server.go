package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the stub routes. A nil Store gets a fresh one.
func NewRouter(e Env) http.Handler {
	if e.Store == nil {
		e.Store = NewStore()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(e.logger()))
	r.Use(middleware.Recoverer)
	r.Use(instrument(e.Metrics))
	r.Use(cors)

	r.Get("/healthz", e.Healthz)
	r.Get("/readyz", e.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/check", e.Check)
		r.Get("/checks", e.ListChecks)
		r.Get("/checks/{id}", e.GetCheck)
		r.Get("/metrics", e.Summary)
	})
	return r
}

// NewServer returns an http.Server for h with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
