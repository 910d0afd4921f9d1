package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"marker/internal/bookmark"
	"marker/internal/config"
	"marker/internal/http/handler"
	mw "marker/internal/http/middleware"
	"marker/internal/logger"
	"marker/internal/validation"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(cfg config.Config, svc *bookmark.Service, store Pinger, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Log(log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}
	r.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				log.Warn("health check failed", logger.Error(err))
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	v := validation.New()
	bh := &handler.BookmarkHandler{Svc: svc, Validate: v, Log: log}
	th := &handler.TagHandler{Svc: svc, Validate: v, Log: log}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", bh.List)
			r.Post("/", bh.Create)
			r.Get("/bytag", bh.ByTag)

			r.Get("/{id}", bh.Get)
			r.Put("/{id}", bh.Update)
			r.Delete("/{id}", bh.Delete)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Get("/", th.List)
			r.Post("/", th.Create)
			r.Get("/usage", th.Usage)

			r.Get("/{id}", th.Get)
			r.Put("/{id}", th.Update)
			r.Delete("/{id}", th.Delete)
		})
	})

	return r
}
