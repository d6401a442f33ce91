package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// RouterConfig configures NewRouter
type RouterConfig struct {
	// PageSize is the default limit of paginated listings
	PageSize int
	// LiveMaxAge sets Cache-Control on the live endpoint; zero disables it
	LiveMaxAge time.Duration
	// AdminMiddleware guards everything except the live endpoint, e.g. an
	// API key check
	AdminMiddleware []func(http.Handler) http.Handler
}

// NewRouter mounts every handler under /api/v1:
//
//	/live                      public live banner set
//	/publish, /publications/*  publishing and history
//	/snapshots/*               snapshot lookups
//	/entries/*, /slots/*, /pages/*
func NewRouter(service simplebanners.Service, cfg RouterConfig) *chi.Mux {
	publications := NewPublicationHandler(service, cfg.PageSize)
	entries := NewEntryHandler(service)
	containers := NewContainerHandler(service)

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.LiveMaxAge > 0 {
				r.Use(CacheMiddleware(cfg.LiveMaxAge))
			}
			r.Mount("/live", publications.LiveRoutes())
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.AdminMiddleware...)
			r.Post("/publish", publications.Publish)
			r.Mount("/publications", publications.PublicationRoutes())
			r.Mount("/snapshots", publications.SnapshotRoutes())
			r.Mount("/entries", entries.Routes())
			r.Mount("/slots", containers.SlotRoutes())
			r.Mount("/pages", containers.PageRoutes())
		})
	})
	return r
}
