package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Vault, authEnabled bool, token string, sseHandler http.Handler, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages.
	r.Get("/pages", h.ListPages)
	r.Get("/pages/*", h.GetPage)
	r.Put("/pages/*", h.UpdatePage)
	r.Get("/backlinks/*", h.GetBacklinks)

	// Index views.
	r.Get("/tags", h.Tags)
	r.Get("/broken-links", h.BrokenLinks)
	r.Get("/tree", h.Tree)
	r.Get("/directories", h.Directories)
	r.Get("/graph", h.Graph)
	r.Get("/search", h.Search)

	// File operations.
	r.Post("/files", h.CreateFile)
	r.Post("/folders", h.CreateFolder)
	r.Delete("/paths/*", h.DeletePath)
	r.Post("/rename", h.Rename)
	r.Post("/move", h.Move)
	r.Post("/duplicate", h.Duplicate)
	r.Post("/rescan", h.Rescan)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
