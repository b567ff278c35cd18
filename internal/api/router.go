package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/storyloom/internal/storyservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *storyservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(RequireJSON)

	r.Get("/stories", h.ListStories)
	r.Post("/stories", h.CreateStory)

	r.Route("/stories/{storyID}", func(r chi.Router) {
		// Graph and history.
		r.Get("/graph", h.GetGraph)
		r.Get("/versions", h.History)
		r.Get("/versions/{versionID}", h.GetVersion)
		r.Post("/revert", h.Revert)

		// Patches.
		r.Post("/validate", h.ValidatePatch)
		r.Post("/patches", h.Commit)
		r.Post("/proposals", h.ApplyProposal)

		// Mentions.
		r.Post("/mentions/rebuild", h.RebuildMentions)
		r.Post("/mentions/extract", h.ExtractMentions)
		r.Get("/entities/{entityID}/mentioned-by", h.MentionedBy)

		// Story context.
		r.Get("/context", h.GetContext)
		r.Put("/context", h.UpdateContext)
		r.Patch("/context", h.ApplyContextChanges)
	})

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
