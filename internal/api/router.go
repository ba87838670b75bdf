package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/margin/internal/annotationservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *annotationservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Collection reads.
	r.Get("/annotations", h.ListAnnotations)
	r.Get("/annotations/{id}", h.GetAnnotation)
	r.Get("/threads/{id}", h.GetThread)
	r.Get("/search", h.Search)

	// Relay loads.
	r.Post("/load", h.Load)
	r.Post("/threads/{id}/load", h.LoadThread)
	r.Delete("/subscriptions", h.CloseSubscriptions)

	// Publishing.
	r.Post("/annotations", h.Publish)
	r.Post("/annotations/{id}/replies", h.Reply)

	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
