package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/margin/internal/annotationservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *annotationservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *annotationservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListAnnotations handles GET /api/annotations.
//
//	@Summary		List stored annotations anchored to a URI
//	@Tags			annotations
//	@Produce		json
//	@Param			uri	query		string	true	"Document URI"
//	@Success		200	{object}	AnnotationListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations [get]
func (h *Handler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'uri' is required"))
		return
	}
	anns, err := h.svc.List(r.Context(), uri)
	if err != nil {
		writeServiceError(w, "list annotations", err)
		return
	}
	writeJSON(w, http.StatusOK, AnnotationListResponse{URI: uri, Annotations: anns})
}

// GetAnnotation handles GET /api/annotations/{id}.
//
//	@Summary		Get a single annotation by event id
//	@Tags			annotations
//	@Produce		json
//	@Param			id	path		string	true	"Event id"
//	@Success		200	{object}	Annotation
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations/{id} [get]
func (h *Handler) GetAnnotation(w http.ResponseWriter, r *http.Request) {
	ann, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get annotation", err)
		return
	}
	writeJSON(w, http.StatusOK, ann)
}

// GetThread handles GET /api/threads/{id}.
//
//	@Summary		Get a root annotation with its stored replies
//	@Tags			threads
//	@Produce		json
//	@Param			id	path		string	true	"Root event id"
//	@Success		200	{object}	ThreadResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/threads/{id} [get]
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.svc.Thread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "get thread", err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across stored annotations
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query; #tag and uri:<url> filter"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Load handles POST /api/load.
//
//	@Summary		Subscribe to highlights, page notes and threads for a URI
//	@Tags			relays
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoadRequest	true	"URI to load"
//	@Success		202		{object}	AcceptedResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/load [post]
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := h.svc.Load(req.URI); err != nil {
		writeServiceError(w, "load", err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "loading"})
}

// LoadThread handles POST /api/threads/{id}/load.
//
//	@Summary		Subscribe to the replies below a root annotation
//	@Tags			relays
//	@Produce		json
//	@Param			id	path		string	true	"Root event id"
//	@Success		202	{object}	AcceptedResponse
//	@Security		BearerAuth
//	@Router			/threads/{id}/load [post]
func (h *Handler) LoadThread(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.LoadThread(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "load thread", err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "loading"})
}

// CloseSubscriptions handles DELETE /api/subscriptions.
//
//	@Summary		Close every open relay subscription
//	@Tags			relays
//	@Success		204	"Subscriptions closed"
//	@Security		BearerAuth
//	@Router			/subscriptions [delete]
func (h *Handler) CloseSubscriptions(w http.ResponseWriter, _ *http.Request) {
	h.svc.CloseSubscriptions()
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/annotations.
//
//	@Summary		Publish a highlight (with selectors) or a page note
//	@Tags			annotations
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PublishRequest	true	"Draft"
//	@Success		201		{object}	Annotation
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	saved, err := h.svc.Publish(r.Context(), req)
	if err != nil {
		writeServiceError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Reply handles POST /api/annotations/{id}/replies.
//
//	@Summary		Publish a reply to a stored annotation
//	@Tags			annotations
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Parent event id"
//	@Param			body	body		ReplyRequest	true	"Reply"
//	@Success		201		{object}	Annotation
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations/{id}/replies [post]
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	saved, err := h.svc.Reply(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, "reply", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Status handles GET /api/status.
//
//	@Summary		Collection size, subscriptions and relay state
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeServiceError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
