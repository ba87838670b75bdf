package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/margin/internal/annotationservice"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/models"
)

// PublishRequest is the request body for publishing a highlight or page
// note (aliased from the domain layer).
type PublishRequest = annotationservice.Draft

// ReplyRequest is the request body for a reply (aliased from the domain layer).
type ReplyRequest = annotationservice.ReplyDraft

// LoadRequest is the request body for POST /api/load.
type LoadRequest struct {
	URI string `json:"uri" example:"https://example.com/article" validate:"required"`
}

// Annotation is the annotation response type.
type Annotation = models.Annotation

// AnnotationListResponse wraps annotations anchored to one URI.
type AnnotationListResponse struct {
	URI         string       `json:"uri" example:"https://example.com/article" validate:"required"`
	Annotations []Annotation `json:"annotations" validate:"required"`
}

// ThreadResponse is a root annotation with its replies.
type ThreadResponse = annotationservice.Thread

// SearchResult is a single search hit in the API response.
type SearchResult = index.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// StatusResponse summarizes the node.
type StatusResponse = annotationservice.Status

// AcceptedResponse acknowledges an asynchronous load.
type AcceptedResponse struct {
	Status string `json:"status" example:"loading" validate:"required"`
}

// Validate validates the load request.
func (r *LoadRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.URI, validation.Required),
	)
}
