package adapter

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/selector"
)

// Highlight adapts kind-9802 events anchored to a text selection.
type Highlight struct {
	base
}

// NewHighlight creates a highlight adapter.
func NewHighlight(d Deps) *Highlight {
	return &Highlight{base: newBase(d)}
}

// ToAnnotation converts a highlight event. uri is the document the event was
// fetched for; when empty the event's r tag is used.
func (h *Highlight) ToAnnotation(ctx context.Context, ev *nostr.Event, uri string, relays []string) (*models.Annotation, error) {
	if ev.Kind != protocol.KindHighlight {
		return nil, fmt.Errorf("adapter: highlight %s has kind %d: %w", ev.ID, ev.Kind, apperr.ErrKindMismatch)
	}
	if uri == "" {
		uri = protocol.TagValue(ev.Tags, protocol.TagSource)
	}
	if uri == "" {
		return nil, fmt.Errorf("adapter: highlight %s has no source: %w", ev.ID, apperr.ErrInvalidEvent)
	}
	selectors, err := selector.DecodeHighlight(ev)
	if err != nil {
		return nil, fmt.Errorf("adapter: highlight %s: %w", ev.ID, err)
	}

	ann := h.saved(ctx, ev, relays)
	ann.Highlight = true
	ann.URI = uri
	ann.Document = models.Document{Title: protocol.DocumentTitle(uri)}
	ann.Text = ""
	ann.Target = []models.Target{{Source: uri, Selector: selectors}}
	return ann, nil
}

// ToEvent builds the unsigned event for a highlight draft. The draft must
// carry exactly one TextQuoteSelector; its exact text becomes the content.
func (h *Highlight) ToEvent(ann *models.Annotation) (nostr.Event, error) {
	selTags, quote, err := selector.EncodeHighlight(ann.Selectors())
	if err != nil {
		return nostr.Event{}, err
	}
	tags := nostr.Tags{{protocol.TagSource, ann.URI}}
	tags = append(tags, protocol.HashtagTags(ann.Tags)...)
	tags = append(tags, selTags...)

	return nostr.Event{
		Kind:      protocol.KindHighlight,
		CreatedAt: timestamp(ann.Created),
		Content:   quote.Exact,
		Tags:      tags,
	}, nil
}
