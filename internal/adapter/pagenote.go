package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/resolver"
)

// PageNote adapts kind-1111 comments anchored to a URI rather than a
// selection. A page note that names a parent with an e tag is a reply to
// another page note.
type PageNote struct {
	base
}

// NewPageNote creates a page-note adapter.
func NewPageNote(d Deps) *PageNote {
	return &PageNote{base: newBase(d)}
}

// ToAnnotation converts a page-note event. A named parent must resolve;
// when it does not the event is skipped (nil, nil).
func (p *PageNote) ToAnnotation(ctx context.Context, ev *nostr.Event, uri string, relays []string) (*models.Annotation, error) {
	if ev.Kind != protocol.KindComment {
		return nil, fmt.Errorf("adapter: page note %s has kind %d: %w", ev.ID, ev.Kind, apperr.ErrKindMismatch)
	}
	if uri == "" {
		uri = uriFromRootTags(ev.Tags)
	}
	if uri == "" {
		return nil, fmt.Errorf("adapter: page note %s has no URI anchor: %w", ev.ID, apperr.ErrInvalidEvent)
	}

	var parent *models.Annotation
	if parentID := protocol.TagValue(ev.Tags, protocol.TagParentEvent); parentID != "" {
		var err error
		parent, err = p.Resolver.Resolve(ctx, parentID)
		if errors.Is(err, apperr.ErrReferenceNotFound) {
			p.Logger.Info("adapter: page note parent not found, skipping",
				slog.String("id", ev.ID), slog.String("parent", parentID))
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	ann := p.saved(ctx, ev, relays)
	ann.Cluster = p.cluster(ev.PubKey)
	ann.URI = uri
	ann.Text = ev.Content
	ann.Target = []models.Target{{Source: uri}}
	if parent != nil {
		ann.Document = models.Document{Title: parent.Document.Title}
		ann.References = resolver.Extend(parent)
	} else {
		ann.Document = models.Document{Title: protocol.TagValue(ev.Tags, protocol.TagDocTitle)}
	}
	return ann, nil
}

// ToEvent builds the unsigned event for a root page note: the normalized URI
// and its protocol as both root (I/K) and parent (i/k) anchors.
func (p *PageNote) ToEvent(ann *models.Annotation) (nostr.Event, error) {
	if ann.URI == "" {
		return nostr.Event{}, fmt.Errorf("adapter: page note without URI: %w", apperr.ErrInvalidEvent)
	}
	normalized, scheme := protocol.NormalizeURL(ann.URI)
	tags := nostr.Tags{
		{protocol.TagRootURI, normalized},
		{protocol.TagRootKind, scheme},
		{protocol.TagParentURI, normalized},
		{protocol.TagParentKind, scheme},
	}
	tags = append(tags, protocol.HashtagTags(ann.Tags)...)
	if ann.Document.Title != "" {
		tags = append(tags, nostr.Tag{protocol.TagDocTitle, ann.Document.Title})
	}
	return nostr.Event{
		Kind:      protocol.KindComment,
		CreatedAt: timestamp(ann.Created),
		Content:   ann.Text,
		Tags:      tags,
	}, nil
}

// ReplyEvent builds the unsigned event for a reply to the page note parent.
// The URI stays the root anchor; the parent becomes the e/k/p target.
func (p *PageNote) ReplyEvent(parent, draft *models.Annotation) (nostr.Event, error) {
	if !parent.IsSaved() {
		return nostr.Event{}, fmt.Errorf("adapter: page note reply: %w", apperr.ErrDraftNotSaved)
	}
	uri := draft.URI
	if uri == "" {
		uri = parent.URI
	}
	normalized, scheme := protocol.NormalizeURL(uri)
	tags := nostr.Tags{
		{protocol.TagRootURI, normalized},
		{protocol.TagRootKind, scheme},
		{protocol.TagParentEvent, parent.ID},
		{protocol.TagParentKind, protocol.KindString(protocol.KindComment)},
		{protocol.TagParentAuthor, parent.User},
	}
	tags = append(tags, protocol.HashtagTags(draft.Tags)...)
	return nostr.Event{
		Kind:      protocol.KindComment,
		CreatedAt: timestamp(draft.Created),
		Content:   draft.Text,
		Tags:      tags,
	}, nil
}

// IsPageNote reports whether ann is a page note or a page-note reply,
// that is a comment anchored to a URI rather than to a root event.
func IsPageNote(ann *models.Annotation) bool {
	if ann.Event == nil || ann.Event.Kind != protocol.KindComment {
		return false
	}
	return protocol.HasTag(ann.Event.Tags, protocol.TagRootURI) &&
		!protocol.HasTag(ann.Event.Tags, protocol.TagRootEvent)
}

func uriFromRootTags(tags nostr.Tags) string {
	anchor := protocol.TagValue(tags, protocol.TagRootURI)
	if anchor == "" {
		return ""
	}
	if scheme := protocol.TagValue(tags, protocol.TagRootKind); scheme != "" {
		return scheme + "://" + anchor
	}
	return anchor
}
