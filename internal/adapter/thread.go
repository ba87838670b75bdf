package adapter

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
)

// Thread adapts kind-1111 replies below a highlight. Root tags (E/K/P) name
// the highlight; parent tags (e/k/p) name the annotation replied to.
type Thread struct {
	base
}

// NewThread creates a thread adapter.
func NewThread(d Deps) *Thread {
	return &Thread{base: newBase(d)}
}

// ToAnnotation converts a reply event. Unlike the root adapters it returns
// resolution failures (apperr.ErrReferenceNotFound, apperr.ErrRootMismatch)
// so the thread loader can report them.
func (t *Thread) ToAnnotation(ctx context.Context, ev *nostr.Event, relays []string) (*models.Annotation, error) {
	if ev.Kind != protocol.KindComment {
		return nil, fmt.Errorf("adapter: reply %s has kind %d: %w", ev.ID, ev.Kind, apperr.ErrKindMismatch)
	}
	chain, err := t.Resolver.ChainFor(ctx, ev)
	if err != nil {
		return nil, err
	}

	root := chain.Root
	ann := t.saved(ctx, ev, relays)
	ann.Cluster = t.cluster(ev.PubKey)
	ann.URI = root.URI
	ann.Document = models.Document{Title: root.Document.Title}
	ann.Text = ev.Content
	ann.Target = []models.Target{{Source: root.URI}}
	ann.References = chain.References
	return ann, nil
}

// ToEvent builds the unsigned reply to parent. A root parent must be a
// highlight; a deeper parent must be a reply whose root is a highlight.
func (t *Thread) ToEvent(ctx context.Context, parent, draft *models.Annotation) (nostr.Event, error) {
	if !parent.IsSaved() {
		return nostr.Event{}, fmt.Errorf("adapter: reply: %w", apperr.ErrDraftNotSaved)
	}
	if parent.Event == nil {
		return nostr.Event{}, apperr.ErrNoEvent
	}

	parentTags := nostr.Tags{
		{protocol.TagParentEvent, parent.ID},
		{protocol.TagParentKind, protocol.KindString(parent.Event.Kind)},
		{protocol.TagParentAuthor, parent.User},
	}

	var rootTags nostr.Tags
	if !parent.IsReply() {
		if parent.Event.Kind != protocol.KindHighlight {
			return nostr.Event{}, fmt.Errorf("adapter: parent annotation is not a highlight: %w", apperr.ErrKindMismatch)
		}
		rootTags = nostr.Tags{
			{protocol.TagRootEvent, parent.ID},
			{protocol.TagRootKind, protocol.KindString(parent.Event.Kind)},
			{protocol.TagRootAuthor, parent.User},
		}
	} else {
		root, err := t.Resolver.Resolve(ctx, parent.Root())
		if err != nil {
			return nostr.Event{}, err
		}
		if root.Event == nil {
			return nostr.Event{}, fmt.Errorf("adapter: root annotation: %w", apperr.ErrNoEvent)
		}
		if root.Event.Kind != protocol.KindHighlight {
			return nostr.Event{}, fmt.Errorf("adapter: root annotation is not a highlight: %w", apperr.ErrKindMismatch)
		}
		if parent.Event.Kind != protocol.KindComment {
			return nostr.Event{}, fmt.Errorf("adapter: parent annotation is not a reply: %w", apperr.ErrKindMismatch)
		}
		rootTags = nostr.Tags{
			{protocol.TagRootEvent, root.ID},
			{protocol.TagRootKind, protocol.KindString(root.Event.Kind)},
			{protocol.TagRootAuthor, root.User},
		}
	}

	tags := protocol.HashtagTags(draft.Tags)
	tags = append(tags, rootTags...)
	tags = append(tags, parentTags...)
	return nostr.Event{
		Kind:      protocol.KindComment,
		CreatedAt: timestamp(draft.Created),
		Content:   draft.Text,
		Tags:      tags,
	}, nil
}
