// Package adapter converts between signed events and annotations. There is
// one adapter per annotation shape: highlights, page notes and thread
// replies. Adapters hold no state of their own; replies consult the
// resolver for the ancestors they point at.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/resolver"
	"github.com/starford/margin/internal/settings"
)

// Profiles resolves author metadata.
type Profiles interface {
	Lookup(ctx context.Context, pubkey string) (models.Profile, error)
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Session  settings.Session
	Profiles Profiles
	Resolver *resolver.Resolver
	// LinkBase is the viewer used for event links when the session does not
	// name one.
	LinkBase string
	Logger   *slog.Logger
}

type base struct {
	Deps
}

func newBase(d Deps) base {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return base{Deps: d}
}

func (b base) displayName(ctx context.Context, pubkey string) string {
	if b.Profiles == nil {
		return ""
	}
	p, err := b.Profiles.Lookup(ctx, pubkey)
	if err != nil {
		b.Logger.Debug("adapter: profile lookup failed",
			slog.String("pubkey", pubkey), slog.String("error", err.Error()))
		return ""
	}
	return p.DisplayName
}

func (b base) link(ev *nostr.Event, relays []string) string {
	linkBase := b.LinkBase
	if b.Session != nil && b.Session.EventURLBase() != "" {
		linkBase = b.Session.EventURLBase()
	}
	return protocol.EventURL(linkBase, ev, relays)
}

func (b base) cluster(pubkey string) string {
	if b.Session != nil && pubkey != "" && b.Session.PublicKey() == pubkey {
		return models.ClusterUser
	}
	return models.ClusterOther
}

// saved fills the fields every network-derived annotation shares.
func (b base) saved(ctx context.Context, ev *nostr.Event, relays []string) *models.Annotation {
	created := ev.CreatedAt.Time().UTC()
	return &models.Annotation{
		ID:          ev.ID,
		Tag:         protocol.NewLocalTag(),
		Created:     created,
		Updated:     created,
		Group:       models.World,
		User:        ev.PubKey,
		UserInfo:    models.UserInfo{DisplayName: b.displayName(ctx, ev.PubKey)},
		Tags:        protocol.Hashtags(ev),
		Permissions: models.WorldReadable(),
		Links:       models.Links{HTML: b.link(ev, relays)},
		Event:       ev,
	}
}

func timestamp(t time.Time) nostr.Timestamp {
	if t.IsZero() {
		return nostr.Now()
	}
	return nostr.Timestamp(t.Unix())
}

// Set routes incoming events to the adapter matching their shape.
type Set struct {
	Highlight *Highlight
	PageNote  *PageNote
	Thread    *Thread
}

// NewSet builds all three adapters over the same dependencies.
func NewSet(d Deps) *Set {
	return &Set{
		Highlight: NewHighlight(d),
		PageNote:  NewPageNote(d),
		Thread:    NewThread(d),
	}
}

// ToAnnotation converts ev with the adapter its kind and tags select:
// highlights by kind, comments with a root event reference as thread
// replies, other comments as page notes. A nil annotation with a nil error
// means the event was skipped.
func (s *Set) ToAnnotation(ctx context.Context, ev *nostr.Event, uri string, relays []string) (*models.Annotation, error) {
	switch {
	case ev.Kind == protocol.KindHighlight:
		return s.Highlight.ToAnnotation(ctx, ev, uri, relays)
	case ev.Kind == protocol.KindComment && protocol.HasTag(ev.Tags, protocol.TagRootEvent):
		return s.Thread.ToAnnotation(ctx, ev, relays)
	case ev.Kind == protocol.KindComment:
		return s.PageNote.ToAnnotation(ctx, ev, uri, relays)
	default:
		return nil, fmt.Errorf("adapter: kind %d: %w", ev.Kind, apperr.ErrKindMismatch)
	}
}
