package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/adapter"
	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/settings"
	"github.com/starford/margin/internal/signer"
)

// PublisherConfig holds the Publisher's collaborators.
type PublisherConfig struct {
	Transport relay.Transport
	Relays    *relay.Directory
	Signer    signer.Signer
	Adapters  *adapter.Set
	Coll      index.Collection
	Profiles  adapter.Profiles
	Session   settings.Session
	LinkBase  string
	Logger    *slog.Logger
	Hooks     Hooks
}

// Publisher adapts drafts to events, signs them and broadcasts them to the
// write relays. Drafts are never modified; the saved annotation is a copy.
type Publisher struct {
	PublisherConfig
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{PublisherConfig: cfg}
}

// PublishAnnotation publishes draft as a highlight when it carries
// selectors and as a page note otherwise. At least one write relay must
// accept it.
func (p *Publisher) PublishAnnotation(ctx context.Context, draft *models.Annotation) (*models.Annotation, error) {
	kind := "pagenote"
	var (
		tmpl nostr.Event
		err  error
	)
	if len(draft.Selectors()) > 0 {
		kind = "highlight"
		tmpl, err = p.Adapters.Highlight.ToEvent(draft)
	} else {
		tmpl, err = p.Adapters.PageNote.ToEvent(draft)
	}
	if err != nil {
		p.Hooks.publish(kind, err)
		return nil, fmt.Errorf("fetcher: publish %s: %w", kind, err)
	}

	ev, accepted, err := p.signAndBroadcast(ctx, tmpl)
	p.Hooks.publish(kind, err)
	if err != nil {
		return nil, fmt.Errorf("fetcher: publish %s: %w", kind, err)
	}

	saved := p.promote(ctx, *draft, &ev, accepted)
	saved.Highlight = kind == "highlight"
	if saved.Highlight {
		saved.Text = ""
	}
	if saved.Document.Title == "" {
		saved.Document.Title = protocol.DocumentTitle(saved.URI)
	}
	if len(saved.Target) == 0 {
		saved.Target = []models.Target{{Source: saved.URI}}
	}
	saved.References = nil
	p.store(ctx, saved, accepted)
	return saved, nil
}

// PublishReply publishes draft as a reply to parent. Page-note parents get
// a URI-anchored comment, highlight and reply parents a threaded one.
func (p *Publisher) PublishReply(ctx context.Context, parent, draft *models.Annotation) (*models.Annotation, error) {
	var (
		tmpl nostr.Event
		err  error
	)
	if adapter.IsPageNote(parent) {
		tmpl, err = p.Adapters.PageNote.ReplyEvent(parent, draft)
	} else {
		tmpl, err = p.Adapters.Thread.ToEvent(ctx, parent, draft)
	}
	if err != nil {
		p.Hooks.publish("reply", err)
		return nil, fmt.Errorf("fetcher: publish reply: %w", err)
	}

	ev, accepted, err := p.signAndBroadcast(ctx, tmpl)
	p.Hooks.publish("reply", err)
	if err != nil {
		return nil, fmt.Errorf("fetcher: publish reply: %w", err)
	}

	saved := p.promote(ctx, *draft, &ev, accepted)
	saved.URI = parent.URI
	saved.Document = models.Document{Title: parent.Document.Title}
	saved.Target = []models.Target{{Source: parent.URI}}
	saved.References = append(append([]string(nil), parent.References...), parent.ID)
	saved.Highlight = false
	p.store(ctx, saved, accepted)
	return saved, nil
}

// signAndBroadcast signs tmpl and sends it to every write relay. It returns
// the signed event and the relays that accepted it.
func (p *Publisher) signAndBroadcast(ctx context.Context, tmpl nostr.Event) (nostr.Event, []string, error) {
	urls := p.Relays.Write()
	if len(urls) == 0 {
		return nostr.Event{}, nil, fmt.Errorf("no write relays configured: %w", apperr.ErrPublishRejected)
	}

	ev, err := p.Signer.Sign(ctx, tmpl)
	if err != nil {
		return nostr.Event{}, nil, err
	}

	results := p.Transport.Publish(ctx, urls, ev)
	var (
		accepted []string
		reasons  []string
	)
	for _, r := range results {
		if r.OK() {
			accepted = append(accepted, r.Relay)
			continue
		}
		reasons = append(reasons, r.Relay+": "+r.Err.Error())
	}
	if !relay.AnyAccepted(results) {
		p.Logger.Warn("fetcher: every relay rejected the event",
			slog.String("id", ev.ID), slog.String("reasons", strings.Join(reasons, "; ")))
		return nostr.Event{}, nil, fmt.Errorf("%w: %s", apperr.ErrPublishRejected, strings.Join(reasons, "; "))
	}
	if len(reasons) > 0 {
		p.Logger.Info("fetcher: partial publish",
			slog.String("id", ev.ID), slog.Int("accepted", len(accepted)), slog.String("rejected", strings.Join(reasons, "; ")))
	}
	return ev, accepted, nil
}

// promote derives the saved annotation for a signed event from a copy of
// the draft.
func (p *Publisher) promote(ctx context.Context, draft models.Annotation, ev *nostr.Event, relays []string) *models.Annotation {
	saved := draft.Clone()
	created := ev.CreatedAt.Time().UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	saved.ID = ev.ID
	saved.Event = ev
	saved.User = ev.PubKey
	saved.Created = created
	saved.Updated = created
	saved.Group = models.World
	saved.Permissions = models.WorldReadable()
	saved.Cluster = models.ClusterUser
	saved.Tags = protocol.Hashtags(ev)
	if saved.Tag == "" {
		saved.Tag = protocol.NewLocalTag()
	}

	linkBase := p.LinkBase
	if p.Session != nil && p.Session.EventURLBase() != "" {
		linkBase = p.Session.EventURLBase()
	}
	saved.Links = models.Links{HTML: protocol.EventURL(linkBase, ev, relays)}

	if p.Profiles != nil {
		prof, err := p.Profiles.Lookup(ctx, ev.PubKey)
		if err != nil {
			p.Logger.Debug("fetcher: profile lookup failed", slog.String("error", err.Error()))
		} else if prof.DisplayName != "" {
			saved.UserInfo = models.UserInfo{DisplayName: prof.DisplayName}
		}
	}
	return &saved
}

// store inserts the saved annotation so it is visible before any relay
// echoes it back. Failure here does not undo the publish.
func (p *Publisher) store(ctx context.Context, saved *models.Annotation, relays []string) {
	if p.Coll == nil {
		return
	}
	if err := p.Coll.Upsert(ctx, []models.Annotation{*saved}); err != nil {
		p.Logger.Warn("fetcher: store published annotation", slog.String("id", saved.ID), slog.String("error", err.Error()))
		return
	}
	if err := p.Coll.RecordRelays(ctx, saved.ID, relays); err != nil {
		p.Logger.Debug("fetcher: record relays", slog.String("error", err.Error()))
	}
	p.Hooks.upsert(*saved)
}
