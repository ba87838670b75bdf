// Package profile resolves author metadata from kind-0 events, with a
// time-bounded cache in front of the relays.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/relay"
)

// DefaultTTL is how long a resolved profile is reused.
const DefaultTTL = 5 * time.Minute

// Service looks up profiles. Concurrent lookups of the same key share one
// relay query.
type Service struct {
	transport relay.Transport
	relays    func() []string
	cache     Cache
	ttl       time.Duration
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService creates a Service reading from the relays returned by relays.
func NewService(t relay.Transport, relays func() []string, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{transport: t, relays: relays, cache: cache, ttl: ttl, logger: logger}
}

type metadata struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Picture     string `json:"picture"`
}

// Lookup returns pubkey's profile. A key with no published metadata yields
// an empty profile, which is cached like any other.
func (s *Service) Lookup(ctx context.Context, pubkey string) (models.Profile, error) {
	if p, ok, err := s.cache.Get(ctx, pubkey); err != nil {
		s.logger.Warn("profile: cache read failed", slog.String("error", err.Error()))
	} else if ok {
		return p, nil
	}

	v, err, _ := s.group.Do(pubkey, func() (any, error) {
		return s.fetch(ctx, pubkey)
	})
	if err != nil {
		return models.Profile{}, err
	}
	p := v.(models.Profile)
	if err := s.cache.Set(ctx, p, s.ttl); err != nil {
		s.logger.Warn("profile: cache write failed", slog.String("error", err.Error()))
	}
	return p, nil
}

func (s *Service) fetch(ctx context.Context, pubkey string) (models.Profile, error) {
	ev, err := s.transport.Get(ctx, s.relays(), nostr.Filter{
		Kinds:   []int{protocol.KindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return models.Profile{}, fmt.Errorf("profile: fetch %s: %w", pubkey, err)
	}
	return Parse(pubkey, ev), nil
}

// Parse reads kind-0 content. display_name wins over name. Malformed content
// yields a profile with only the public key.
func Parse(pubkey string, ev *nostr.Event) models.Profile {
	p := models.Profile{PublicKey: pubkey}
	if ev == nil {
		return p
	}
	var m metadata
	if err := json.Unmarshal([]byte(ev.Content), &m); err != nil {
		return p
	}
	p.DisplayName = m.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = m.Name
	}
	p.Picture = m.Picture
	return p
}
