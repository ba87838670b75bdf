package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip46"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/settings"
)

// RemoteSession is an established NIP-46 session.
type RemoteSession interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, ev *nostr.Event) error
}

// Dialer opens a remote-signer session for a bunker URL using the client's
// session secret.
type Dialer func(ctx context.Context, clientSecret, bunkerURL string) (RemoteSession, error)

// DialBunker returns a Dialer backed by nip46.ConnectBunker over pool. A
// bunker answering that the client is already connected counts as success.
func DialBunker(pool *nostr.SimplePool) Dialer {
	return func(ctx context.Context, clientSecret, bunkerURL string) (RemoteSession, error) {
		bc, err := nip46.ConnectBunker(ctx, clientSecret, bunkerURL, pool, nil)
		if err != nil && !(bc != nil && IsAlreadyConnected(err)) {
			return nil, err
		}
		return bc, nil
	}
}

// IsAlreadyConnected reports whether err is a bunker's "already connected"
// answer to a connect request.
func IsAlreadyConnected(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already connected")
}

// Remote signs through a bunker named by the session. Sessions are cached
// per bunker URL and client secret, so repeated connects reuse them.
type Remote struct {
	session settings.Session
	dial    Dialer
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]RemoteSession
}

var _ Signer = (*Remote)(nil)

// NewRemote creates a bunker signer. A nil dial uses DialBunker on a fresh
// pool created at first connect.
func NewRemote(session settings.Session, dial Dialer) *Remote {
	return &Remote{
		session:  session,
		dial:     dial,
		logger:   slog.Default(),
		sessions: make(map[string]RemoteSession),
	}
}

// Connect establishes (or reuses) a session and returns the remote signer's
// public key.
func (r *Remote) Connect(ctx context.Context, bunkerURL, clientSecret string) (string, error) {
	rs, err := r.connect(ctx, bunkerURL, clientSecret)
	if err != nil {
		return "", err
	}
	pk, err := rs.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("signer: remote public key: %w", err)
	}
	return pk, nil
}

// Reset drops cached sessions, for instance after a logout.
func (r *Remote) Reset() {
	r.mu.Lock()
	r.sessions = make(map[string]RemoteSession)
	r.mu.Unlock()
}

func (r *Remote) connect(ctx context.Context, bunkerURL, clientSecret string) (RemoteSession, error) {
	if bunkerURL == "" || clientSecret == "" {
		return nil, fmt.Errorf("signer: no bunker connection: %w", apperr.ErrMissingKey)
	}
	bp, err := ParseBunkerURL(bunkerURL)
	if err != nil {
		return nil, err
	}

	key := bunkerURL + "|" + clientSecret
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.sessions[key]; ok {
		return rs, nil
	}
	if r.dial == nil {
		r.dial = DialBunker(nostr.NewSimplePool(context.WithoutCancel(ctx)))
	}
	rs, err := r.dial(ctx, clientSecret, bunkerURL)
	if err != nil {
		if rs == nil || !IsAlreadyConnected(err) {
			return nil, fmt.Errorf("signer: connect bunker: %w", err)
		}
	}
	if rs == nil {
		return nil, errors.New("signer: connect bunker: no session")
	}
	r.sessions[key] = rs
	r.logger.Info("signer: bunker session established",
		slog.String("remote", bp.PublicKey), slog.Int("relays", len(bp.Relays)))
	return rs, nil
}

// Sign implements Signer.
func (r *Remote) Sign(ctx context.Context, tmpl nostr.Event) (nostr.Event, error) {
	rs, err := r.connect(ctx, r.session.BunkerURL(), r.session.BunkerSecret())
	if err != nil {
		return nostr.Event{}, err
	}
	pk, err := rs.GetPublicKey(ctx)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("signer: remote public key: %w", err)
	}

	ev := tmpl
	ev.Tags = append(nostr.Tags(nil), tmpl.Tags...)
	ev.PubKey = pk
	if err := rs.SignEvent(ctx, &ev); err != nil {
		return nostr.Event{}, fmt.Errorf("signer: remote sign: %w", err)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return nostr.Event{}, fmt.Errorf("signer: remote returned an invalid signature: %w", apperr.ErrInvalidEvent)
	}
	return ev, nil
}

// PublicKey implements Signer.
func (r *Remote) PublicKey(ctx context.Context) (string, error) {
	return r.Connect(ctx, r.session.BunkerURL(), r.session.BunkerSecret())
}
