// Package signer turns unsigned event templates into signed events. The
// strategy (local key, remote bunker) is picked per call from the session's
// connect mode, so a login or logout takes effect without rewiring.
package signer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/settings"
)

// Signer produces a signed event from a template. The returned event carries
// PubKey, ID and Sig; the template is not modified.
type Signer interface {
	Sign(ctx context.Context, tmpl nostr.Event) (nostr.Event, error)
	PublicKey(ctx context.Context) (string, error)
}

// Option configures a Session signer.
type Option func(*Session)

// WithDialer replaces the NIP-46 dialer used in bunker mode.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.remote.dial = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
		s.remote.logger = l
	}
}

// Session dispatches to the strategy named by the session's connect mode.
type Session struct {
	session settings.Session
	logger  *slog.Logger
	local   *LocalKey
	remote  *Remote
}

var _ Signer = (*Session)(nil)

// New returns a mode-dispatching signer reading credentials from session.
func New(session settings.Session, opts ...Option) *Session {
	s := &Session{
		session: session,
		logger:  slog.Default(),
		local:   NewLocalKey(session),
		remote:  NewRemote(session, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Remote exposes the bunker strategy so login flows can connect through the
// same session cache that signing uses.
func (s *Session) Remote() *Remote {
	return s.remote
}

func (s *Session) strategy() (Signer, error) {
	switch mode := s.session.Mode(); mode {
	case settings.ModeNsec, "":
		return s.local, nil
	case settings.ModeBunker:
		return s.remote, nil
	case settings.ModeNostrConnect:
		return nil, fmt.Errorf("signer: connect mode %q: %w", mode, apperr.ErrNotImplemented)
	default:
		return nil, fmt.Errorf("signer: unknown connect mode %q: %w", mode, apperr.ErrNotImplemented)
	}
}

// Sign implements Signer.
func (s *Session) Sign(ctx context.Context, tmpl nostr.Event) (nostr.Event, error) {
	st, err := s.strategy()
	if err != nil {
		return nostr.Event{}, err
	}
	return st.Sign(ctx, tmpl)
}

// PublicKey implements Signer.
func (s *Session) PublicKey(ctx context.Context) (string, error) {
	st, err := s.strategy()
	if err != nil {
		return "", err
	}
	return st.PublicKey(ctx)
}
