package signer

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/settings"
)

// LocalKey signs with the secret key held in the session.
type LocalKey struct {
	session settings.Session
}

// NewLocalKey creates a local-key signer.
func NewLocalKey(session settings.Session) *LocalKey {
	return &LocalKey{session: session}
}

// Sign implements Signer.
func (l *LocalKey) Sign(_ context.Context, tmpl nostr.Event) (nostr.Event, error) {
	sk := l.session.SecretKey()
	if sk == "" {
		return nostr.Event{}, apperr.ErrMissingKey
	}
	ev := tmpl
	ev.Tags = append(nostr.Tags(nil), tmpl.Tags...)
	if err := ev.Sign(sk); err != nil {
		return nostr.Event{}, fmt.Errorf("signer: sign: %w", err)
	}
	return ev, nil
}

// PublicKey implements Signer.
func (l *LocalKey) PublicKey(_ context.Context) (string, error) {
	sk := l.session.SecretKey()
	if sk == "" {
		return "", apperr.ErrMissingKey
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return "", fmt.Errorf("signer: derive public key: %w", err)
	}
	return pk, nil
}
