package signer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip46"

	"github.com/starford/margin/internal/apperr"
)

// BunkerPointer is a parsed bunker:// connection descriptor.
type BunkerPointer struct {
	PublicKey string
	Relays    []string
	Secret    string
}

// ParseBunkerURL parses bunker://<remote-pubkey-hex>?relay=wss://...&secret=...
// The shape check is nip46's; the query is then split into relays and secret.
func ParseBunkerURL(raw string) (BunkerPointer, error) {
	raw = strings.TrimSpace(raw)
	if !nip46.IsValidBunkerURL(raw) {
		return BunkerPointer{}, fmt.Errorf("signer: bunker url %q: %w", raw, apperr.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return BunkerPointer{}, fmt.Errorf("signer: bunker url: %w", err)
	}
	q := u.Query()
	p := BunkerPointer{PublicKey: u.Host, Secret: q.Get("secret")}
	for _, r := range q["relay"] {
		if r != "" {
			p.Relays = append(p.Relays, r)
		}
	}
	if len(p.Relays) == 0 {
		return BunkerPointer{}, fmt.Errorf("signer: bunker url: no relay parameter: %w", apperr.ErrInvalidInput)
	}
	return p, nil
}
