package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/protocol"
)

// Directory holds the relays to read from and write to: the configured
// ones, extended by the user's advertised relay list once discovered.
type Directory struct {
	baseRead  []string
	baseWrite []string

	mu    sync.RWMutex
	read  []string
	write []string
}

// NewDirectory creates a Directory from configured relays.
func NewDirectory(read, write []string) *Directory {
	d := &Directory{baseRead: Merge(nil, read...), baseWrite: Merge(nil, write...)}
	d.Reset()
	return d
}

// Read returns the current read relays.
func (d *Directory) Read() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.read)
}

// Write returns the current write relays.
func (d *Directory) Write() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.write)
}

// Apply merges a discovered relay list into the configured relays.
func (d *Directory) Apply(l List) {
	d.mu.Lock()
	d.read = Merge(d.baseRead, l.Read...)
	d.write = Merge(d.baseWrite, l.Write...)
	d.mu.Unlock()
}

// Reset drops discovered relays.
func (d *Directory) Reset() {
	d.mu.Lock()
	d.read = slices.Clone(d.baseRead)
	d.write = slices.Clone(d.baseWrite)
	d.mu.Unlock()
}

// Discover fetches pubkey's relay list through t from every known relay
// and applies it. A missing list leaves the configured relays in place.
func (d *Directory) Discover(ctx context.Context, t Transport, pubkey string, logger *slog.Logger) error {
	d.Reset()
	if pubkey == "" {
		return nil
	}
	urls := Merge(d.Read(), d.Write()...)
	ev, err := t.Get(ctx, urls, nostr.Filter{
		Kinds:   []int{protocol.KindRelayList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("relay: discover relay list: %w", err)
	}
	if ev == nil {
		logger.Debug("relay: no relay list published", slog.String("pubkey", pubkey))
		return nil
	}
	l := ParseList(ev)
	d.Apply(l)
	logger.Info("relay: relay list applied",
		slog.Int("read", len(l.Read)), slog.Int("write", len(l.Write)))
	return nil
}
