// Package relaytest provides an in-memory relay.Transport for tests.
package relaytest

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/relay"
)

// Fake is an in-memory set of relays. Stored events are replayed to new
// subscriptions followed by EOSE; events stored or published later are
// delivered live to matching open subscriptions.
type Fake struct {
	mu        sync.Mutex
	stored    map[string][]*nostr.Event
	reject    map[string]error
	subs      map[*sub]struct{}
	published []nostr.Event
	wg        sync.WaitGroup
}

var _ relay.Transport = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		stored: make(map[string][]*nostr.Event),
		reject: make(map[string]error),
		subs:   make(map[*sub]struct{}),
	}
}

type sub struct {
	f       *Fake
	urls    []string
	filters nostr.Filters
	h       relay.Handler
	mu      sync.Mutex
	closed  bool
}

func (s *sub) Close() {
	s.f.mu.Lock()
	delete(s.f.subs, s)
	s.f.mu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *sub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *sub) watches(url string) bool {
	for _, u := range s.urls {
		if u == url {
			return true
		}
	}
	return false
}

// Store adds events to relay url and pushes them to open subscriptions.
func (f *Fake) Store(url string, evs ...*nostr.Event) {
	f.mu.Lock()
	f.stored[url] = append(f.stored[url], evs...)
	var live []*sub
	for s := range f.subs {
		if s.watches(url) {
			live = append(live, s)
		}
	}
	f.mu.Unlock()

	for _, s := range live {
		for _, ev := range evs {
			if s.filters.Match(ev) && !s.isClosed() && s.h.OnEvent != nil {
				s.h.OnEvent(relay.Event{Event: ev, Relay: url})
			}
		}
	}
}

// RejectPublish makes url refuse every publish with err.
func (f *Fake) RejectPublish(url string, err error) {
	f.mu.Lock()
	f.reject[url] = err
	f.mu.Unlock()
}

// Published returns every accepted publish in order, one entry per
// accepting relay.
func (f *Fake) Published() []nostr.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nostr.Event(nil), f.published...)
}

// OpenSubscriptions returns the number of subscriptions not yet closed.
func (f *Fake) OpenSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// CloseAll makes every relay close every open subscription with reason.
func (f *Fake) CloseAll(reason string) {
	f.mu.Lock()
	var open []*sub
	for s := range f.subs {
		open = append(open, s)
		delete(f.subs, s)
	}
	f.mu.Unlock()
	for _, s := range open {
		if s.h.OnClose == nil {
			continue
		}
		reasons := make([]string, len(s.urls))
		for i, u := range s.urls {
			reasons[i] = u + ": " + reason
		}
		s.h.OnClose(reasons)
	}
}

// Wait blocks until stored-event replays of earlier subscriptions are done.
func (f *Fake) Wait() {
	f.wg.Wait()
}

// Subscribe implements relay.Transport. Replay runs on its own goroutine.
func (f *Fake) Subscribe(ctx context.Context, urls []string, filters nostr.Filters, h relay.Handler) (relay.Closer, error) {
	s := &sub{f: f, urls: urls, filters: filters, h: h}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	var replay []relay.Event
	for _, u := range urls {
		for _, ev := range f.stored[u] {
			if filters.Match(ev) {
				replay = append(replay, relay.Event{Event: ev, Relay: u})
			}
		}
	}
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for _, e := range replay {
			if s.isClosed() || ctx.Err() != nil {
				return
			}
			if h.OnEvent != nil {
				h.OnEvent(e)
			}
		}
		if h.OnEOSE != nil && !s.isClosed() {
			h.OnEOSE()
		}
	}()
	return s, nil
}

// Publish implements relay.Transport.
func (f *Fake) Publish(_ context.Context, urls []string, ev nostr.Event) []relay.PublishResult {
	out := make([]relay.PublishResult, len(urls))
	for i, u := range urls {
		f.mu.Lock()
		err := f.reject[u]
		if err == nil {
			f.published = append(f.published, ev)
		}
		f.mu.Unlock()
		out[i] = relay.PublishResult{Relay: u, Err: err}
		if err == nil {
			stored := ev
			f.Store(u, &stored)
		}
	}
	return out
}

// Get implements relay.Transport.
func (f *Fake) Get(ctx context.Context, urls []string, filter nostr.Filter) (*nostr.Event, error) {
	return relay.Collect(ctx, f, urls, filter)
}
