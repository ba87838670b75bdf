// Package relay is the publish/subscribe boundary to Nostr relays. The
// Transport interface is what orchestrators consume; Pool implements it over
// go-nostr relay connections.
package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Event is an event together with the relay that delivered it.
type Event struct {
	Event *nostr.Event
	Relay string
}

// Handler receives subscription callbacks. OnEvent may be called
// concurrently from several relays and once per relay that delivers the
// same event. OnEOSE fires once, after every relay reached the end of its
// stored events or failed. OnClose fires once when every relay has closed
// the subscription without the caller asking, with one reason per relay.
type Handler struct {
	OnEvent func(Event)
	OnEOSE  func()
	OnClose func(reasons []string)
}

// Closer tears down a subscription. Close is idempotent.
type Closer interface {
	Close()
}

// PublishResult is one relay's answer to a publish.
type PublishResult struct {
	Relay string
	Err   error
}

// OK reports whether the relay accepted the event.
func (r PublishResult) OK() bool { return r.Err == nil }

// Transport is a relay pool seen as a black box.
type Transport interface {
	Subscribe(ctx context.Context, urls []string, filters nostr.Filters, h Handler) (Closer, error)
	Publish(ctx context.Context, urls []string, ev nostr.Event) []PublishResult
	// Get returns the newest event matching filter across urls, or nil when
	// none matched.
	Get(ctx context.Context, urls []string, filter nostr.Filter) (*nostr.Event, error)
}

// AnyAccepted reports whether at least one relay accepted a publish.
func AnyAccepted(results []PublishResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}
