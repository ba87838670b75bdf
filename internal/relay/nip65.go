package relay

import (
	"slices"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/protocol"
)

// List is a user's advertised relays.
type List struct {
	Read  []string
	Write []string
}

// ParseList reads a kind-10002 relay list. Each r tag names a relay with an
// optional "read" or "write" marker; unmarked relays are used for both.
func ParseList(ev *nostr.Event) List {
	var l List
	if ev == nil || ev.Kind != protocol.KindRelayList {
		return l
	}
	for _, t := range ev.Tags {
		if len(t) < 2 || t[0] != "r" || t[1] == "" {
			continue
		}
		url := nostr.NormalizeURL(t[1])
		marker := ""
		if len(t) >= 3 {
			marker = t[2]
		}
		switch marker {
		case "read":
			l.Read = Merge(l.Read, url)
		case "write":
			l.Write = Merge(l.Write, url)
		default:
			l.Read = Merge(l.Read, url)
			l.Write = Merge(l.Write, url)
		}
	}
	return l
}

// Merge appends urls to base, skipping ones already present after
// normalization. base is not modified.
func Merge(base []string, urls ...string) []string {
	out := slices.Clone(base)
	for _, u := range urls {
		n := nostr.NormalizeURL(u)
		if n == "" || slices.ContainsFunc(out, func(have string) bool { return nostr.NormalizeURL(have) == n }) {
			continue
		}
		out = append(out, n)
	}
	return out
}
