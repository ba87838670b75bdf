// Package protocol holds the Nostr wire conventions margin relies on: kind
// numbers, tag letters, and the helpers that read and build tags.
package protocol

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds.
const (
	KindProfileMetadata = 0
	KindHighlight       = 9802
	KindComment         = 1111
	KindRelayList       = 10002
)

// Tag letters. Uppercase letters point at the thread root, lowercase at the
// immediate parent.
const (
	TagRootEvent    = "E"
	TagRootKind     = "K"
	TagRootAuthor   = "P"
	TagRootURI      = "I"
	TagParentEvent  = "e"
	TagParentKind   = "k"
	TagParentAuthor = "p"
	TagParentURI    = "i"
	TagSource       = "r"
	TagHashtag      = "t"
	TagDocTitle     = "document_title"
)

// TagValue returns the value of the first tag named key, or "".
func TagValue(tags nostr.Tags, key string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == key {
			return t[1]
		}
	}
	return ""
}

// HasTag reports whether any tag named key carries a value.
func HasTag(tags nostr.Tags, key string) bool {
	return TagValue(tags, key) != ""
}

// TagValues returns every non-empty value of tags named key, in order.
func TagValues(tags nostr.Tags, key string) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == key && t[1] != "" {
			out = append(out, t[1])
		}
	}
	return out
}

// Hashtags returns the event's hashtags. Never nil.
func Hashtags(ev *nostr.Event) []string {
	out := TagValues(ev.Tags, TagHashtag)
	if out == nil {
		return []string{}
	}
	return out
}

// HashtagTags builds one t tag per non-empty hashtag.
func HashtagTags(hashtags []string) nostr.Tags {
	out := make(nostr.Tags, 0, len(hashtags))
	for _, h := range hashtags {
		if h == "" {
			continue
		}
		out = append(out, nostr.Tag{TagHashtag, h})
	}
	return out
}

// KindString formats a kind for K/k tags.
func KindString(kind int) string {
	return strconv.Itoa(kind)
}
