package protocol

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, want, proto string
	}{
		{"https://Example.com/path/", "example.com/path", "https"},
		{"https://example.com:443/a#frag", "example.com/a", "https"},
		{"http://example.com:8080/a?b=1", "example.com:8080/a?b=1", "http"},
		{"HTTPS://example.com", "example.com", "https"},
		{"not a url", "not a url", ""},
	}
	for _, tc := range cases {
		got, proto := NormalizeURL(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.proto, proto, tc.in)
	}
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "ex.com", DocumentTitle("https://ex.com/a/b"))
	assert.Equal(t, "", DocumentTitle("http://localhost:3000/x"))
	assert.Equal(t, "", DocumentTitle("::not-a-url"))
}

func TestTagLookups(t *testing.T) {
	tags := nostr.Tags{
		{"E", "root"},
		{"t", "go"},
		{"t", ""},
		{"t", "nostr"},
		{"e"},
	}
	assert.Equal(t, "root", TagValue(tags, "E"))
	assert.Equal(t, "", TagValue(tags, "e"))
	assert.False(t, HasTag(tags, "e"))
	assert.Equal(t, []string{"go", "nostr"}, Hashtags(&nostr.Event{Tags: tags}))
	assert.Equal(t, []string{}, Hashtags(&nostr.Event{}))
}

func TestHashtagTagsSkipsEmpty(t *testing.T) {
	got := HashtagTags([]string{"a", "", "b"})
	assert.Equal(t, nostr.Tags{{"t", "a"}, {"t", "b"}}, got)
}

func TestEventURL(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	ev := nostr.Event{Kind: KindHighlight, CreatedAt: nostr.Now(), Content: "x"}
	require.NoError(t, ev.Sign(sk))

	link := EventURL("https://viewer.example/", &ev, []string{"wss://relay.example"})
	assert.True(t, strings.HasPrefix(link, "https://viewer.example/nevent1"), link)

	assert.True(t, strings.HasPrefix(EventURL("", &ev, nil), DefaultLinkBase+"/nevent1"))
	assert.Equal(t, "", EventURL("", nil, nil))

	prefix, value, err := nip19.Decode(strings.TrimPrefix(link, "https://viewer.example/"))
	require.NoError(t, err)
	assert.Equal(t, "nevent", prefix)
	assert.Equal(t, nostr.EventPointer{
		ID:     ev.ID,
		Relays: []string{"wss://relay.example"},
		Author: ev.PubKey,
		Kind:   KindHighlight,
	}, value)
}

func TestEncodeEventMatchesLibraryWithoutKind(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	id := strings.Repeat("ab", 32)
	relays := []string{"wss://a.example", "wss://b.example"}

	ours, err := EncodeEvent(nostr.EventPointer{ID: id, Relays: relays, Author: pk})
	require.NoError(t, err)
	theirs, err := nip19.EncodeEvent(id, relays, pk)
	require.NoError(t, err)
	assert.Equal(t, theirs, ours)

	_, err = EncodeEvent(nostr.EventPointer{ID: "short"})
	assert.Error(t, err)
}

func TestNewLocalTag(t *testing.T) {
	tag := NewLocalTag()
	assert.Len(t, tag, 10)
	assert.True(t, strings.HasPrefix(tag, "a:"))
	assert.NotEqual(t, tag, NewLocalTag())
}
