package selector

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
)

func TestRoundTrip(t *testing.T) {
	in := []models.Selector{
		{Type: models.TextQuoteSelector, Exact: "hello", Prefix: "say ", Suffix: "!"},
		{Type: models.TextPositionSelector, Start: 10, End: 15},
		{Type: models.RangeSelector, StartContainer: "/div[1]/p[2]", EndContainer: "/div[1]/p[3]", StartOffset: 4, EndOffset: 9},
	}

	tags := Encode(in)
	require.Len(t, tags, 3)
	assert.Equal(t, nostr.Tag{"textquoteselector", "hello", "say ", "!"}, tags[0])
	assert.Equal(t, nostr.Tag{"textpositionselector", "10", "15"}, tags[1])

	out, err := Decode(tags)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeOmitsTrailingEmptyFields(t *testing.T) {
	tags := Encode([]models.Selector{
		{Type: models.TextQuoteSelector, Exact: "only"},
		{Type: models.TextQuoteSelector, Exact: "mid", Suffix: "end"},
	})
	assert.Equal(t, nostr.Tag{"textquoteselector", "only"}, tags[0])
	assert.Equal(t, nostr.Tag{"textquoteselector", "mid", "", "end"}, tags[1])
}

func TestEncodeSkipsUnknownTypes(t *testing.T) {
	tags := Encode([]models.Selector{{Type: "FragmentSelector"}})
	assert.Empty(t, tags)
}

func TestEncodeHighlightRequiresQuote(t *testing.T) {
	_, _, err := EncodeHighlight([]models.Selector{
		{Type: models.RangeSelector, StartContainer: "/p", EndContainer: "/p", StartOffset: 1, EndOffset: 2},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrMissingQuoteSelector)
	assert.Contains(t, err.Error(), "TextQuoteSelector")
}

func TestEncodeHighlightRejectsTwoQuotes(t *testing.T) {
	_, _, err := EncodeHighlight([]models.Selector{
		{Type: models.TextQuoteSelector, Exact: "a"},
		{Type: models.TextQuoteSelector, Exact: "b"},
	})
	assert.ErrorIs(t, err, apperr.ErrMalformedSelector)
}

func TestEncodeHighlightReturnsQuote(t *testing.T) {
	tags, quote, err := EncodeHighlight([]models.Selector{
		{Type: models.TextPositionSelector, Start: 1, End: 2},
		{Type: models.TextQuoteSelector, Exact: "quoted"},
	})
	require.NoError(t, err)
	assert.Equal(t, "quoted", quote.Exact)
	assert.Len(t, tags, 2)
}

func TestDecodeIgnoresUnrelatedTags(t *testing.T) {
	out, err := Decode(nostr.Tags{{"r", "https://ex.com"}, {"t", "go"}, {}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeMalformedNumber(t *testing.T) {
	_, err := Decode(nostr.Tags{{"textpositionselector", "ten", "15"}})
	assert.ErrorIs(t, err, apperr.ErrMalformedSelector)

	_, err = Decode(nostr.Tags{{"rangeselector", "/a", "/b", "1", "x"}})
	assert.ErrorIs(t, err, apperr.ErrMalformedSelector)
}

func TestDecodeHighlightFallsBackToContent(t *testing.T) {
	ev := &nostr.Event{
		Content: "quoted text",
		Tags:    nostr.Tags{{"r", "https://ex.com"}, {"textpositionselector", "3", "14"}},
	}
	out, err := DecodeHighlight(ev)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.Selector{Type: models.TextQuoteSelector, Exact: "quoted text"}, out[0])
	assert.Equal(t, models.TextPositionSelector, out[1].Type)
}

func TestDecodeHighlightKeepsExplicitQuote(t *testing.T) {
	ev := &nostr.Event{
		Content: "content",
		Tags:    nostr.Tags{{"textquoteselector", "exact", "pre"}},
	}
	out, err := DecodeHighlight(ev)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "exact", out[0].Exact)
	assert.Equal(t, "pre", out[0].Prefix)
}
