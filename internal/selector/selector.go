// Package selector converts text-anchoring selectors to and from the flat tag
// rows carried by highlight events.
//
// Each selector becomes one row: the lower-cased type name followed by the
// variant's fields in a fixed order. Trailing empty fields are dropped;
// interior empty fields are kept so positions stay stable.
package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
)

var (
	quoteKey    = strings.ToLower(models.TextQuoteSelector)
	positionKey = strings.ToLower(models.TextPositionSelector)
	rangeKey    = strings.ToLower(models.RangeSelector)
)

// Encode returns one tag row per selector. Unknown selector types are
// skipped.
func Encode(selectors []models.Selector) nostr.Tags {
	out := make(nostr.Tags, 0, len(selectors))
	for _, s := range selectors {
		var row nostr.Tag
		switch s.Type {
		case models.TextQuoteSelector:
			row = nostr.Tag{quoteKey, s.Exact, s.Prefix, s.Suffix}
		case models.TextPositionSelector:
			row = nostr.Tag{positionKey, strconv.Itoa(s.Start), strconv.Itoa(s.End)}
		case models.RangeSelector:
			row = nostr.Tag{rangeKey, s.StartContainer, s.EndContainer,
				strconv.Itoa(s.StartOffset), strconv.Itoa(s.EndOffset)}
		default:
			continue
		}
		out = append(out, trimTrailing(row))
	}
	return out
}

// EncodeHighlight encodes the selectors of a highlight. It fails unless
// exactly one TextQuoteSelector is present, and returns that selector so the
// caller can use its exact text as the event content.
func EncodeHighlight(selectors []models.Selector) (nostr.Tags, models.Selector, error) {
	var quote models.Selector
	quotes := 0
	for _, s := range selectors {
		if s.Type == models.TextQuoteSelector {
			quote = s
			quotes++
		}
	}
	switch {
	case quotes == 0:
		return nil, models.Selector{}, fmt.Errorf("selector: encode highlight: %w", apperr.ErrMissingQuoteSelector)
	case quotes > 1:
		return nil, models.Selector{}, fmt.Errorf("selector: encode highlight: %d TextQuoteSelectors, want exactly one: %w",
			quotes, apperr.ErrMalformedSelector)
	}
	return Encode(selectors), quote, nil
}

// Decode reads every known selector row from tags, in tag order. Rows of
// unknown type are ignored. A numeric field that does not parse is an
// error.
func Decode(tags nostr.Tags) ([]models.Selector, error) {
	var out []models.Selector
	for _, row := range tags {
		if len(row) == 0 {
			continue
		}
		var (
			s   models.Selector
			err error
		)
		switch row[0] {
		case quoteKey:
			s = models.Selector{
				Type:   models.TextQuoteSelector,
				Exact:  field(row, 1),
				Prefix: field(row, 2),
				Suffix: field(row, 3),
			}
		case positionKey:
			s = models.Selector{Type: models.TextPositionSelector}
			if s.Start, err = intField(row, 1); err != nil {
				return nil, err
			}
			if s.End, err = intField(row, 2); err != nil {
				return nil, err
			}
		case rangeKey:
			s = models.Selector{
				Type:           models.RangeSelector,
				StartContainer: field(row, 1),
				EndContainer:   field(row, 2),
			}
			if s.StartOffset, err = intField(row, 3); err != nil {
				return nil, err
			}
			if s.EndOffset, err = intField(row, 4); err != nil {
				return nil, err
			}
		default:
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// DecodeHighlight decodes the selectors of a highlight event. When the event
// carries no quote row, its content becomes the exact text of a synthesized
// TextQuoteSelector placed first, so every highlight has a usable anchor.
func DecodeHighlight(ev *nostr.Event) ([]models.Selector, error) {
	selectors, err := Decode(ev.Tags)
	if err != nil {
		return nil, err
	}
	for _, s := range selectors {
		if s.Type == models.TextQuoteSelector {
			return selectors, nil
		}
	}
	quote := models.Selector{Type: models.TextQuoteSelector, Exact: ev.Content}
	return append([]models.Selector{quote}, selectors...), nil
}

func field(row nostr.Tag, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// intField parses an optional decimal field; absent or empty means zero.
func intField(row nostr.Tag, i int) (int, error) {
	v := field(row, i)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("selector: %s field %d %q: %w", row[0], i, v, apperr.ErrMalformedSelector)
	}
	return n, nil
}

func trimTrailing(row nostr.Tag) nostr.Tag {
	end := len(row)
	for end > 1 && row[end-1] == "" {
		end--
	}
	return row[:end]
}
