package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/resolver"
	"github.com/starford/margin/internal/settings"
	"github.com/starford/margin/internal/testutil"
)

type stubProfiles map[string]string

func (s stubProfiles) Lookup(_ context.Context, pk string) (models.Profile, error) {
	name, ok := s[pk]
	if !ok {
		return models.Profile{}, errors.New("no profile")
	}
	return models.Profile{PublicKey: pk, DisplayName: name}, nil
}

type env struct {
	db     *index.DB
	set    *Set
	sk, pk string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.TestDB(t)
	sk, pk := testutil.Keypair(t)
	policy := resolver.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	set := NewSet(Deps{
		Session:  settings.Static{State: settings.State{ConnectMode: settings.ModeNsec, PrivateKeyHex: sk, PublicKeyHex: pk}},
		Profiles: stubProfiles{pk: "alice"},
		Resolver: resolver.New(db, policy, testutil.DiscardLogger()),
		Logger:   testutil.DiscardLogger(),
	})
	return &env{db: db, set: set, sk: sk, pk: pk}
}

func (e *env) insert(t *testing.T, anns ...*models.Annotation) {
	t.Helper()
	for _, a := range anns {
		require.NoError(t, e.db.Upsert(context.Background(), []models.Annotation{*a}))
	}
}

func TestHighlightThenReplyScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := testutil.SignedEvent(t, e.sk, 9802, "quoted text", nostr.Tags{{"r", "https://ex.com"}})
	ha, err := e.set.ToAnnotation(ctx, a, "", []string{"wss://relay.example"})
	require.NoError(t, err)
	require.NotNil(t, ha)

	assert.Equal(t, a.ID, ha.ID)
	assert.Equal(t, "https://ex.com", ha.URI)
	assert.Equal(t, "", ha.Text)
	require.Len(t, ha.Target, 1)
	assert.Equal(t, []models.Selector{{Type: models.TextQuoteSelector, Exact: "quoted text"}}, ha.Target[0].Selector)
	assert.Empty(t, ha.References)
	assert.Equal(t, "ex.com", ha.Document.Title)
	assert.Equal(t, "alice", ha.UserInfo.DisplayName)
	assert.Contains(t, ha.Links.HTML, "https://njump.me/nevent1")
	assert.Regexp(t, `^a:[0-9a-f]{8}$`, ha.Tag)
	assert.Equal(t, models.WorldReadable(), ha.Permissions)
	e.insert(t, ha)

	b := testutil.SignedEvent(t, e.sk, 1111, "a reply", nostr.Tags{{"E", a.ID}, {"K", "9802"}, {"P", a.PubKey}})
	ra, err := e.set.ToAnnotation(ctx, b, "", nil)
	require.NoError(t, err)
	require.NotNil(t, ra)

	assert.Equal(t, b.ID, ra.ID)
	assert.Equal(t, []string{a.ID}, ra.References)
	assert.Equal(t, "a reply", ra.Text)
	assert.Equal(t, "https://ex.com", ra.URI)
	assert.Equal(t, models.ClusterUser, ra.Cluster)
}

func TestHighlightTitleAndProfileFallbacks(t *testing.T) {
	e := newEnv(t)
	otherSK, _ := testutil.Keypair(t)
	ev := testutil.SignedEvent(t, otherSK, 9802, "x", nostr.Tags{{"r", "http://localhost:3000/page"}})

	ann, err := e.set.Highlight.ToAnnotation(context.Background(), ev, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "", ann.Document.Title)
	assert.Equal(t, "", ann.UserInfo.DisplayName, "missing profile is not fatal")
	assert.Equal(t, []string{}, ann.Tags)
}

func TestHighlightMalformedSelectorIsError(t *testing.T) {
	e := newEnv(t)
	ev := testutil.SignedEvent(t, e.sk, 9802, "x", nostr.Tags{
		{"r", "https://ex.com"},
		{"textpositionselector", "ten", "15"},
	})
	_, err := e.set.Highlight.ToAnnotation(context.Background(), ev, "", nil)
	assert.ErrorIs(t, err, apperr.ErrMalformedSelector)
}

func TestHighlightToEvent(t *testing.T) {
	e := newEnv(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	draft := &models.Annotation{
		URI:     "https://ex.com/a",
		Created: created,
		Tags:    []string{"go", ""},
		Target: []models.Target{{Source: "https://ex.com/a", Selector: []models.Selector{
			{Type: models.TextQuoteSelector, Exact: "hello", Prefix: "say ", Suffix: "!"},
			{Type: models.TextPositionSelector, Start: 10, End: 15},
		}}},
	}

	ev, err := e.set.Highlight.ToEvent(draft)
	require.NoError(t, err)
	assert.Equal(t, 9802, ev.Kind)
	assert.Equal(t, "hello", ev.Content)
	assert.Equal(t, nostr.Timestamp(created.Unix()), ev.CreatedAt)
	assert.Equal(t, nostr.Tags{
		{"r", "https://ex.com/a"},
		{"t", "go"},
		{"textquoteselector", "hello", "say ", "!"},
		{"textpositionselector", "10", "15"},
	}, ev.Tags)
	assert.Empty(t, draft.ID)
}

func TestHighlightToEventRequiresQuote(t *testing.T) {
	e := newEnv(t)
	draft := &models.Annotation{
		URI: "https://ex.com",
		Target: []models.Target{{Source: "https://ex.com", Selector: []models.Selector{
			{Type: models.RangeSelector, StartContainer: "/p[1]", EndContainer: "/p[2]"},
		}}},
	}
	_, err := e.set.Highlight.ToEvent(draft)
	require.ErrorIs(t, err, apperr.ErrMissingQuoteSelector)
	assert.Contains(t, err.Error(), "TextQuoteSelector")
}

func TestPageNoteRoundTrip(t *testing.T) {
	e := newEnv(t)
	draft := &models.Annotation{
		URI:      "https://Example.com/Article/#top",
		Text:     "nice page",
		Tags:     []string{"reading"},
		Document: models.Document{Title: "An Article"},
	}
	tmpl, err := e.set.PageNote.ToEvent(draft)
	require.NoError(t, err)
	assert.Equal(t, nostr.Tags{
		{"I", "example.com/Article"},
		{"K", "https"},
		{"i", "example.com/Article"},
		{"k", "https"},
		{"t", "reading"},
		{"document_title", "An Article"},
	}, tmpl.Tags)

	require.NoError(t, tmpl.Sign(e.sk))
	ann, err := e.set.ToAnnotation(context.Background(), &tmpl, "https://example.com/Article", nil)
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "https://example.com/Article", ann.URI)
	assert.Equal(t, "An Article", ann.Document.Title)
	assert.Equal(t, "nice page", ann.Text)
	assert.Equal(t, []string{"reading"}, ann.Tags)
	assert.False(t, ann.Highlight)
	assert.Empty(t, ann.References)
	assert.True(t, IsPageNote(ann))
}

func TestPageNoteURIFromTags(t *testing.T) {
	e := newEnv(t)
	ev := testutil.SignedEvent(t, e.sk, 1111, "n", nostr.Tags{{"I", "ex.com/x"}, {"K", "https"}})
	ann, err := e.set.PageNote.ToAnnotation(context.Background(), ev, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://ex.com/x", ann.URI)
}

func TestPageNoteReplyNeedsParent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	orphan := testutil.SignedEvent(t, e.sk, 1111, "orphan", nostr.Tags{
		{"I", "ex.com"}, {"K", "https"}, {"e", "0000000000000000000000000000000000000000000000000000000000000000"},
	})
	ann, err := e.set.PageNote.ToAnnotation(ctx, orphan, "https://ex.com", nil)
	require.NoError(t, err)
	assert.Nil(t, ann, "unresolved parent skips the event")

	root := testutil.SignedEvent(t, e.sk, 1111, "root note", nostr.Tags{
		{"I", "ex.com"}, {"K", "https"}, {"i", "ex.com"}, {"k", "https"}, {"document_title", "Ex"},
	})
	rootAnn, err := e.set.PageNote.ToAnnotation(ctx, root, "https://ex.com", nil)
	require.NoError(t, err)
	e.insert(t, rootAnn)

	tmpl, err := e.set.PageNote.ReplyEvent(rootAnn, &models.Annotation{Text: "agreed", Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, nostr.Tags{
		{"I", "ex.com"}, {"K", "https"},
		{"e", rootAnn.ID}, {"k", "1111"}, {"p", e.pk},
		{"t", "x"},
	}, tmpl.Tags)

	require.NoError(t, tmpl.Sign(e.sk))
	replyAnn, err := e.set.ToAnnotation(ctx, &tmpl, "https://ex.com", nil)
	require.NoError(t, err)
	require.NotNil(t, replyAnn)
	assert.Equal(t, []string{rootAnn.ID}, replyAnn.References)
	assert.Equal(t, "Ex", replyAnn.Document.Title)
}

func TestThreadNestedChain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	h := testutil.SignedEvent(t, e.sk, 9802, "q", nostr.Tags{{"r", "https://ex.com"}})
	hAnn, _ := e.set.Highlight.ToAnnotation(ctx, h, "", nil)
	e.insert(t, hAnn)

	firstTmpl, err := e.set.Thread.ToEvent(ctx, hAnn, &models.Annotation{Text: "first", Tags: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, nostr.Tags{
		{"t", "t1"},
		{"E", h.ID}, {"K", "9802"}, {"P", e.pk},
		{"e", h.ID}, {"k", "9802"}, {"p", e.pk},
	}, firstTmpl.Tags)
	require.NoError(t, firstTmpl.Sign(e.sk))
	first, err := e.set.Thread.ToAnnotation(ctx, &firstTmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{h.ID}, first.References)
	e.insert(t, first)

	secondTmpl, err := e.set.Thread.ToEvent(ctx, first, &models.Annotation{Text: "second"})
	require.NoError(t, err)
	assert.Equal(t, nostr.Tags{
		{"E", h.ID}, {"K", "9802"}, {"P", e.pk},
		{"e", first.ID}, {"k", "1111"}, {"p", e.pk},
	}, secondTmpl.Tags)
	require.NoError(t, secondTmpl.Sign(e.sk))
	second, err := e.set.Thread.ToAnnotation(ctx, &secondTmpl, nil)
	require.NoError(t, err)
	assert.Equal(t, append(append([]string{}, first.References...), first.ID), second.References)
}

func TestThreadMissingRootPropagates(t *testing.T) {
	e := newEnv(t)
	ev := testutil.SignedEvent(t, e.sk, 1111, "lost", nostr.Tags{
		{"E", "1111111111111111111111111111111111111111111111111111111111111111"},
	})
	ann, err := e.set.ToAnnotation(context.Background(), ev, "", nil)
	assert.Nil(t, ann)
	assert.ErrorIs(t, err, apperr.ErrReferenceNotFound)
}

func TestThreadToEventValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.set.Thread.ToEvent(ctx, &models.Annotation{ID: "x"}, &models.Annotation{})
	assert.ErrorIs(t, err, apperr.ErrNoEvent)
	assert.Contains(t, err.Error(), "Nostr event")

	note := testutil.SignedEvent(t, e.sk, 1111, "note", nostr.Tags{{"I", "ex.com"}, {"K", "https"}})
	noteAnn, _ := e.set.PageNote.ToAnnotation(ctx, note, "https://ex.com", nil)
	_, err = e.set.Thread.ToEvent(ctx, noteAnn, &models.Annotation{})
	assert.ErrorIs(t, err, apperr.ErrKindMismatch)

	_, err = e.set.Thread.ToEvent(ctx, &models.Annotation{}, &models.Annotation{})
	assert.ErrorIs(t, err, apperr.ErrDraftNotSaved)
}

func TestSetRejectsUnknownKind(t *testing.T) {
	e := newEnv(t)
	ev := testutil.SignedEvent(t, e.sk, 1, "hi", nil)
	_, err := e.set.ToAnnotation(context.Background(), ev, "", nil)
	assert.ErrorIs(t, err, apperr.ErrKindMismatch)
}
