package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/models"
)

type memColl struct {
	mu    sync.Mutex
	items map[string]*models.Annotation
	finds int
	err   error
}

func newMemColl(anns ...*models.Annotation) *memColl {
	c := &memColl{items: map[string]*models.Annotation{}}
	for _, a := range anns {
		c.items[a.ID] = a
	}
	return c
}

func (c *memColl) FindByID(_ context.Context, id string) (*models.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	if c.err != nil {
		return nil, c.err
	}
	return c.items[id], nil
}

func (c *memColl) put(a *models.Annotation) {
	c.mu.Lock()
	c.items[a.ID] = a
	c.mu.Unlock()
}

type sleepRecorder struct {
	delays []time.Duration
	after  func(n int)
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	if s.after != nil {
		s.after(len(s.delays))
	}
	return nil
}

func recordedPolicy(rec *sleepRecorder) Policy {
	p := DefaultPolicy()
	p.Sleep = rec.sleep
	return p
}

func TestDefaultPolicyDelays(t *testing.T) {
	want := []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second, 25 * time.Second}
	assert.Equal(t, want, DefaultPolicy().Delays())
}

func TestResolveExhaustsFiveAttempts(t *testing.T) {
	coll := newMemColl()
	rec := &sleepRecorder{}
	r := New(coll, recordedPolicy(rec), nil)

	_, err := r.Resolve(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrReferenceNotFound)
	assert.Equal(t, 5, coll.finds)
	assert.Equal(t, DefaultPolicy().Delays(), rec.delays)
}

func TestResolveSurfacesStorageError(t *testing.T) {
	diskErr := errors.New("database is locked")
	coll := newMemColl()
	coll.err = diskErr
	rec := &sleepRecorder{}
	r := New(coll, recordedPolicy(rec), nil)

	_, err := r.Resolve(context.Background(), "any")
	require.ErrorIs(t, err, diskErr)
	assert.NotErrorIs(t, err, apperr.ErrReferenceNotFound)
	assert.Equal(t, 1, coll.finds)
	assert.Empty(t, rec.delays)
}

func TestResolveSeesLateArrival(t *testing.T) {
	coll := newMemColl()
	rec := &sleepRecorder{}
	rec.after = func(n int) {
		if n == 2 {
			coll.put(&models.Annotation{ID: "late"})
		}
	}
	r := New(coll, recordedPolicy(rec), nil)

	a, err := r.Resolve(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, "late", a.ID)
	assert.Equal(t, 3, coll.finds)
	assert.Len(t, rec.delays, 2)
}

func TestResolveStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := New(newMemColl(), p, nil).Resolve(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	p := Policy{Attempts: 3, Initial: time.Millisecond, Factor: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	var retries []int
	p.OnRetry = func(attempt int, _ time.Duration) { retries = append(retries, attempt) }

	_, err := Retry(context.Background(), p, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	p := Policy{Attempts: 3, Initial: time.Millisecond, Factor: 2, Sleep: func(context.Context, time.Duration) error { return nil }}

	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(boom)
	})
	assert.Equal(t, boom, err)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func reply(tags nostr.Tags) *nostr.Event {
	return &nostr.Event{ID: "reply", Kind: 1111, Tags: tags}
}

func TestChainForDirectReply(t *testing.T) {
	root := &models.Annotation{ID: "root"}
	r := New(newMemColl(root), recordedPolicy(&sleepRecorder{}), nil)

	chain, err := r.ChainFor(context.Background(), reply(nostr.Tags{{"E", "root"}, {"K", "9802"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, chain.References)
	assert.Same(t, root, chain.Root)
}

func TestChainForNestedReply(t *testing.T) {
	root := &models.Annotation{ID: "root"}
	mid := &models.Annotation{ID: "mid", References: []string{"root"}}
	r := New(newMemColl(root, mid), recordedPolicy(&sleepRecorder{}), nil)

	chain, err := r.ChainFor(context.Background(), reply(nostr.Tags{{"E", "root"}, {"e", "mid"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "mid"}, chain.References)
	assert.Equal(t, append(append([]string{}, mid.References...), mid.ID), chain.References)
}

func TestChainForRootMismatch(t *testing.T) {
	root := &models.Annotation{ID: "root"}
	other := &models.Annotation{ID: "other-root"}
	mid := &models.Annotation{ID: "mid", References: []string{"other-root"}}
	r := New(newMemColl(root, other, mid), recordedPolicy(&sleepRecorder{}), nil)

	_, err := r.ChainFor(context.Background(), reply(nostr.Tags{{"E", "root"}, {"e", "mid"}}))
	assert.ErrorIs(t, err, apperr.ErrRootMismatch)

	_, err = r.ChainFor(context.Background(), reply(nostr.Tags{{"E", "root"}, {"e", "other-root"}}))
	assert.ErrorIs(t, err, apperr.ErrRootMismatch)
}

func TestChainForRequiresRootTag(t *testing.T) {
	r := New(newMemColl(), recordedPolicy(&sleepRecorder{}), nil)
	_, err := r.ChainFor(context.Background(), reply(nostr.Tags{{"e", "x"}}))
	assert.ErrorIs(t, err, apperr.ErrInvalidEvent)
}
