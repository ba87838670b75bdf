package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithBreakers sets the per-relay publish breakers.
func WithBreakers(b *Breakers) Option {
	return func(p *Pool) { p.breakers = b }
}

// WithTimeouts sets the per-relay publish timeout and the overall Get
// timeout.
func WithTimeouts(publish, get time.Duration) Option {
	return func(p *Pool) {
		p.publishTimeout = publish
		p.getTimeout = get
	}
}

// WithPublishObserver registers fn to be told the outcome of every
// per-relay publish.
func WithPublishObserver(fn func(relay string, err error)) Option {
	return func(p *Pool) { p.onPublish = fn }
}

// Pool is a Transport over a go-nostr SimplePool.
type Pool struct {
	pool     *nostr.SimplePool
	cancel   context.CancelFunc
	breakers *Breakers
	logger   *slog.Logger

	publishTimeout time.Duration
	getTimeout     time.Duration
	onPublish      func(string, error)
}

var _ Transport = (*Pool)(nil)

// NewPool creates a Pool. Connections live until Close or until ctx is
// cancelled.
func NewPool(ctx context.Context, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		pool:           nostr.NewSimplePool(ctx),
		cancel:         cancel,
		logger:         slog.Default(),
		publishTimeout: 10 * time.Second,
		getTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breakers == nil {
		p.breakers = NewBreakers(DefaultBreakerConfig(), p.logger)
	}
	return p
}

// SimplePool exposes the underlying pool, for NIP-46 sessions that need
// their own relay traffic.
func (p *Pool) SimplePool() *nostr.SimplePool {
	return p.pool
}

// Close drops every relay connection.
func (p *Pool) Close() {
	p.cancel()
}

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
	})
}

func (s *subscription) closedByCaller() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe opens filters on every url. Relays that cannot be reached count
// as closed with their dial error as reason. It fails only when no relay
// accepted the subscription.
func (p *Pool) Subscribe(ctx context.Context, urls []string, filters nostr.Filters, h Handler) (Closer, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{cancel: cancel}

	var (
		mu       sync.Mutex
		reasons  []string
		eoseLeft = len(urls)
		wg       sync.WaitGroup
	)
	addReason := func(r string) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	}
	relayDone := func() {
		mu.Lock()
		eoseLeft--
		fire := eoseLeft == 0
		mu.Unlock()
		if fire && h.OnEOSE != nil {
			h.OnEOSE()
		}
	}

	opened := 0
	for _, url := range urls {
		r, err := p.pool.EnsureRelay(url)
		if err != nil {
			addReason(url + ": " + err.Error())
			relayDone()
			continue
		}
		sub, err := r.Subscribe(subCtx, filters)
		if err != nil {
			addReason(url + ": " + err.Error())
			relayDone()
			continue
		}
		opened++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reason := p.drain(subCtx, url, sub, h, relayDone); reason != "" {
				addReason(reason)
			}
		}()
	}

	if opened == 0 {
		cancel()
		return nil, fmt.Errorf("relay: subscribe: %s", strings.Join(reasons, "; "))
	}

	go func() {
		wg.Wait()
		if s.closedByCaller() || h.OnClose == nil {
			return
		}
		mu.Lock()
		out := append([]string(nil), reasons...)
		mu.Unlock()
		h.OnClose(out)
	}()
	return s, nil
}

// drain forwards one relay's subscription to h until it ends and returns
// the close reason, or "" when the caller closed it.
func (p *Pool) drain(ctx context.Context, url string, sub *nostr.Subscription, h Handler, relayDone func()) string {
	eose := sub.EndOfStoredEvents
	var doneOnce sync.Once
	markDone := func() { doneOnce.Do(relayDone) }
	defer markDone()

	for {
		select {
		case <-ctx.Done():
			sub.Unsub()
			return ""
		case ev, ok := <-sub.Events:
			if !ok {
				if ctx.Err() != nil {
					return ""
				}
				return url + ": connection closed"
			}
			if h.OnEvent != nil {
				h.OnEvent(Event{Event: ev, Relay: url})
			}
		case <-eose:
			eose = nil
			markDone()
		case reason := <-sub.ClosedReason:
			p.logger.Debug("relay: subscription closed", slog.String("relay", url), slog.String("reason", reason))
			return url + ": " + reason
		}
	}
}

// Publish sends ev to every url concurrently and reports each answer.
func (p *Pool) Publish(ctx context.Context, urls []string, ev nostr.Event) []PublishResult {
	results := make([]PublishResult, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			err := p.breakers.Do(url, func() error {
				r, err := p.pool.EnsureRelay(url)
				if err != nil {
					return err
				}
				pctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
				defer cancel()
				return r.Publish(pctx, ev)
			})
			if err != nil {
				p.logger.Info("relay: publish rejected", slog.String("relay", url), slog.String("error", err.Error()))
			}
			if p.onPublish != nil {
				p.onPublish(url, err)
			}
			results[i] = PublishResult{Relay: url, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Get returns the newest matching event across urls.
func (p *Pool) Get(ctx context.Context, urls []string, filter nostr.Filter) (*nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.getTimeout)
	defer cancel()
	return Collect(ctx, p, urls, filter)
}

// Collect runs a one-shot subscription on t and returns the newest event
// delivered before end of stored events, closure, or ctx expiry.
func Collect(ctx context.Context, t Transport, urls []string, filter nostr.Filter) (*nostr.Event, error) {
	var (
		mu     sync.Mutex
		newest *nostr.Event
		done   = make(chan struct{})
		once   sync.Once
	)
	finish := func() { once.Do(func() { close(done) }) }

	sub, err := t.Subscribe(ctx, urls, nostr.Filters{filter}, Handler{
		OnEvent: func(e Event) {
			if !filter.Matches(e.Event) {
				return
			}
			mu.Lock()
			if newest == nil || e.Event.CreatedAt > newest.CreatedAt {
				newest = e.Event
			}
			mu.Unlock()
		},
		OnEOSE:  finish,
		OnClose: func([]string) { finish() },
	})
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case <-done:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}
	mu.Lock()
	defer mu.Unlock()
	return newest, nil
}
