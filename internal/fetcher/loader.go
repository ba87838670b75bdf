package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/adapter"
	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/protocol"
	"github.com/starford/margin/internal/relay"
)

// ErrClosed is returned for loads started on behalf of subscriptions the
// Loader has since closed.
var ErrClosed = errors.New("loader: closed")

// ErrorHandler receives subscription-level failures: relay closures and,
// for thread loads, replies whose ancestors never arrived.
type ErrorHandler func(error)

// State is a subscription's lifecycle position.
type State int

// Subscription states.
const (
	StateIdle State = iota
	StateSubscribing
	StateStreaming
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Subscription is one open scope, such as the highlights of a URI.
type Subscription struct {
	Scope string

	// gen is the Loader close generation the subscription belongs to.
	gen uint64

	mu       sync.Mutex
	state    State
	closer   relay.Closer
	seen     map[string]struct{}
	finished bool
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscriptionInfo is a snapshot for status reporting.
type SubscriptionInfo struct {
	Scope  string `json:"scope"`
	State  string `json:"state"`
	Events int    `json:"events"`
}

// LoaderConfig holds the Loader's collaborators.
type LoaderConfig struct {
	Transport relay.Transport
	Relays    *relay.Directory
	Coll      index.Collection
	Adapters  *adapter.Set
	Logger    *slog.Logger
	Hooks     Hooks
}

// Loader opens relay subscriptions and feeds the collection. Events are
// adapted on their own goroutines because adaptation may wait for parents
// delivered later on the same or another subscription.
type Loader struct {
	ctx context.Context
	LoaderConfig

	mu      sync.Mutex
	gen     uint64
	subs    map[*Subscription]struct{}
	threads map[string]*Subscription
	wg      sync.WaitGroup
}

// NewLoader creates a Loader. ctx bounds every subscription and every
// in-flight adaptation; closing a subscription does not cancel adaptations
// already started.
func NewLoader(ctx context.Context, cfg LoaderConfig) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		ctx:          ctx,
		LoaderConfig: cfg,
		subs:         make(map[*Subscription]struct{}),
		threads:      make(map[string]*Subscription),
	}
}

// LoadByURI loads the highlights and the page notes of uri. Every highlight
// received also gets its thread loaded.
func (l *Loader) LoadByURI(uri string, onError ErrorHandler) error {
	if _, err := l.LoadHighlights(uri, onError); err != nil {
		return err
	}
	if _, err := l.LoadPageNotes(uri, onError); err != nil {
		return err
	}
	return nil
}

// LoadHighlights subscribes to highlights whose r tag is uri.
func (l *Loader) LoadHighlights(uri string, onError ErrorHandler) (*Subscription, error) {
	filter := nostr.Filter{
		Kinds: []int{protocol.KindHighlight},
		Tags:  nostr.TagMap{protocol.TagSource: []string{uri}},
	}
	s := l.newSubscription("highlights:" + uri)
	return l.open(s, filter, uri, onError, func(ann *models.Annotation) {
		_, err := l.loadThread(s.gen, ann.ID, onError)
		if err != nil && !errors.Is(err, ErrClosed) {
			l.Logger.Warn("loader: thread load failed", slog.String("root", ann.ID), slog.String("error", err.Error()))
		}
	})
}

// LoadPageNotes subscribes to comments anchored to uri's normalized form.
func (l *Loader) LoadPageNotes(uri string, onError ErrorHandler) (*Subscription, error) {
	normalized, _ := protocol.NormalizeURL(uri)
	filter := nostr.Filter{
		Kinds: []int{protocol.KindComment},
		Tags:  nostr.TagMap{protocol.TagRootURI: []string{normalized}},
	}
	return l.open(l.newSubscription("pagenotes:"+normalized), filter, uri, onError, nil)
}

// LoadThread subscribes to replies whose root is rootID. A thread already
// being loaded is not opened twice.
func (l *Loader) LoadThread(rootID string, onError ErrorHandler) (*Subscription, error) {
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	return l.loadThread(gen, rootID, onError)
}

// loadThread opens the thread of rootID unless the generation that asked
// for it has been closed. The slot in threads is taken before subscribing
// so concurrent callers share one subscription.
func (l *Loader) loadThread(gen uint64, rootID string, onError ErrorHandler) (*Subscription, error) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := l.threads[rootID]; ok {
		if st := s.State(); st == StateSubscribing || st == StateStreaming {
			l.mu.Unlock()
			return s, nil
		}
	}
	s := &Subscription{Scope: "thread:" + rootID, gen: gen, state: StateSubscribing, seen: make(map[string]struct{})}
	l.threads[rootID] = s
	l.mu.Unlock()

	filter := nostr.Filter{
		Kinds: []int{protocol.KindComment},
		Tags:  nostr.TagMap{protocol.TagRootEvent: []string{rootID}},
	}
	if _, err := l.open(s, filter, "", onError, nil); err != nil {
		l.mu.Lock()
		if l.threads[rootID] == s {
			delete(l.threads, rootID)
		}
		l.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// newSubscription creates a subscription in the current generation.
func (l *Loader) newSubscription(scope string) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Subscription{Scope: scope, gen: l.gen, state: StateSubscribing, seen: make(map[string]struct{})}
}

// live reports whether s still belongs to the current generation.
func (l *Loader) live(s *Subscription) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return s.gen == l.gen
}

func (l *Loader) open(s *Subscription, filter nostr.Filter, uri string, onError ErrorHandler, then func(*models.Annotation)) (*Subscription, error) {
	scope := s.Scope
	if !l.live(s) {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if onError == nil {
		onError = func(err error) {
			l.Logger.Warn("loader: subscription error", slog.String("scope", scope), slog.String("error", err.Error()))
		}
	}
	l.Coll.FetchStarted()
	l.Hooks.fetch(scope, true)

	closer, err := l.Transport.Subscribe(l.ctx, l.Relays.Read(), nostr.Filters{filter}, relay.Handler{
		OnEvent: func(e relay.Event) { l.receive(s, e, uri, onError, then) },
		OnEOSE:  func() { l.finish(s) },
		OnClose: func(reasons []string) {
			s.mu.Lock()
			if s.state != StateClosed {
				s.state = StateErrored
			}
			s.mu.Unlock()
			l.finish(s)
			onError(fmt.Errorf("loader: %s closed: %s", scope, strings.Join(reasons, ". ")))
		},
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateErrored
		s.mu.Unlock()
		l.finish(s)
		return nil, fmt.Errorf("loader: %s: %w", scope, err)
	}

	s.mu.Lock()
	s.closer = closer
	if s.state == StateSubscribing {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	l.mu.Lock()
	if s.gen != l.gen {
		// Close ran while the relays were subscribing.
		l.mu.Unlock()
		l.CloseSubscription(s)
		return nil, ErrClosed
	}
	l.subs[s] = struct{}{}
	l.mu.Unlock()
	l.Logger.Debug("loader: subscribed", slog.String("scope", scope))
	return s, nil
}

func (l *Loader) receive(s *Subscription, e relay.Event, uri string, onError ErrorHandler, then func(*models.Annotation)) {
	ev := e.Event
	l.Hooks.event(ev.Kind)

	s.mu.Lock()
	if s.state == StateSubscribing {
		s.state = StateStreaming
	}
	_, dup := s.seen[ev.ID]
	s.seen[ev.ID] = struct{}{}
	s.mu.Unlock()

	if err := l.Coll.RecordRelays(l.ctx, ev.ID, []string{e.Relay}); err != nil {
		l.Logger.Debug("loader: record relay failed", slog.String("error", err.Error()))
	}
	if dup {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.process(s, ev, uri, []string{e.Relay}, onError, then)
	}()
}

func (l *Loader) process(s *Subscription, ev *nostr.Event, uri string, relays []string, onError ErrorHandler, then func(*models.Annotation)) {
	ann, err := l.Adapters.ToAnnotation(l.ctx, ev, uri, relays)
	if err != nil {
		reason := skipReason(err)
		l.Hooks.skip(reason)
		if ev.Kind == protocol.KindComment && protocol.HasTag(ev.Tags, protocol.TagRootEvent) &&
			(errors.Is(err, apperr.ErrReferenceNotFound) || errors.Is(err, apperr.ErrRootMismatch)) {
			onError(err)
			return
		}
		l.Logger.Info("loader: event skipped",
			slog.String("id", ev.ID), slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}
	if ann == nil {
		l.Hooks.skip("unresolved_parent")
		return
	}

	if err := l.Coll.Upsert(l.ctx, []models.Annotation{*ann}); err != nil {
		l.Logger.Warn("loader: upsert failed", slog.String("id", ann.ID), slog.String("error", err.Error()))
		return
	}
	l.Hooks.upsert(*ann)
	if then != nil && s.State() != StateClosed && l.live(s) {
		then(ann)
	}
}

func (l *Loader) finish(s *Subscription) {
	s.mu.Lock()
	already := s.finished
	s.finished = true
	s.mu.Unlock()
	if already {
		return
	}
	l.Coll.FetchFinished()
	l.Hooks.fetch(s.Scope, false)
}

// CloseSubscription tears one subscription down.
func (l *Loader) CloseSubscription(s *Subscription) {
	s.mu.Lock()
	s.state = StateClosed
	closer := s.closer
	s.mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	l.finish(s)

	l.mu.Lock()
	delete(l.subs, s)
	l.mu.Unlock()
}

// Close tears down every open subscription. Adaptations already running
// finish storing their annotation but open nothing new; loads requested
// after Close start afresh.
func (l *Loader) Close() {
	l.mu.Lock()
	l.gen++
	subs := make([]*Subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.threads = make(map[string]*Subscription)
	l.mu.Unlock()

	for _, s := range subs {
		l.CloseSubscription(s)
	}
}

// Subscriptions returns a snapshot of the open subscriptions.
func (l *Loader) Subscriptions() []SubscriptionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SubscriptionInfo, 0, len(l.subs))
	for s := range l.subs {
		s.mu.Lock()
		out = append(out, SubscriptionInfo{Scope: s.Scope, State: s.state.String(), Events: len(s.seen)})
		s.mu.Unlock()
	}
	return out
}

// Wait blocks until every adaptation started so far has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrReferenceNotFound):
		return "reference_not_found"
	case errors.Is(err, apperr.ErrRootMismatch):
		return "root_mismatch"
	case errors.Is(err, apperr.ErrMalformedSelector):
		return "malformed_selector"
	case errors.Is(err, apperr.ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, apperr.ErrInvalidEvent):
		return "invalid_event"
	default:
		return "error"
	}
}
