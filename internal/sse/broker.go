// Package sse implements a Server-Sent Events broker that pushes collection
// changes to browser clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/margin/internal/protocol"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string
	// URI limits delivery to clients watching that page. Empty reaches every
	// client.
	URI  string
	Data interface{}
}

// Event types pushed to clients.
const (
	TypeAnnotationAdded   = "annotation.added"
	TypeCollectionUpdated = "collection.updated"
	TypeFetchStarted      = "fetch.started"
	TypeFetchFinished     = "fetch.finished"
	TypeLoadError         = "load.error"
)

const (
	defaultThrottle  = 2 * time.Second
	defaultHeartbeat = 25 * time.Second
	clientBuffer     = 64
)

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams receive a comment line so
// proxies keep them open.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

type client struct {
	ch chan []byte
	// page is the normalized URI the client watches, or "" for all pages.
	page string
}

type subscribeReq struct {
	c    client
	done chan struct{}
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the client set, the event sequence and
// the collection.updated throttle; public methods talk to it over channels.
type Broker struct {
	updateMin time.Duration
	heartbeat time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changedCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. collection.updated is sent at most once per
// throttle interval; a change inside the interval is flushed when it ends.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = defaultThrottle
	}

	b := &Broker{
		updateMin:     throttle,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changedCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func pageKey(uri string) string {
	if uri == "" {
		return ""
	}
	normalized, _ := protocol.NormalizeURL(uri)
	return normalized
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]client)
	var (
		seq        uint64
		lastUpdate time.Time
		flush      *time.Timer
		flushC     <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		page := pageKey(event.URI)
		for ch, c := range clients {
			if page != "" && c.page != "" && c.page != page {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	updated := func(now time.Time) {
		lastUpdate = now
		broadcast(Event{Type: TypeCollectionUpdated, Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			if flush != nil {
				flush.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.c.ch] = req.c
			close(req.done)

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case event := <-b.changedCh:
			broadcast(event)

			now := time.Now()
			wait := b.updateMin - now.Sub(lastUpdate)
			switch {
			case wait <= 0:
				updated(now)
			case flush == nil:
				flush = time.NewTimer(wait)
				flushC = flush.C
			}

		case now := <-flushC:
			flush, flushC = nil, nil
			updated(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client watching uri ("" for every page) and returns its
// channel.
func (b *Broker) Subscribe(uri string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	req := subscribeReq{c: client{ch: ch, page: pageKey(uri)}, done: make(chan struct{})}
	select {
	case b.subscribeCh <- req:
		<-req.done
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) send(ch chan Event, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case ch <- event:
	case <-b.stopped:
	}
}

// Publish sends an event to the clients it is addressed to.
func (b *Broker) Publish(event Event) {
	b.send(b.publishCh, event)
}

// PublishAnnotation announces an upserted annotation to clients watching its
// page and schedules a collection.updated for everyone.
func (b *Broker) PublishAnnotation(id, uri string) {
	b.send(b.changedCh, Event{
		Type: TypeAnnotationAdded,
		URI:  uri,
		Data: map[string]string{"id": id, "uri": uri},
	})
}

// PublishFetch announces a fetch starting or reaching the end of its stored
// events.
func (b *Broker) PublishFetch(scope string, started bool) {
	typ := TypeFetchFinished
	if started {
		typ = TypeFetchStarted
	}
	b.Publish(Event{Type: typ, Data: map[string]string{"scope": scope}})
}

// PublishLoadError reports a fetch that a relay ended with an error.
func (b *Broker) PublishLoadError(scope string, err error) {
	b.Publish(Event{Type: TypeLoadError, Data: map[string]string{"scope": scope, "error": err.Error()}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events[?uri=]). Events
// missed while a client was disconnected are not replayed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: 3000\n\n"))
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("uri"))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping " + strconv.FormatInt(time.Now().Unix(), 10) + "\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
