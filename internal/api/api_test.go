package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nbd-wtf/go-nostr"

	"github.com/starford/margin/internal/adapter"
	"github.com/starford/margin/internal/annotationservice"
	"github.com/starford/margin/internal/fetcher"
	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/relay/relaytest"
	"github.com/starford/margin/internal/resolver"
	"github.com/starford/margin/internal/settings"
	"github.com/starford/margin/internal/signer"
	"github.com/starford/margin/internal/testutil"
)

const (
	testRelay = "wss://relay.example"
	testURI   = "https://ex.com/post"
)

// testEnv wires the annotation service over a fake relay and a temp DB.
// An empty token means disabled auth.
func testEnv(t *testing.T, authToken string) (*relaytest.Fake, http.Handler) {
	t.Helper()
	return testEnvFull(t, authToken != "", authToken, nil)
}

func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) (*relaytest.Fake, http.Handler) {
	t.Helper()

	db := testutil.TestDB(t)
	fake := relaytest.New()
	logger := testutil.DiscardLogger()
	sk, pk := testutil.Keypair(t)
	session := settings.Static{State: settings.State{ConnectMode: settings.ModeNsec, PrivateKeyHex: sk, PublicKeyHex: pk}}

	policy := resolver.DefaultPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	set := adapter.NewSet(adapter.Deps{Session: session, Resolver: resolver.New(db, policy, logger), Logger: logger})
	dir := relay.NewDirectory([]string{testRelay}, []string{testRelay})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loader := fetcher.NewLoader(ctx, fetcher.LoaderConfig{Transport: fake, Relays: dir, Coll: db, Adapters: set, Logger: logger})
	t.Cleanup(loader.Close)
	pub := fetcher.NewPublisher(fetcher.PublisherConfig{
		Transport: fake, Relays: dir, Signer: signer.NewLocalKey(session), Adapters: set,
		Coll: db, Session: session, Logger: logger,
	})
	svc := annotationservice.New(annotationservice.Config{
		Coll: db, Loader: loader, Publisher: pub, Relays: dir, Session: session, Logger: logger,
	})
	return fake, NewRouter(svc, authEnabled, authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func publishNote(t *testing.T, router http.Handler, text string) Annotation {
	t.Helper()
	w := do(t, router, http.MethodPost, "/annotations", map[string]any{"uri": testURI, "text": text})
	if w.Code != http.StatusCreated {
		t.Fatalf("publish status = %d, body = %s", w.Code, w.Body.String())
	}
	var ann Annotation
	if err := json.Unmarshal(w.Body.Bytes(), &ann); err != nil {
		t.Fatal(err)
	}
	return ann
}

func TestPublishAndGetAnnotation(t *testing.T) {
	_, router := testEnv(t, "")

	ann := publishNote(t, router, "first note")
	if ann.ID == "" {
		t.Fatal("published annotation has no id")
	}

	w := do(t, router, http.MethodGet, "/annotations/"+ann.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got Annotation
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Text != "first note" {
		t.Errorf("text = %q", got.Text)
	}

	w = do(t, router, http.MethodGet, "/annotations?uri="+testURI, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list AnnotationListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Annotations) != 1 {
		t.Errorf("len(annotations) = %d, want 1", len(list.Annotations))
	}
}

func TestPublishHighlightAndReply(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/annotations", map[string]any{
		"uri":       testURI,
		"selectors": []map[string]any{{"type": "TextQuoteSelector", "exact": "quoted words"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("publish highlight = %d, body = %s", w.Code, w.Body.String())
	}
	var hl Annotation
	_ = json.Unmarshal(w.Body.Bytes(), &hl)
	if !hl.Highlight {
		t.Error("expected a highlight")
	}

	w = do(t, router, http.MethodPost, "/annotations/"+hl.ID+"/replies", map[string]any{"text": "a reply"})
	if w.Code != http.StatusCreated {
		t.Fatalf("reply = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/threads/"+hl.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("thread = %d", w.Code)
	}
	var thread ThreadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &thread)
	if len(thread.Replies) != 1 || thread.Replies[0].Text != "a reply" {
		t.Errorf("replies = %+v", thread.Replies)
	}
}

func TestPublishValidation(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/annotations", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/annotations", map[string]any{"text": "no uri"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing uri = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPost, "/annotations", map[string]any{
		"uri":       testURI,
		"selectors": []map[string]any{{"type": "TextPositionSelector", "start": 1, "end": 3}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("highlight without quote = %d, want 400", w.Code)
	}
}

func TestPublishRejectedByAllRelays(t *testing.T) {
	fake, router := testEnv(t, "")
	fake.RejectPublish(testRelay, errors.New("blocked: spam"))

	w := do(t, router, http.MethodPost, "/annotations", map[string]any{"uri": testURI, "text": "x"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("rejected publish = %d, want 502", w.Code)
	}
}

func TestReplyToMissingParent(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/annotations/nope/replies", map[string]any{"text": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("reply to missing = %d, want 404", w.Code)
	}
}

func TestGetAnnotation_NotFound(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/annotations/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing annotation = %d, want 404", w.Code)
	}
	w = do(t, router, http.MethodGet, "/threads/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing thread = %d, want 404", w.Code)
	}
}

func TestListRequiresURI(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/annotations", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("list without uri = %d, want 400", w.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	publishNote(t, router, "uniquetoken here")

	w := do(t, router, http.MethodGet, "/search?q=uniquetoken", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("search results = %d, want 1", len(resp.Results))
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestLoadEndpoint(t *testing.T) {
	fake, router := testEnv(t, "")
	sk, _ := testutil.Keypair(t)
	ev := testutil.SignedEvent(t, sk, 9802, "from the network", nostr.Tags{{"r", testURI}})
	fake.Store(testRelay, ev)

	w := do(t, router, http.MethodPost, "/load", map[string]string{"uri": testURI})
	if w.Code != http.StatusAccepted {
		t.Fatalf("load = %d, body = %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		w = do(t, router, http.MethodGet, "/annotations/"+ev.ID, nil)
		if w.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loaded annotation never appeared, last status %d", w.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = do(t, router, http.MethodPost, "/load", map[string]string{"uri": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("load without uri = %d, want 400", w.Code)
	}
}

func TestLoadThreadAndCloseSubscriptions(t *testing.T) {
	fake, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/threads/abc/load", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("load thread = %d", w.Code)
	}
	if fake.OpenSubscriptions() != 1 {
		t.Errorf("open subscriptions = %d, want 1", fake.OpenSubscriptions())
	}

	w = do(t, router, http.MethodDelete, "/subscriptions", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("close = %d, want 204", w.Code)
	}
	if fake.OpenSubscriptions() != 0 {
		t.Errorf("open subscriptions after close = %d", fake.OpenSubscriptions())
	}

	w = do(t, router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st StatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if len(st.Subscriptions) != 0 || st.ConnectMode != settings.ModeNsec {
		t.Errorf("status = %+v", st)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"uri": testURI, "text": "authed"})
	req := httptest.NewRequest(http.MethodPost, "/annotations", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed publish = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvFull(t, true, "secret", blockingSSE)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvFull(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
	codes  []int
}

func (o *recordingObserver) ObserveHTTP(_, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
	o.codes = append(o.codes, status)
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(MetricsMiddleware(obs))
	r.Get("/annotations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	do(t, r, http.MethodGet, "/annotations/abc", nil)
	do(t, r, http.MethodGet, "/missing", nil)

	if len(obs.routes) != 2 {
		t.Fatalf("observed %d requests, want 2", len(obs.routes))
	}
	if obs.routes[0] != "/annotations/{id}" || obs.codes[0] != http.StatusTeapot {
		t.Errorf("first = %s %d", obs.routes[0], obs.codes[0])
	}
	if obs.codes[1] != http.StatusNotFound {
		t.Errorf("second status = %d, want 404", obs.codes[1])
	}
}
