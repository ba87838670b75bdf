// Package annotationservice is the application layer shared by the HTTP API
// and the MCP server. It reads from the collection, drives the loader and
// the publisher, and reports status.
package annotationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/margin/internal/apperr"
	"github.com/starford/margin/internal/fetcher"
	"github.com/starford/margin/internal/index"
	"github.com/starford/margin/internal/models"
	"github.com/starford/margin/internal/relay"
	"github.com/starford/margin/internal/settings"
)

// DefaultSearchLimit bounds search results when the caller gives no limit.
const DefaultSearchLimit = 20

// Draft is the user input for a new highlight or page note. Selectors make
// it a highlight.
type Draft struct {
	URI       string            `json:"uri"`
	Text      string            `json:"text"`
	Title     string            `json:"title,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Selectors []models.Selector `json:"selectors,omitempty"`
}

// Validate validates the draft.
func (d *Draft) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.URI, validation.Required, validation.By(absoluteURI)),
		validation.Field(&d.Text, validation.When(len(d.Selectors) == 0, validation.Required)),
	)
}

// Annotation converts the draft into an unsaved annotation.
func (d *Draft) Annotation() *models.Annotation {
	target := models.Target{Source: d.URI}
	if len(d.Selectors) > 0 {
		target.Selector = append([]models.Selector(nil), d.Selectors...)
	}
	return &models.Annotation{
		URI:      d.URI,
		Text:     d.Text,
		Document: models.Document{Title: d.Title},
		Tags:     append([]string(nil), d.Tags...),
		Target:   []models.Target{target},
	}
}

// ReplyDraft is the user input for a reply.
type ReplyDraft struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// Validate validates the reply.
func (r *ReplyDraft) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Text, validation.Required),
	)
}

func absoluteURI(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return validation.NewError("validation_uri", "must be an absolute URI")
	}
	return nil
}

// Thread is a root annotation with its replies in creation order.
type Thread struct {
	Root    models.Annotation   `json:"root"`
	Replies []models.Annotation `json:"replies"`
}

// Status summarizes the running node.
type Status struct {
	Annotations   int                        `json:"annotations"`
	Fetching      bool                       `json:"fetching"`
	Subscriptions []fetcher.SubscriptionInfo `json:"subscriptions"`
	ReadRelays    []string                   `json:"read_relays"`
	WriteRelays   []string                   `json:"write_relays"`
	Breakers      map[string]string          `json:"breakers,omitempty"`
	ConnectMode   string                     `json:"connect_mode"`
	PublicKey     string                     `json:"pubkey,omitempty"`
}

// Config holds the service's collaborators. Breakers is optional.
type Config struct {
	Coll      index.Collection
	Loader    *fetcher.Loader
	Publisher *fetcher.Publisher
	Relays    *relay.Directory
	Breakers  *relay.Breakers
	Session   settings.Session
	Logger    *slog.Logger
	// OnLoadError receives failures reported by subscriptions the service
	// opened. Defaults to logging.
	OnLoadError func(scope string, err error)
}

// Service coordinates collection reads, relay loads and publishing.
type Service struct {
	Config
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnLoadError == nil {
		logger := cfg.Logger
		cfg.OnLoadError = func(scope string, err error) {
			logger.Warn("annotationservice: load failed", slog.String("scope", scope), slog.String("error", err.Error()))
		}
	}
	return &Service{Config: cfg}
}

// List returns the annotations anchored to uri.
func (s *Service) List(ctx context.Context, uri string) ([]models.Annotation, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("annotationservice: uri: %w", apperr.ErrInvalidInput)
	}
	anns, err := s.Coll.ListByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(anns), nil
}

// Get returns one annotation or apperr.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*models.Annotation, error) {
	ann, err := s.Coll.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ann == nil {
		return nil, apperr.ErrNotFound
	}
	return ann, nil
}

// Thread returns rootID and every stored reply below it.
func (s *Service) Thread(ctx context.Context, rootID string) (*Thread, error) {
	root, err := s.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	replies, err := s.Coll.Thread(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return &Thread{Root: *root, Replies: nonNilSlice(replies)}, nil
}

// Search runs a query over stored annotations. #word filters by hashtag and
// uri:<url> limits hits to one page.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("annotationservice: query: %w", apperr.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	res, err := s.Coll.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Load starts loading the highlights, page notes and threads of uri.
// Results arrive asynchronously in the collection.
func (s *Service) Load(uri string) error {
	if err := absoluteURI(uri); err != nil {
		return fmt.Errorf("annotationservice: uri: %w", apperr.ErrInvalidInput)
	}
	return s.Loader.LoadByURI(uri, func(err error) { s.OnLoadError(uri, err) })
}

// LoadThread starts loading the replies below rootID.
func (s *Service) LoadThread(rootID string) error {
	if strings.TrimSpace(rootID) == "" {
		return fmt.Errorf("annotationservice: root id: %w", apperr.ErrInvalidInput)
	}
	_, err := s.Loader.LoadThread(rootID, func(err error) { s.OnLoadError("thread:"+rootID, err) })
	return err
}

// CloseSubscriptions closes every open subscription.
func (s *Service) CloseSubscriptions() {
	s.Loader.Close()
}

// Publish publishes a new highlight or page note.
func (s *Service) Publish(ctx context.Context, d Draft) (*models.Annotation, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return s.Publisher.PublishAnnotation(ctx, d.Annotation())
}

// Reply publishes a reply to the stored annotation parentID.
func (s *Service) Reply(ctx context.Context, parentID string, d ReplyDraft) (*models.Annotation, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	draft := &models.Annotation{Text: d.Text, Tags: append([]string(nil), d.Tags...)}
	return s.Publisher.PublishReply(ctx, parent, draft)
}

// Status reports collection size, open subscriptions and relay state.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	n, err := s.Coll.Count(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Annotations:   n,
		Fetching:      s.Coll.Fetching(),
		Subscriptions: nonNilSlice(s.Loader.Subscriptions()),
		ReadRelays:    nonNilSlice(s.Relays.Read()),
		WriteRelays:   nonNilSlice(s.Relays.Write()),
	}
	if s.Breakers != nil {
		st.Breakers = make(map[string]string, len(st.WriteRelays))
		for _, u := range st.WriteRelays {
			st.Breakers[u] = s.Breakers.State(u)
		}
	}
	if s.Session != nil {
		st.ConnectMode = s.Session.Mode()
		st.PublicKey = s.Session.PublicKey()
	}
	return st, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
