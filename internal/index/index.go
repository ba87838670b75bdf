package index

import (
	"context"

	"github.com/starford/margin/internal/models"
)

// Collection is the shared annotation store fetchers write into and readers
// query. Upsert is keyed by id, so redelivered events replace themselves.
// Consumers should depend on this interface rather than the concrete *DB.
type Collection interface {
	FindByID(ctx context.Context, id string) (*models.Annotation, error)
	Upsert(ctx context.Context, anns []models.Annotation) error
	ListByURI(ctx context.Context, uri string) ([]models.Annotation, error)
	Thread(ctx context.Context, rootID string) ([]models.Annotation, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	RecordRelays(ctx context.Context, id string, relays []string) error
	SeenOn(ctx context.Context, id string) ([]string, error)
	Count(ctx context.Context) (int, error)
	FetchStarted()
	FetchFinished()
	Fetching() bool
	Close() error
}

// Verify *DB satisfies Collection at compile time.
var _ Collection = (*DB)(nil)
