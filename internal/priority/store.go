package priority

import "context"

// Store is the persistence interface for priority items.
type Store interface {
	Get(ctx context.Context, id string) (*Item, bool, error)
	GetBySource(ctx context.Context, sourceType SourceType, sourceID string) (*Item, bool, error)
	Put(ctx context.Context, item *Item) error
	List(ctx context.Context, f Filter) ([]*Item, error)
	Users(ctx context.Context) ([]string, error)

	// WithUserLock runs fn with exclusive access to the user's items. The
	// Store passed to fn must be used for every read and write inside it;
	// an error from fn discards the writes where the backend supports it.
	WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, s Store) error) error
}
