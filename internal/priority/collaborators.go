package priority

import "context"

// SourceAdapter fetches raw records for one user from an upstream provider.
// Implementations should return what they could fetch; the engine treats any
// error as an empty contribution.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, userID string) ([]Raw, error)
}

// ResponseDetector reports whether the user acted on the underlying source
// thread since the item surfaced. Only consulted for surfaced items.
type ResponseDetector interface {
	HasResponded(ctx context.Context, item *Item) (bool, error)
}

// Visibility is the desired presentation state pushed to the effector.
type Visibility string

const (
	VisibilityShown  Visibility = "shown"
	VisibilityHidden Visibility = "hidden"
)

// VisibilityEffector applies a visibility change outside the engine, for
// example pinning or archiving a thread. Best-effort: errors are logged.
type VisibilityEffector interface {
	Apply(ctx context.Context, item *Item, v Visibility) error
}
