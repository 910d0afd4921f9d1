package bookmark

import (
	"context"

	"marker/internal/tagset"
)

// Queries is the store access surface. Implementations return ErrNotFound for
// missing rows and ErrConflict when a write lost a race.
type Queries interface {
	ListBookmarks(ctx context.Context, q ListQuery) ([]Bookmark, error)
	AllBookmarks(ctx context.Context) ([]Bookmark, error)
	// BookmarksWithTagSubstring is a coarse pre-filter: it may return rows
	// that do not reference needle, never the other way round. Inside a
	// transaction the returned rows are locked for update where supported.
	BookmarksWithTagSubstring(ctx context.Context, needle string) ([]Bookmark, error)
	GetBookmark(ctx context.Context, id string) (Bookmark, error)
	InsertBookmark(ctx context.Context, b *Bookmark) error
	// SaveBookmark replaces url, title, description and tags. CreatedAt is kept.
	SaveBookmark(ctx context.Context, b Bookmark) error
	// SwapBookmarkTags rewrites the tag-set only if it still equals from.
	SwapBookmarkTags(ctx context.Context, id string, from, to tagset.Set) error
	DeleteBookmark(ctx context.Context, id string) error

	ListTags(ctx context.Context) ([]Tag, error)
	GetTag(ctx context.Context, id string) (Tag, error)
	InsertTag(ctx context.Context, t *Tag) error
	SaveTag(ctx context.Context, t Tag) error
	DeleteTag(ctx context.Context, id string) error

	TagUsage(ctx context.Context) ([]TagUsage, error)
}

// Store is a Queries bound to a connection pool that can also open a
// serializable transaction. fn's Queries must not be used after fn returns.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	Close() error
}
