package bookmark

import (
	"context"

	"marker/internal/tagset"
)

// TagFilter returns the bookmarks carrying every requested tag.
// requested is already validated.
type TagFilter interface {
	FilterByTags(ctx context.Context, requested tagset.Set) ([]Bookmark, error)
}

// ScanFilter loads candidates and tests each one in memory. The first
// requested id narrows the candidates with the store's substring pre-filter.
type ScanFilter struct {
	Store Queries
}

func (f ScanFilter) FilterByTags(ctx context.Context, requested tagset.Set) ([]Bookmark, error) {
	var (
		candidates []Bookmark
		err        error
	)
	if requested.IsEmpty() {
		candidates, err = f.Store.AllBookmarks(ctx)
	} else {
		candidates, err = f.Store.BookmarksWithTagSubstring(ctx, requested.IDs()[0])
	}
	if err != nil {
		return nil, err
	}

	out := make([]Bookmark, 0, len(candidates))
	for _, b := range candidates {
		if tagset.Matches(b.Tags, requested) {
			out = append(out, b)
		}
	}
	return out, nil
}
