package bookmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"marker/internal/logger"
	"marker/internal/tagset"
)

const DefaultCascadeAttempts = 3

type Service struct {
	Store  Store
	Filter TagFilter
	Log    logger.Logger

	// CascadeAttempts bounds how often a conflicting tag deletion is retried.
	CascadeAttempts int
	NewID           func() string
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{
		Store:           store,
		Filter:          ScanFilter{Store: store},
		Log:             log,
		CascadeAttempts: DefaultCascadeAttempts,
		NewID:           uuid.NewString,
	}
}

func (s *Service) ListBookmarks(ctx context.Context, q ListQuery) ([]Bookmark, error) {
	out, err := s.Store.ListBookmarks(ctx, q)
	return out, storeErr("list bookmarks", err)
}

func (s *Service) GetBookmark(ctx context.Context, id string) (Bookmark, error) {
	b, err := s.Store.GetBookmark(ctx, id)
	return b, storeErr("get bookmark", err)
}

func (s *Service) CreateBookmark(ctx context.Context, in BookmarkInput) (Bookmark, error) {
	b := Bookmark{
		ID:          s.newID(),
		URL:         in.URL,
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
	}
	if err := s.Store.InsertBookmark(ctx, &b); err != nil {
		return Bookmark{}, storeErr("create bookmark", err)
	}
	return b, nil
}

// UpdateBookmark replaces the whole record, tag-set included.
func (s *Service) UpdateBookmark(ctx context.Context, id string, in BookmarkInput) (Bookmark, error) {
	var out Bookmark
	err := s.Store.InTx(ctx, func(ctx context.Context, q Queries) error {
		if err := q.SaveBookmark(ctx, Bookmark{
			ID:          id,
			URL:         in.URL,
			Title:       in.Title,
			Description: in.Description,
			Tags:        in.Tags,
		}); err != nil {
			return err
		}
		b, err := q.GetBookmark(ctx, id)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return Bookmark{}, storeErr("update bookmark", err)
	}
	return out, nil
}

func (s *Service) DeleteBookmark(ctx context.Context, id string) error {
	return storeErr("delete bookmark", s.Store.DeleteBookmark(ctx, id))
}

// FilterByTags returns bookmarks carrying all tags in raw, a comma separated
// id list. raw is validated before the store is touched.
func (s *Service) FilterByTags(ctx context.Context, raw string) ([]Bookmark, error) {
	requested, err := tagset.ParseFilter(raw)
	if err != nil {
		return nil, err
	}

	f := s.Filter
	if f == nil {
		f = ScanFilter{Store: s.Store}
	}
	out, err := f.FilterByTags(ctx, requested)
	return out, storeErr("filter bookmarks", err)
}

func (s *Service) ListTags(ctx context.Context) ([]Tag, error) {
	out, err := s.Store.ListTags(ctx)
	return out, storeErr("list tags", err)
}

func (s *Service) GetTag(ctx context.Context, id string) (Tag, error) {
	t, err := s.Store.GetTag(ctx, id)
	return t, storeErr("get tag", err)
}

func (s *Service) CreateTag(ctx context.Context, in TagInput) (Tag, error) {
	t := Tag{ID: s.newID(), Title: in.Title, Color: in.Color}
	if err := s.Store.InsertTag(ctx, &t); err != nil {
		return Tag{}, storeErr("create tag", err)
	}
	return t, nil
}

func (s *Service) UpdateTag(ctx context.Context, id string, in TagInput) (Tag, error) {
	var out Tag
	err := s.Store.InTx(ctx, func(ctx context.Context, q Queries) error {
		if err := q.SaveTag(ctx, Tag{ID: id, Title: in.Title, Color: in.Color}); err != nil {
			return err
		}
		t, err := q.GetTag(ctx, id)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Tag{}, storeErr("update tag", err)
	}
	return out, nil
}

func (s *Service) TagUsage(ctx context.Context) ([]TagUsage, error) {
	out, err := s.Store.TagUsage(ctx)
	return out, storeErr("tag usage", err)
}

// DeleteTag removes id from every bookmark's tag-set and then deletes the tag
// record, in one transaction. A lost race restarts the whole cascade with
// fresh reads, at most CascadeAttempts times.
func (s *Service) DeleteTag(ctx context.Context, id string) error {
	attempts := s.CascadeAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rewritten, err := s.cascade(ctx, id)
		if err == nil {
			s.log().Info("tag deleted",
				logger.String("tag_id", id),
				logger.Int("bookmarks_rewritten", rewritten),
				logger.Int("attempt", attempt),
			)
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return storeErr("delete tag", err)
		}

		lastErr = err
		s.log().Warn("tag deletion conflicted",
			logger.String("tag_id", id),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	}

	return fmt.Errorf("%w: tag %s after %d attempts: %v", ErrCascadeConflict, id, attempts, lastErr)
}

func (s *Service) cascade(ctx context.Context, id string) (int, error) {
	rewritten := 0
	err := s.Store.InTx(ctx, func(ctx context.Context, q Queries) error {
		rewritten = 0

		if _, err := q.GetTag(ctx, id); err != nil {
			return err
		}

		candidates, err := q.BookmarksWithTagSubstring(ctx, id)
		if err != nil {
			return err
		}

		for _, b := range candidates {
			next, removed := b.Tags.Without(id)
			if !removed {
				continue
			}
			if err := q.SwapBookmarkTags(ctx, b.ID, b.Tags, next); err != nil {
				return err
			}
			rewritten++
		}

		return q.DeleteTag(ctx, id)
	})
	return rewritten, err
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) log() logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}
