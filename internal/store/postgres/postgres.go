// Package postgres is the bookmark store on PostgreSQL, through gorm.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"marker/internal/bookmark"
	"marker/internal/store"
	"marker/internal/tagset"
)

type Store struct {
	queries
}

var _ bookmark.Store = (*Store)(nil)

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
}

func Connect(dsn string, opts Options) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}

	return New(gdb), nil
}

func New(gdb *gorm.DB) *Store {
	return &Store{queries: queries{db: gdb}}
}

func (s *Store) AutoMigrateAndIndexes(ctx context.Context) error {
	gdb := s.db.WithContext(ctx)
	if err := gdb.AutoMigrate(&bookmark.Bookmark{}, &bookmark.Tag{}); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_bookmarks_created_desc on bookmarks(created_at desc);`,
		`create index if not exists idx_tags_title on tags(title);`,
	}
	for _, st := range stmts {
		if err := gdb.Exec(st).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, st)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn at serializable isolation, so the set of bookmarks seen by a
// tag-deletion scan cannot change before the transaction commits.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q bookmark.Queries) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, queries{db: tx, inTx: true})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	return mapErr(err)
}

type queries struct {
	db   *gorm.DB
	inTx bool
}

func (q queries) ListBookmarks(ctx context.Context, lq bookmark.ListQuery) ([]bookmark.Bookmark, error) {
	var rows []bookmark.Bookmark
	err := q.db.WithContext(ctx).
		Where(`title ilike ? escape '\'`, store.ContainsPattern(lq.Term)).
		Order("created_at desc").
		Order("id").
		Limit(lq.Limit).
		Offset(lq.Offset).
		Find(&rows).Error
	return rows, mapErr(err)
}

func (q queries) AllBookmarks(ctx context.Context) ([]bookmark.Bookmark, error) {
	var rows []bookmark.Bookmark
	err := q.db.WithContext(ctx).Order("created_at desc").Order("id").Find(&rows).Error
	return rows, mapErr(err)
}

func (q queries) BookmarksWithTagSubstring(ctx context.Context, needle string) ([]bookmark.Bookmark, error) {
	db := q.db.WithContext(ctx)
	if q.inTx {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []bookmark.Bookmark
	err := db.Where(`tags like ? escape '\'`, store.ContainsPattern(needle)).
		Order("created_at desc").
		Order("id").
		Find(&rows).Error
	return rows, mapErr(err)
}

func (q queries) GetBookmark(ctx context.Context, id string) (bookmark.Bookmark, error) {
	var b bookmark.Bookmark
	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return bookmark.Bookmark{}, mapErr(err)
	}
	return b, nil
}

func (q queries) InsertBookmark(ctx context.Context, b *bookmark.Bookmark) error {
	b.CreatedAt = nil
	return mapErr(q.db.WithContext(ctx).Create(b).Error)
}

func (q queries) SaveBookmark(ctx context.Context, b bookmark.Bookmark) error {
	res := q.db.WithContext(ctx).
		Model(&bookmark.Bookmark{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"url":         b.URL,
			"title":       b.Title,
			"description": b.Description,
			"tags":        b.Tags,
		})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

func (q queries) SwapBookmarkTags(ctx context.Context, id string, from, to tagset.Set) error {
	res := q.db.WithContext(ctx).
		Model(&bookmark.Bookmark{}).
		Where("id = ? and tags = ?", id, from).
		Update("tags", to)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: bookmark %s tags changed", bookmark.ErrConflict, id)
	}
	return nil
}

func (q queries) DeleteBookmark(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).Where("id = ?", id).Delete(&bookmark.Bookmark{})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

func (q queries) ListTags(ctx context.Context) ([]bookmark.Tag, error) {
	var rows []bookmark.Tag
	err := q.db.WithContext(ctx).Order("title").Order("id").Find(&rows).Error
	return rows, mapErr(err)
}

func (q queries) GetTag(ctx context.Context, id string) (bookmark.Tag, error) {
	var t bookmark.Tag
	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return bookmark.Tag{}, mapErr(err)
	}
	return t, nil
}

func (q queries) InsertTag(ctx context.Context, t *bookmark.Tag) error {
	t.CreatedAt = nil
	return mapErr(q.db.WithContext(ctx).Create(t).Error)
}

func (q queries) SaveTag(ctx context.Context, t bookmark.Tag) error {
	res := q.db.WithContext(ctx).
		Model(&bookmark.Tag{}).
		Where("id = ?", t.ID).
		Updates(map[string]any{"title": t.Title, "color": t.Color})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

func (q queries) DeleteTag(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).Where("id = ?", id).Delete(&bookmark.Tag{})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

type usageRow struct {
	TagID       string
	Title       string
	Count       int
	BookmarkIDs pq.StringArray
}

func (q queries) TagUsage(ctx context.Context) ([]bookmark.TagUsage, error) {
	var rows []usageRow
	err := q.db.WithContext(ctx).Raw(`
		select u.tag_id,
		       coalesce(t.title, '') as title,
		       count(*) as count,
		       array_agg(u.bookmark_id order by u.created_at desc, u.bookmark_id) as bookmark_ids
		from (
			select b.id as bookmark_id,
			       b.created_at,
			       unnest(string_to_array(nullif(b.tags, ''), ',')) as tag_id
			from bookmarks b
		) u
		left join tags t on t.id = u.tag_id
		group by u.tag_id, t.title
		order by count desc, u.tag_id asc
	`).Scan(&rows).Error
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]bookmark.TagUsage, 0, len(rows))
	for _, r := range rows {
		out = append(out, bookmark.TagUsage{
			TagID:       r.TagID,
			Title:       r.Title,
			Count:       r.Count,
			BookmarkIDs: []string(r.BookmarkIDs),
		})
	}
	return out, nil
}

// mapErr translates gorm and Postgres errors into bookmark errors.
// Serialization failures and deadlocks become bookmark.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bookmark.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", bookmark.ErrConflict, err)
		}
	}
	return err
}
