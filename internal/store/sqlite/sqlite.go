// Package sqlite is the embedded bookmark store, built on database/sql and
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"marker/internal/bookmark"
	"marker/internal/dbx"
	"marker/internal/store"
	"marker/internal/tagset"
)

var schema = []string{
	`create table if not exists bookmarks (
		id          text primary key,
		url         text not null,
		title       text not null,
		description text not null default '',
		tags        text not null default '',
		created_at  timestamp
	)`,
	`create index if not exists idx_bookmarks_created on bookmarks(created_at desc)`,
	`create table if not exists tags (
		id         text primary key,
		title      text not null,
		color      text not null default '',
		created_at timestamp
	)`,
}

type Store struct {
	queries
	db *sql.DB
}

var _ bookmark.Store = (*Store)(nil)

// Open opens the database at dsn, a modernc.org/sqlite data source such as
// "file:marker.db" or "file:x?mode=memory&cache=shared". Transactions take
// the write lock when they begin.
func Open(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, err
	}
	if maxOpen < 1 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	return New(db), nil
}

// New wraps an open handle. The caller keeps ownership of pool settings.
func New(db *sql.DB) *Store {
	return &Store{queries: queries{db: db}, db: db}
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_time_format=sqlite&_pragma=busy_timeout(5000)"
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// InTx runs fn in one transaction. SQLite transactions are serializable.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q bookmark.Queries) error) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, queries{db: tx})
	})
	return mapErr(err)
}

type queries struct {
	db dbx.DBTX
}

const bookmarkColumns = `id, url, title, description, tags, created_at`

func scanBookmarks(rows *sql.Rows) ([]bookmark.Bookmark, error) {
	defer rows.Close()

	var out []bookmark.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row scanner) (bookmark.Bookmark, error) {
	var (
		b       bookmark.Bookmark
		created sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.URL, &b.Title, &b.Description, &b.Tags, &created); err != nil {
		return bookmark.Bookmark{}, err
	}
	if created.Valid {
		t := created.Time
		b.CreatedAt = &t
	}
	return b, nil
}

func (q queries) ListBookmarks(ctx context.Context, lq bookmark.ListQuery) ([]bookmark.Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+bookmarkColumns+`
		from bookmarks
		where title like ? escape '\'
		order by created_at desc, rowid desc
		limit ? offset ?`,
		store.ContainsPattern(lq.Term), lq.Limit, lq.Offset)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := scanBookmarks(rows)
	return out, mapErr(err)
}

func (q queries) AllBookmarks(ctx context.Context) ([]bookmark.Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+bookmarkColumns+`
		from bookmarks
		order by created_at desc, rowid desc`)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := scanBookmarks(rows)
	return out, mapErr(err)
}

func (q queries) BookmarksWithTagSubstring(ctx context.Context, needle string) ([]bookmark.Bookmark, error) {
	rows, err := q.db.QueryContext(ctx, `
		select `+bookmarkColumns+`
		from bookmarks
		where tags like ? escape '\'
		order by created_at desc, rowid desc`,
		store.ContainsPattern(needle))
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := scanBookmarks(rows)
	return out, mapErr(err)
}

func (q queries) GetBookmark(ctx context.Context, id string) (bookmark.Bookmark, error) {
	row := q.db.QueryRowContext(ctx, `select `+bookmarkColumns+` from bookmarks where id = ?`, id)
	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	return b, mapErr(err)
}

func (q queries) InsertBookmark(ctx context.Context, b *bookmark.Bookmark) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		insert into bookmarks (id, url, title, description, tags, created_at)
		values (?, ?, ?, ?, ?, ?)`,
		b.ID, b.URL, b.Title, b.Description, b.Tags, now)
	if err != nil {
		return mapErr(err)
	}
	b.CreatedAt = &now
	return nil
}

func (q queries) SaveBookmark(ctx context.Context, b bookmark.Bookmark) error {
	res, err := q.db.ExecContext(ctx, `
		update bookmarks
		set url = ?, title = ?, description = ?, tags = ?
		where id = ?`,
		b.URL, b.Title, b.Description, b.Tags, b.ID)
	if err != nil {
		return mapErr(err)
	}
	return notFound(dbx.Affected(res))
}

func (q queries) SwapBookmarkTags(ctx context.Context, id string, from, to tagset.Set) error {
	res, err := q.db.ExecContext(ctx, `
		update bookmarks set tags = ? where id = ? and tags = ?`,
		to, id, from)
	if err != nil {
		return mapErr(err)
	}
	if err := dbx.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: bookmark %s tags changed", bookmark.ErrConflict, id)
		}
		return err
	}
	return nil
}

func (q queries) DeleteBookmark(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `delete from bookmarks where id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	return notFound(dbx.Affected(res))
}

func scanTag(row scanner) (bookmark.Tag, error) {
	var (
		t       bookmark.Tag
		created sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Color, &created); err != nil {
		return bookmark.Tag{}, err
	}
	if created.Valid {
		ts := created.Time
		t.CreatedAt = &ts
	}
	return t, nil
}

func (q queries) ListTags(ctx context.Context) ([]bookmark.Tag, error) {
	rows, err := q.db.QueryContext(ctx, `select id, title, color, created_at from tags order by title, id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []bookmark.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err())
}

func (q queries) GetTag(ctx context.Context, id string) (bookmark.Tag, error) {
	t, err := scanTag(q.db.QueryRowContext(ctx, `select id, title, color, created_at from tags where id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return bookmark.Tag{}, bookmark.ErrNotFound
	}
	return t, mapErr(err)
}

func (q queries) InsertTag(ctx context.Context, t *bookmark.Tag) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		insert into tags (id, title, color, created_at) values (?, ?, ?, ?)`,
		t.ID, t.Title, t.Color, now)
	if err != nil {
		return mapErr(err)
	}
	t.CreatedAt = &now
	return nil
}

func (q queries) SaveTag(ctx context.Context, t bookmark.Tag) error {
	res, err := q.db.ExecContext(ctx, `update tags set title = ?, color = ? where id = ?`, t.Title, t.Color, t.ID)
	if err != nil {
		return mapErr(err)
	}
	return notFound(dbx.Affected(res))
}

func (q queries) DeleteTag(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `delete from tags where id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	return notFound(dbx.Affected(res))
}

// TagUsage aggregates in Go; SQLite has no array type to unnest the column.
func (q queries) TagUsage(ctx context.Context) ([]bookmark.TagUsage, error) {
	bookmarks, err := q.AllBookmarks(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := q.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	titles := make(map[string]string, len(tags))
	for _, t := range tags {
		titles[t.ID] = t.Title
	}

	byTag := map[string]*bookmark.TagUsage{}
	for _, b := range bookmarks {
		for _, id := range b.Tags.IDs() {
			u, ok := byTag[id]
			if !ok {
				u = &bookmark.TagUsage{TagID: id, Title: titles[id]}
				byTag[id] = u
			}
			u.Count++
			u.BookmarkIDs = append(u.BookmarkIDs, b.ID)
		}
	}

	out := make([]bookmark.TagUsage, 0, len(byTag))
	for _, u := range byTag {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TagID < out[j].TagID
	})
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return bookmark.ErrNotFound
	}
	return mapErr(err)
}

// mapErr turns lock contention into bookmark.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", bookmark.ErrConflict, err)
		}
	}
	return err
}
