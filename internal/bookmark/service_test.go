package bookmark

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marker/internal/logger"
	"marker/internal/tagset"
)

// memStore keeps tag-sets as encoded text, like a real column, and supports
// snapshot transactions plus fault injection.
type memStore struct {
	mu   sync.Mutex
	data *memData

	calls int

	failSwapFor string
	failErr     error
	conflicts   int
	swaps       int
	listErr     error
}

type memRow struct {
	b    Bookmark
	tags string
}

type memData struct {
	seq       int
	bookmarks map[string]memRow
	tags      map[string]Tag
}

func newMemStore() *memStore {
	return &memStore{data: &memData{bookmarks: map[string]memRow{}, tags: map[string]Tag{}}}
}

func (d *memData) clone() *memData {
	c := &memData{seq: d.seq, bookmarks: map[string]memRow{}, tags: map[string]Tag{}}
	for k, v := range d.bookmarks {
		c.bookmarks[k] = v
	}
	for k, v := range d.tags {
		c.tags[k] = v
	}
	return c
}

type memQueries struct {
	s *memStore
	d *memData
}

func (s *memStore) q() memQueries { return memQueries{s: s, d: s.data} }

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(ctx, memQueries{s: s, d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) locked(fn func(q memQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.q())
}

func (s *memStore) ListBookmarks(ctx context.Context, lq ListQuery) (out []Bookmark, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.ListBookmarks(ctx, lq); return err })
	return
}
func (s *memStore) AllBookmarks(ctx context.Context) (out []Bookmark, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.AllBookmarks(ctx); return err })
	return
}
func (s *memStore) BookmarksWithTagSubstring(ctx context.Context, needle string) (out []Bookmark, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.BookmarksWithTagSubstring(ctx, needle); return err })
	return
}
func (s *memStore) GetBookmark(ctx context.Context, id string) (out Bookmark, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.GetBookmark(ctx, id); return err })
	return
}
func (s *memStore) InsertBookmark(ctx context.Context, b *Bookmark) error {
	return s.locked(func(q memQueries) error { return q.InsertBookmark(ctx, b) })
}
func (s *memStore) SaveBookmark(ctx context.Context, b Bookmark) error {
	return s.locked(func(q memQueries) error { return q.SaveBookmark(ctx, b) })
}
func (s *memStore) SwapBookmarkTags(ctx context.Context, id string, from, to tagset.Set) error {
	return s.locked(func(q memQueries) error { return q.SwapBookmarkTags(ctx, id, from, to) })
}
func (s *memStore) DeleteBookmark(ctx context.Context, id string) error {
	return s.locked(func(q memQueries) error { return q.DeleteBookmark(ctx, id) })
}
func (s *memStore) ListTags(ctx context.Context) (out []Tag, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.ListTags(ctx); return err })
	return
}
func (s *memStore) GetTag(ctx context.Context, id string) (out Tag, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.GetTag(ctx, id); return err })
	return
}
func (s *memStore) InsertTag(ctx context.Context, t *Tag) error {
	return s.locked(func(q memQueries) error { return q.InsertTag(ctx, t) })
}
func (s *memStore) SaveTag(ctx context.Context, t Tag) error {
	return s.locked(func(q memQueries) error { return q.SaveTag(ctx, t) })
}
func (s *memStore) DeleteTag(ctx context.Context, id string) error {
	return s.locked(func(q memQueries) error { return q.DeleteTag(ctx, id) })
}
func (s *memStore) TagUsage(ctx context.Context) (out []TagUsage, err error) {
	err = s.locked(func(q memQueries) error { out, err = q.TagUsage(ctx); return err })
	return
}

func (q memQueries) decode(r memRow) (Bookmark, error) {
	set, err := tagset.Decode(r.tags)
	if err != nil {
		return Bookmark{}, err
	}
	b := r.b
	b.Tags = set
	return b, nil
}

func (q memQueries) sorted() []memRow {
	rows := make([]memRow, 0, len(q.d.bookmarks))
	for _, r := range q.d.bookmarks {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].b.CreatedAt.Before(*rows[j].b.CreatedAt) })
	return rows
}

func (q memQueries) ListBookmarks(_ context.Context, lq ListQuery) ([]Bookmark, error) {
	q.s.calls++
	if q.s.listErr != nil {
		return nil, q.s.listErr
	}
	rows := q.sorted()
	var out []Bookmark
	for i := len(rows) - 1; i >= 0; i-- {
		if !strings.Contains(strings.ToLower(rows[i].b.Title), strings.ToLower(lq.Term)) {
			continue
		}
		b, err := q.decode(rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if lq.Offset >= len(out) {
		return nil, nil
	}
	out = out[lq.Offset:]
	if lq.Limit > 0 && lq.Limit < len(out) {
		out = out[:lq.Limit]
	}
	return out, nil
}

func (q memQueries) AllBookmarks(ctx context.Context) ([]Bookmark, error) {
	return q.BookmarksWithTagSubstring(ctx, "")
}

func (q memQueries) BookmarksWithTagSubstring(_ context.Context, needle string) ([]Bookmark, error) {
	q.s.calls++
	var out []Bookmark
	for _, r := range q.sorted() {
		if !strings.Contains(r.tags, needle) {
			continue
		}
		b, err := q.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (q memQueries) GetBookmark(_ context.Context, id string) (Bookmark, error) {
	q.s.calls++
	r, ok := q.d.bookmarks[id]
	if !ok {
		return Bookmark{}, ErrNotFound
	}
	return q.decode(r)
}

func (q memQueries) InsertBookmark(_ context.Context, b *Bookmark) error {
	q.s.calls++
	q.d.seq++
	ts := time.Date(2024, 1, 1, 0, 0, q.d.seq, 0, time.UTC)
	b.CreatedAt = &ts
	q.d.bookmarks[b.ID] = memRow{b: *b, tags: b.Tags.Encode()}
	return nil
}

func (q memQueries) SaveBookmark(_ context.Context, b Bookmark) error {
	q.s.calls++
	r, ok := q.d.bookmarks[b.ID]
	if !ok {
		return ErrNotFound
	}
	b.CreatedAt = r.b.CreatedAt
	q.d.bookmarks[b.ID] = memRow{b: b, tags: b.Tags.Encode()}
	return nil
}

func (q memQueries) SwapBookmarkTags(_ context.Context, id string, from, to tagset.Set) error {
	q.s.calls++
	q.s.swaps++
	if q.s.conflicts > 0 {
		q.s.conflicts--
		return ErrConflict
	}
	if id == q.s.failSwapFor {
		return q.s.failErr
	}
	r, ok := q.d.bookmarks[id]
	if !ok || r.tags != from.Encode() {
		return ErrConflict
	}
	r.tags = to.Encode()
	q.d.bookmarks[id] = r
	return nil
}

func (q memQueries) DeleteBookmark(_ context.Context, id string) error {
	q.s.calls++
	if _, ok := q.d.bookmarks[id]; !ok {
		return ErrNotFound
	}
	delete(q.d.bookmarks, id)
	return nil
}

func (q memQueries) ListTags(_ context.Context) ([]Tag, error) {
	q.s.calls++
	var out []Tag
	for _, t := range q.d.tags {
		out = append(out, t)
	}
	return out, nil
}

func (q memQueries) GetTag(_ context.Context, id string) (Tag, error) {
	q.s.calls++
	t, ok := q.d.tags[id]
	if !ok {
		return Tag{}, ErrNotFound
	}
	return t, nil
}

func (q memQueries) InsertTag(_ context.Context, t *Tag) error {
	q.s.calls++
	q.d.tags[t.ID] = *t
	return nil
}

func (q memQueries) SaveTag(_ context.Context, t Tag) error {
	q.s.calls++
	if _, ok := q.d.tags[t.ID]; !ok {
		return ErrNotFound
	}
	q.d.tags[t.ID] = t
	return nil
}

func (q memQueries) DeleteTag(_ context.Context, id string) error {
	q.s.calls++
	if _, ok := q.d.tags[id]; !ok {
		return ErrNotFound
	}
	delete(q.d.tags, id)
	return nil
}

func (q memQueries) TagUsage(_ context.Context) ([]TagUsage, error) {
	return nil, nil
}

// fixture

type fixture struct {
	store *memStore
	svc   *Service
	tags  map[string]string
}

func newFixture(t *testing.T, tagNames ...string) *fixture {
	t.Helper()
	st := newMemStore()
	f := &fixture{store: st, svc: NewService(st, logger.Nop()), tags: map[string]string{}}
	for _, name := range tagNames {
		tag, err := f.svc.CreateTag(context.Background(), TagInput{Title: name})
		require.NoError(t, err)
		f.tags[name] = tag.ID
	}
	return f
}

func (f *fixture) set(names ...string) tagset.Set {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, f.tags[n])
	}
	return tagset.Of(ids...)
}

func (f *fixture) bookmark(t *testing.T, title string, names ...string) Bookmark {
	t.Helper()
	b, err := f.svc.CreateBookmark(context.Background(), BookmarkInput{
		URL:   "https://example.com/" + title,
		Title: title,
		Tags:  f.set(names...),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) tagsOf(t *testing.T, id string) []string {
	t.Helper()
	b, err := f.svc.GetBookmark(context.Background(), id)
	require.NoError(t, err)
	return b.Tags.IDs()
}

func titles(bs []Bookmark) []string {
	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Title)
	}
	sort.Strings(out)
	return out
}

// tests

func TestCreateBookmark_AssignsIDAndTimestamp(t *testing.T) {
	f := newFixture(t, "go")
	b := f.bookmark(t, "golang", "go")

	_, err := uuid.Parse(b.ID)
	require.NoError(t, err)
	require.NotNil(t, b.CreatedAt)
	assert.Equal(t, []string{f.tags["go"]}, f.tagsOf(t, b.ID))
}

func TestFilterByTags_Intersection(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D")
	f.bookmark(t, "abc", "A", "B", "C")
	f.bookmark(t, "a", "A")
	f.bookmark(t, "none")
	ctx := context.Background()

	got, err := f.svc.FilterByTags(ctx, f.tags["A"]+","+f.tags["B"])
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, titles(got))

	got, err = f.svc.FilterByTags(ctx, f.tags["A"]+","+f.tags["D"])
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.svc.FilterByTags(ctx, f.tags["A"])
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "abc"}, titles(got))

	got, err = f.svc.FilterByTags(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "abc", "none"}, titles(got))
}

func TestFilterByTags_RejectsMalformedBeforeStoreAccess(t *testing.T) {
	f := newFixture(t, "A")
	f.store.calls = 0

	for _, raw := range []string{"not-an-id", f.tags["A"] + ",,", ","} {
		_, err := f.svc.FilterByTags(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidFilterInput, raw)
	}
	assert.Zero(t, f.store.calls)
}

type fixedFilter struct{ got tagset.Set }

func (ff *fixedFilter) FilterByTags(_ context.Context, requested tagset.Set) ([]Bookmark, error) {
	ff.got = requested
	return []Bookmark{{ID: "x"}}, nil
}

func TestFilterByTags_UsesInjectedFilter(t *testing.T) {
	f := newFixture(t, "A")
	ff := &fixedFilter{}
	f.svc.Filter = ff

	got, err := f.svc.FilterByTags(context.Background(), strings.ToUpper(f.tags["A"]))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{f.tags["A"]}, ff.got.IDs())
}

func TestDeleteTag_CascadeCompleteness(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	b1 := f.bookmark(t, "b1", "A", "B")
	b2 := f.bookmark(t, "b2", "B", "C")
	b3 := f.bookmark(t, "b3", "C")
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteTag(ctx, f.tags["B"]))

	assert.Equal(t, []string{f.tags["A"]}, f.tagsOf(t, b1.ID))
	assert.Equal(t, []string{f.tags["C"]}, f.tagsOf(t, b2.ID))
	assert.Equal(t, []string{f.tags["C"]}, f.tagsOf(t, b3.ID))

	_, err := f.svc.GetTag(ctx, f.tags["B"])
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := f.store.AllBookmarks(ctx)
	require.NoError(t, err)
	for _, b := range all {
		assert.False(t, b.Tags.Contains(f.tags["B"]), "bookmark %s still references deleted tag", b.Title)
	}
}

func TestDeleteTag_PreservesOrderOfRemainingTags(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D")
	b := f.bookmark(t, "b", "D", "B", "A", "C")

	require.NoError(t, f.svc.DeleteTag(context.Background(), f.tags["B"]))
	assert.Equal(t, f.set("D", "A", "C").IDs(), f.tagsOf(t, b.ID))
}

func TestDeleteTag_RollsBackOnStoreFault(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	b1 := f.bookmark(t, "b1", "A", "B")
	b2 := f.bookmark(t, "b2", "B", "C")
	ctx := context.Background()

	f.store.failSwapFor = b2.ID
	f.store.failErr = errors.New("disk I/O error")

	err := f.svc.DeleteTag(ctx, f.tags["B"])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrCascadeConflict)

	assert.Equal(t, f.set("A", "B").IDs(), f.tagsOf(t, b1.ID), "b1 rewrite must be rolled back")
	assert.Equal(t, f.set("B", "C").IDs(), f.tagsOf(t, b2.ID))
	_, err = f.svc.GetTag(ctx, f.tags["B"])
	assert.NoError(t, err, "tag record must survive a failed cascade")
}

func TestDeleteTag_MalformedCandidateFailsCascade(t *testing.T) {
	f := newFixture(t, "A", "B")
	b1 := f.bookmark(t, "b1", "A", "B")
	ctx := context.Background()

	bad := f.store.data.bookmarks[b1.ID]
	bad.tags = f.tags["A"] + ",," + f.tags["B"]
	f.store.data.bookmarks[b1.ID] = bad

	err := f.svc.DeleteTag(ctx, f.tags["B"])
	assert.ErrorIs(t, err, ErrMalformedTagSet)

	_, err = f.svc.GetTag(ctx, f.tags["B"])
	assert.NoError(t, err, "tag must not disappear while a bookmark may still reference it")
	assert.Equal(t, f.tags["A"]+",,"+f.tags["B"], f.store.data.bookmarks[b1.ID].tags)
}

func TestDeleteTag_RetriesConflicts(t *testing.T) {
	f := newFixture(t, "A", "B")
	b1 := f.bookmark(t, "b1", "A", "B")
	f.store.conflicts = 1

	require.NoError(t, f.svc.DeleteTag(context.Background(), f.tags["B"]))
	assert.Equal(t, 2, f.store.swaps, "one conflicting attempt, one clean")
	assert.Equal(t, []string{f.tags["A"]}, f.tagsOf(t, b1.ID))
}

func TestDeleteTag_ConflictExhausted(t *testing.T) {
	f := newFixture(t, "A", "B")
	b1 := f.bookmark(t, "b1", "A", "B")
	f.store.conflicts = 100

	err := f.svc.DeleteTag(context.Background(), f.tags["B"])
	assert.ErrorIs(t, err, ErrCascadeConflict)
	assert.Equal(t, DefaultCascadeAttempts, f.store.swaps)

	assert.Equal(t, f.set("A", "B").IDs(), f.tagsOf(t, b1.ID))
	_, err = f.svc.GetTag(context.Background(), f.tags["B"])
	assert.NoError(t, err)
}

func TestDeleteTag_NotFound(t *testing.T) {
	f := newFixture(t, "A")
	b := f.bookmark(t, "b", "A")
	ghost := uuid.NewString()

	err := f.svc.DeleteTag(context.Background(), ghost)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{f.tags["A"]}, f.tagsOf(t, b.ID))
}

func TestDeleteTag_LeavesDanglingReferencesToOtherTags(t *testing.T) {
	f := newFixture(t, "A")
	ghost := uuid.NewString()
	b, err := f.svc.CreateBookmark(context.Background(), BookmarkInput{
		URL: "https://example.com", Title: "b", Tags: tagset.Of(ghost, f.tags["A"]),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTag(context.Background(), f.tags["A"]))
	assert.Equal(t, []string{ghost}, f.tagsOf(t, b.ID))
}

func TestUpdateBookmark(t *testing.T) {
	f := newFixture(t, "A", "B")
	b := f.bookmark(t, "old", "A")
	ctx := context.Background()

	got, err := f.svc.UpdateBookmark(ctx, b.ID, BookmarkInput{URL: "https://new", Title: "new", Tags: f.set("B")})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, f.set("B").IDs(), got.Tags.IDs())
	assert.Equal(t, b.CreatedAt, got.CreatedAt)

	_, err = f.svc.UpdateBookmark(ctx, uuid.NewString(), BookmarkInput{Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBookmarks_PagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"go one", "rust", "go two", "go three"} {
		f.bookmark(t, title)
	}
	ctx := context.Background()

	page, err := f.svc.ListBookmarks(ctx, ListQuery{Term: "GO", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "go three", page[0].Title)
	assert.Equal(t, "go two", page[1].Title)

	page, err = f.svc.ListBookmarks(ctx, ListQuery{Term: "go", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "go one", page[0].Title)
}

func TestStoreFailuresSurfaceAsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("connection refused")

	_, err := f.svc.ListBookmarks(context.Background(), ListQuery{Limit: 10})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "list bookmarks", se.Op)
	assert.EqualError(t, se.Err, "connection refused")
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, "t1", "t2", "t3")
	ctx := context.Background()
	b := f.bookmark(t, "scenario", "t1", "t2")

	got, err := f.svc.FilterByTags(ctx, f.tags["t1"])
	require.NoError(t, err)
	assert.Equal(t, []string{"scenario"}, titles(got))

	got, err = f.svc.FilterByTags(ctx, f.tags["t1"]+","+f.tags["t3"])
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, f.svc.DeleteTag(ctx, f.tags["t1"]))
	assert.Equal(t, []string{f.tags["t2"]}, f.tagsOf(t, b.ID))
}
