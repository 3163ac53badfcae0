package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/meatballs/internal/cache"
	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/logging"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/internal/timeseries"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/source"
)

var (
	day       = DateKey{Year: 2022, Month: 8, Day: 22}
	dayStart  = day.Start().Unix()
	generated = time.Date(2022, 8, 23, 12, 0, 0, 0, time.UTC)
)

type fakeSeries struct {
	mu     sync.Mutex
	groups []timeseries.Group
	calls  int
}

func (f *fakeSeries) Append(context.Context, timeseries.Sample) error { return nil }

func (f *fakeSeries) MaxByStory(context.Context, time.Time, time.Time) ([]timeseries.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]timeseries.Group(nil), f.groups...), nil
}

type fakeStats struct {
	mu    sync.Mutex
	stats map[string]graph.StoryStats
	calls int
	asked []string
}

func (f *fakeStats) StoryStats(_ context.Context, ids []string) (map[string]graph.StoryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.asked = append([]string(nil), ids...)
	out := map[string]graph.StoryStats{}
	for _, id := range ids {
		if st, ok := f.stats[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

type fakeImages struct {
	err      error
	onSearch func()
}

func (f *fakeImages) SearchPhoto(_ context.Context, query string) (*source.Photo, error) {
	if f.onSearch != nil {
		f.onSearch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &source.Photo{
		RawURL:    "https://images.example/" + query,
		SourceURL: "https://unsplash.example/photos/" + query,
		Username:  "photographer",
		UserURL:   "https://unsplash.example/@photographer",
		BlurHash:  "LEHV6nWB2yk8",
	}, nil
}

type harness struct {
	gen    *Generator
	series *fakeSeries
	stats  *fakeStats
	images *fakeImages
	docs   *store.SQLiteStore
	cache  cache.Cache
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	docs, err := store.New(filepath.Join(t.TempDir(), "meatballs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &harness{
		series: &fakeSeries{groups: []timeseries.Group{
			{StoryID: "hn:1", Max: 50},
			{StoryID: "hn:2", Max: 40},
			{StoryID: "hn:3", Max: 30},
		}},
		stats: &fakeStats{stats: map[string]graph.StoryStats{
			"hn:1": {ID: "hn:1", Score: 5, CommentTotal: 20, Created: dayStart + 3600},
			"hn:2": {ID: "hn:2", Score: 100, CommentTotal: 10, Created: dayStart + 7200},
			"hn:3": {ID: "hn:3", Score: 1, CommentTotal: 1, Created: dayStart - 60},
		}},
		images: &fakeImages{},
		docs:   docs,
		cache:  cache.NewRedis(rdb),
		mr:     mr,
	}

	ctx := context.Background()
	for id, title := range map[string]string{"hn:1": "Second Place?", "hn:2": "Café owners rejoice"} {
		title := title
		require.NoError(t, docs.SaveStory(ctx, &store.Story{ID: id, Title: &title, Created: dayStart}))
	}
	reply := "first!"
	require.NoError(t, docs.SaveComment(ctx, &store.Comment{
		ID: "hn:11", StoryID: "hn:2", ParentID: "hn:2", Content: &reply, Created: dayStart + 7300,
	}))

	h.gen = newGenerator(h)
	return h
}

func newGenerator(h *harness) *Generator {
	g := NewGenerator(h.series, h.stats, h.docs, h.cache, h.images, nil, logging.Discard(), Options{
		StartDate: time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	g.now = func() time.Time { return generated }
	n := 0
	g.newSuffix = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return g
}

func TestGenerate_RanksStoriesCreatedThatDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.gen.Generate(ctx, day)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.NotFound)
	assert.False(t, res.Exists)

	cols, err := h.docs.CollectionsByDate(ctx, 2022, 8, 22)
	require.NoError(t, err)
	require.Len(t, cols, 2)

	// comments minus score: hn:2 is -90, hn:1 is 15
	assert.Equal(t, 0, cols[0].Position)
	assert.Equal(t, "Café owners rejoice", cols[0].Title)
	assert.Equal(t, "cafe-owners-rejoice-s1", cols[0].Slug)
	assert.Equal(t, "first!", cols[0].TopComment)
	assert.Equal(t, 10, cols[0].CommentTotal)
	assert.Equal(t, []string{"hn:2"}, cols[0].Origins)
	assert.Equal(t, "2022:8:22:s1", cols[0].ID)
	assert.Equal(t, "https://images.example/Cafe owners rejoice", cols[0].ImageURL)
	assert.Equal(t, "photographer", cols[0].ImageUsername)

	assert.Equal(t, 1, cols[1].Position)
	assert.Equal(t, "second-place-s2", cols[1].Slug)
	assert.Equal(t, "", cols[1].TopComment)
	assert.Equal(t, []string{"hn:1"}, cols[1].Origins)

	assert.False(t, h.mr.Exists(day.LockKey()), "lock must be released")
}

func TestGenerate_CacheBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gen.Generate(ctx, day)
	require.NoError(t, err)

	raw, err := h.mr.Get(day.CacheKey())
	require.NoError(t, err)
	assert.Zero(t, h.mr.TTL(day.CacheKey()))

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &entries))
	require.Len(t, entries, 2)

	var fields []string
	for k := range entries[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	assert.Equal(t, []string{
		"comment_total", "day", "image_blur_hash", "image_source_url", "image_url", "image_user_url",
		"image_username", "month", "origins", "position", "slug", "title", "top_comment", "year",
	}, fields)

	cols, err := NewReader(h.docs, h.cache, logging.Discard()).Day(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "cafe-owners-rejoice-s1", cols[0].Slug)
	assert.Empty(t, cols[0].ID, "blob entries carry no document id")
}

func TestGenerate_ExistingDayIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gen.Generate(ctx, day)
	require.NoError(t, err)
	calls := h.series.calls

	res, err := newGenerator(h).Generate(ctx, day)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.True(t, res.Exists)
	assert.Equal(t, calls, h.series.calls)

	cols, err := h.docs.CollectionsByDate(ctx, 2022, 8, 22)
	require.NoError(t, err)
	assert.Len(t, cols, 2)

	// documents alone also count once the cache is gone
	h.mr.Del(day.CacheKey())
	_, err = newGenerator(h).Generate(ctx, day)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestGenerate_HeldLockIsConflict(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mr.Set(day.LockKey(), "2022-08-23T11:59:00Z"))

	res, err := h.gen.Generate(context.Background(), day)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.True(t, res.Exists)
	assert.Zero(t, h.series.calls)
	assert.True(t, h.mr.Exists(day.LockKey()), "a lock held elsewhere is left alone")
}

func TestGenerate_OutsideWindowIsNotFound(t *testing.T) {
	for _, key := range []DateKey{
		{Year: 2022, Month: 7, Day: 31}, // before start
		{Year: 2022, Month: 8, Day: 23}, // today
		{Year: 2023, Month: 1, Day: 1},  // future
	} {
		key := key
		t.Run(key.String(), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.gen.Generate(context.Background(), key)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.NotFound))
			assert.True(t, res.NotFound)
			assert.Zero(t, h.series.calls)
			assert.Zero(t, h.stats.calls)
		})
	}
}

func TestGenerate_NothingToRank(t *testing.T) {
	h := newHarness(t)
	h.series.groups = nil

	res, err := h.gen.Generate(context.Background(), day)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.True(t, res.NotFound)
	assert.Zero(t, h.stats.calls)

	h = newHarness(t)
	h.series.groups = []timeseries.Group{{StoryID: "hn:3", Max: 30}}
	res, err = h.gen.Generate(context.Background(), day)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.True(t, res.NotFound)
	assert.False(t, h.mr.Exists(day.CacheKey()))
}

func TestGenerate_ImageFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.images.err = errors.New("unsplash: 503")

	_, err := h.gen.Generate(context.Background(), day)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Upstream))

	cols, err := h.docs.CollectionsByDate(context.Background(), 2022, 8, 22)
	require.NoError(t, err)
	assert.Empty(t, cols)
	assert.False(t, h.mr.Exists(day.CacheKey()))
	assert.False(t, h.mr.Exists(day.LockKey()))

	// the day can be retried once the image service recovers
	h.images.err = nil
	_, err = newGenerator(h).Generate(context.Background(), day)
	assert.NoError(t, err)
}

func TestGenerate_Deterministic(t *testing.T) {
	a, b := newHarness(t), newHarness(t)
	b.series.groups = []timeseries.Group{
		{StoryID: "hn:3", Max: 30},
		{StoryID: "hn:2", Max: 40},
		{StoryID: "hn:1", Max: 50},
	}

	resA, err := a.gen.Generate(context.Background(), day)
	require.NoError(t, err)
	resB, err := b.gen.Generate(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, resA.Collections, resB.Collections)
}

func TestReader_FallsBackToDocuments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := NewReader(h.docs, h.cache, logging.Discard())

	_, err := r.Day(ctx, day)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = h.gen.Generate(ctx, day)
	require.NoError(t, err)
	h.mr.Del(day.CacheKey())

	cols, err := r.Day(ctx, day)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "2022:8:22:s1", cols[0].ID)
}

func TestGenerate_CapsCandidates(t *testing.T) {
	h := newHarness(t)
	h.series.groups = nil
	h.stats.stats = map[string]graph.StoryStats{}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("hn:%d", 100+i)
		h.series.groups = append(h.series.groups, timeseries.Group{StoryID: id, Max: float64(100 - i)})
		h.stats.stats[id] = graph.StoryStats{ID: id, Score: i, CommentTotal: 1, Created: dayStart + int64(i)}
	}

	res, err := h.gen.Generate(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, res.Collections, 9)

	require.Len(t, h.stats.asked, 20)
	assert.Equal(t, "hn:100", h.stats.asked[0])
	assert.Equal(t, "hn:119", h.stats.asked[19])
	for _, c := range res.Collections {
		assert.NotContains(t, []string{"hn:120", "hn:121", "hn:122", "hn:123", "hn:124"}, c.Origins[0])
	}
}

func TestGenerate_FailedSaveLeavesDayRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the second entry's slug is already taken by another day
	require.NoError(t, h.docs.SaveCollection(ctx, &store.Collection{
		ID: "2022:8:21:x", Year: 2022, Month: 8, Day: 21, Slug: "second-place-s2",
	}))

	_, err := h.gen.Generate(ctx, day)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Store))

	cols, err := h.docs.CollectionsByDate(ctx, 2022, 8, 22)
	require.NoError(t, err)
	assert.Empty(t, cols, "no entry of a failed day is kept")
	assert.False(t, h.mr.Exists(day.CacheKey()))
	assert.False(t, h.mr.Exists(day.LockKey()))

	g := newGenerator(h)
	n := 0
	g.newSuffix = func() string {
		n++
		return fmt.Sprintf("r%d", n)
	}
	res, err := g.Generate(ctx, day)
	require.NoError(t, err)
	assert.Len(t, res.Collections, 2)
}

func TestGenerate_KeepsLockTakenOverByAnotherRun(t *testing.T) {
	h := newHarness(t)
	// the lock expires mid-run and another process claims it
	h.images.onSearch = func() { h.mr.Set(day.LockKey(), "other-run") }

	_, err := h.gen.Generate(context.Background(), day)
	require.NoError(t, err)

	held, err := h.mr.Get(day.LockKey())
	require.NoError(t, err)
	assert.Equal(t, "other-run", held)
}
