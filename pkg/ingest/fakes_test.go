package ingest

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/logging"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/internal/timeseries"
	"github.com/elonfeng/meatballs/pkg/source"
)

type fakeSource struct {
	mu       sync.Mutex
	newest   []string
	stories  map[string]*source.Story
	users    map[string]*source.User
	comments map[string][]source.Comment
	missing  map[string]bool // comment trees answering 404
	gone     map[string]bool // stories answering 404
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stories:  map[string]*source.Story{},
		users:    map[string]*source.User{},
		comments: map[string][]source.Comment{},
		missing:  map[string]bool{},
		gone:     map[string]bool{},
		calls:    map[string]int{},
	}
}

func (f *fakeSource) count(key string) {
	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()
}

func (f *fakeSource) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeSource) Name() source.DataSource { return source.HackerNews }

func (f *fakeSource) NewestStoryIDs(context.Context) ([]string, error) {
	f.count("newest")
	return f.newest, nil
}

func (f *fakeSource) Story(_ context.Context, id string) (*source.Story, error) {
	f.count("story:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return nil, &source.StatusError{URL: "/item/" + id + ".json", StatusCode: 404}
	}
	return f.stories[id], nil
}

func (f *fakeSource) User(_ context.Context, id string) (*source.User, error) {
	f.count("user:" + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeSource) Comments(_ context.Context, id string) ([]source.Comment, error) {
	f.count("comments:" + id)
	if f.missing[id] {
		return nil, &source.StatusError{URL: "/items/" + id, StatusCode: 404}
	}
	return f.comments[id], nil
}

// fakeGraph keeps nodes in maps keyed by id, so repeated upserts collapse.
type fakeGraph struct {
	mu       sync.Mutex
	stories  map[string]graph.StoryNode
	users    map[string]graph.UserNode
	comments map[string]graph.CommentNode
	order    []string // comment ids in write order
	batches  [][]graph.Statement
	writes   int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		stories:  map[string]graph.StoryNode{},
		users:    map[string]graph.UserNode{},
		comments: map[string]graph.CommentNode{},
	}
}

func (f *fakeGraph) UpsertUser(_ context.Context, u graph.UserNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.users[u.ID] = u
	return nil
}

func (f *fakeGraph) UserScore(_ context.Context, id string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u.Score, ok, nil
}

func (f *fakeGraph) SetUserScore(_ context.Context, id string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	u := f.users[id]
	u.Score = score
	f.users[id] = u
	return nil
}

func (f *fakeGraph) UpsertStory(_ context.Context, s graph.StoryNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.stories[s.ID] = s
	return nil
}

func (f *fakeGraph) UpsertComments(_ context.Context, cs []graph.CommentNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	for _, c := range cs {
		f.comments[c.ID] = c
		f.order = append(f.order, c.ID)
	}
	return nil
}

func (f *fakeGraph) StoriesInWindow(_ context.Context, w graph.Window) ([]graph.TrackedStory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []graph.TrackedStory
	for _, s := range f.stories {
		if s.Created > w.Start || s.Created < w.End || s.Score < w.Score || s.CommentTotal < w.CommentTotal {
			continue
		}
		out = append(out, graph.TrackedStory{
			ID: s.ID, Created: s.Created, Deleted: s.Deleted, Locked: s.Locked,
			Score: s.Score, CommentTotal: s.CommentTotal, Domain: s.Host, AuthorID: s.AuthorID,
		})
	}
	return out, nil
}

func (f *fakeGraph) NewBatch() *graph.Batch { return &graph.Batch{} }

func (f *fakeGraph) Exec(_ context.Context, b *graph.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.Statements())
	return nil
}

type fakeSeries struct {
	mu      sync.Mutex
	samples []timeseries.Sample
}

func (f *fakeSeries) Append(_ context.Context, s timeseries.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakeSeries) MaxByStory(context.Context, time.Time, time.Time) ([]timeseries.Group, error) {
	return nil, nil
}

type harness struct {
	src      *fakeSource
	graph    *fakeGraph
	docs     *store.SQLiteStore
	series   *fakeSeries
	log      logrus.FieldLogger
	users    *Users
	comments *Comments
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	docs, err := store.New(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	h := &harness{
		src:    newFakeSource(),
		graph:  newFakeGraph(),
		docs:   docs,
		series: &fakeSeries{},
		log:    logging.Discard(),
	}
	h.users = NewUsers(h.src, h.docs, h.graph, h.log)
	h.comments = NewComments(h.src, h.docs, h.graph, h.users, h.log, 4)
	return h
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
