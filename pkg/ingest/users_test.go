package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/source"
)

func TestUsers_NewUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.src.users["dana"] = &source.User{ID: "dana", About: "hi", Karma: 42, Created: 100}

	res := h.users.Resolve(ctx, "dana")
	assert.True(t, res.Success)
	assert.True(t, res.IsNew)
	require.NotNil(t, res.UpdatedUser)
	assert.Equal(t, graph.UserNode{ID: "hn:dana", Created: 100, Score: 42}, *res.UpdatedUser)

	ok, err := h.docs.UserExists(ctx, "hn:dana")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsers_RefreshOnlyOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.docs.SaveUser(ctx, &store.User{ID: "hn:erin"}))
	h.graph.users["hn:erin"] = graph.UserNode{ID: "hn:erin", Score: 5}
	h.src.users["erin"] = &source.User{ID: "erin", Karma: 5}

	res := h.users.Resolve(ctx, "erin")
	assert.Equal(t, UserResult{Success: true}, res)
	assert.Zero(t, h.graph.writes, "unchanged karma is a no-op")

	h.src.users["erin"] = &source.User{ID: "erin", Karma: 9}
	res = h.users.Resolve(ctx, "erin")
	assert.True(t, res.Success)
	assert.False(t, res.IsNew)
	assert.Nil(t, res.UpdatedUser)
	assert.Equal(t, 9, h.graph.users["hn:erin"].Score)
	assert.Equal(t, 1, h.graph.writes)
}

func TestUsers_FailureIsSoft(t *testing.T) {
	h := newHarness(t)

	res := h.users.Resolve(context.Background(), "ghost")
	assert.Equal(t, UserResult{}, res)

	assert.Equal(t, UserResult{}, h.users.Resolve(context.Background(), ""))
	assert.Zero(t, h.src.Calls("user:"))
}

func TestUsers_ConcurrentResolveIsConsistent(t *testing.T) {
	h := newHarness(t)
	h.src.users["finn"] = &source.User{ID: "finn", Karma: 1}

	var wg sync.WaitGroup
	results := make([]UserResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.users.Resolve(context.Background(), "finn")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Len(t, h.graph.users, 1)
}
