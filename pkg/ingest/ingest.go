// Package ingest pulls stories, comments and users from a source into the
// graph, document and time-series stores.
package ingest

import (
	"context"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/search"
)

// Graph is the subset of the graph client the ingestors use.
type Graph interface {
	UpsertUser(ctx context.Context, u graph.UserNode) error
	UserScore(ctx context.Context, id string) (int, bool, error)
	SetUserScore(ctx context.Context, id string, score int) error
	UpsertStory(ctx context.Context, s graph.StoryNode) error
	UpsertComments(ctx context.Context, comments []graph.CommentNode) error
	StoriesInWindow(ctx context.Context, w graph.Window) ([]graph.TrackedStory, error)
	NewBatch() *graph.Batch
	Exec(ctx context.Context, b *graph.Batch) error
}

// Indexer receives every newly saved story for full-text search.
type Indexer interface {
	IndexStory(doc search.StoryDoc) error
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func concurrencyOr(n int) int {
	if n < 1 {
		return 8
	}
	return n
}
