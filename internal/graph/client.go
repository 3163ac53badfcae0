package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// StoryNode is the graph state written for one story.
type StoryNode struct {
	ID           string
	Created      int64
	Score        int
	CommentTotal int
	Deleted      bool
	Locked       bool
	Source       string // source domain, e.g. news.ycombinator.com
	Host         string // Url node name
	Address      string // full link, empty for text posts
	AuthorID     string
}

type UserNode struct {
	ID      string
	Created int64
	Score   int
}

// CommentNode is one flattened comment. ParentID points at a Story or Comment.
type CommentNode struct {
	ID       string
	ParentID string
	AuthorID string
	Created  int64
	Deleted  bool
}

// Window selects tracked stories. Start is the more recent bound.
type Window struct {
	Start        int64
	End          int64
	Score        int
	CommentTotal int
}

// TrackedStory is a story row returned by StoriesInWindow.
type TrackedStory struct {
	ID           string
	Created      int64
	Deleted      bool
	Locked       bool
	Score        int
	CommentTotal int
	Domain       string
	AuthorID     string
}

type StoryStats struct {
	ID           string
	Score        int
	CommentTotal int
	Created      int64
}

// Client issues the domain queries over a Runner.
type Client struct {
	runner Runner
}

func NewClient(r Runner) *Client {
	return &Client{runner: r}
}

// EnsureConstraints creates the uniqueness constraints on natural keys.
func (c *Client) EnsureConstraints(ctx context.Context) error {
	stmts := make([]Statement, len(constraints))
	for i, q := range constraints {
		stmts[i] = Statement{Cypher: q}
	}
	if err := c.runner.Write(ctx, stmts...); err != nil {
		return fmt.Errorf("ensure constraints: %w", err)
	}
	return nil
}

func (c *Client) UpsertUser(ctx context.Context, u UserNode) error {
	err := c.runner.Write(ctx, Statement{
		Cypher: upsertUserCypher,
		Params: map[string]any{"id": u.ID, "created": u.Created, "score": u.Score},
	})
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// UserScore returns the stored karma of a user, and false when the node is missing.
func (c *Client) UserScore(ctx context.Context, id string) (int, bool, error) {
	rows, err := c.runner.Read(ctx, Statement{
		Cypher: userScoreCypher,
		Params: map[string]any{"id": id},
	})
	if err != nil {
		return 0, false, fmt.Errorf("read user score %s: %w", id, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return int(asInt64(rows[0]["score"])), true, nil
}

func (c *Client) SetUserScore(ctx context.Context, id string, score int) error {
	err := c.runner.Write(ctx, Statement{
		Cypher: setUserScoreCypher,
		Params: map[string]any{"id": id, "score": score},
	})
	if err != nil {
		return fmt.Errorf("set user score %s: %w", id, err)
	}
	return nil
}

// UpsertStory writes the story node, its source and url edges, and the
// author edges when the story has an author.
func (c *Client) UpsertStory(ctx context.Context, s StoryNode) error {
	stmts := []Statement{{
		Cypher: upsertStoryCypher,
		Params: map[string]any{
			"id":           s.ID,
			"created":      s.Created,
			"score":        s.Score,
			"commentTotal": s.CommentTotal,
			"deleted":      s.Deleted,
			"locked":       s.Locked,
			"source":       s.Source,
			"host":         s.Host,
			"address":      s.Address,
		},
	}}
	if s.AuthorID != "" {
		stmts = append(stmts, Statement{
			Cypher: linkStoryAuthorCypher,
			Params: map[string]any{"id": s.ID, "source": s.Source, "authorId": s.AuthorID},
		})
	}
	if err := c.runner.Write(ctx, stmts...); err != nil {
		return fmt.Errorf("upsert story %s: %w", s.ID, err)
	}
	return nil
}

// UpsertComments writes all comments in one transaction, in the given order.
// Parents must precede their children.
func (c *Client) UpsertComments(ctx context.Context, comments []CommentNode) error {
	if len(comments) == 0 {
		return nil
	}
	stmts := make([]Statement, 0, len(comments)*2)
	for _, cm := range comments {
		stmts = append(stmts, Statement{
			Cypher: upsertCommentCypher,
			Params: map[string]any{
				"id":       cm.ID,
				"created":  cm.Created,
				"deleted":  cm.Deleted,
				"parentId": cm.ParentID,
			},
		})
		if cm.AuthorID != "" {
			stmts = append(stmts, Statement{
				Cypher: linkCommentAuthorCypher,
				Params: map[string]any{"id": cm.ID, "authorId": cm.AuthorID},
			})
		}
	}
	if err := c.runner.Write(ctx, stmts...); err != nil {
		return fmt.Errorf("upsert %d comments: %w", len(comments), err)
	}
	return nil
}

func (c *Client) StoriesInWindow(ctx context.Context, w Window) ([]TrackedStory, error) {
	rows, err := c.runner.Read(ctx, Statement{
		Cypher: storiesInWindowCypher,
		Params: map[string]any{
			"start":        w.Start,
			"end":          w.End,
			"score":        w.Score,
			"commentTotal": w.CommentTotal,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query stories in window %d..%d: %w", w.End, w.Start, err)
	}

	out := make([]TrackedStory, 0, len(rows))
	for _, r := range rows {
		out = append(out, TrackedStory{
			ID:           asString(r["id"]),
			Created:      asInt64(r["created"]),
			Deleted:      asBool(r["deleted"]),
			Locked:       asBool(r["locked"]),
			Score:        int(asInt64(r["score"])),
			CommentTotal: int(asInt64(r["comment_total"])),
			Domain:       asString(r["domain"]),
			AuthorID:     asString(r["author"]),
		})
	}
	return out, nil
}

// StoryStats resolves current counters for ids in one query. Missing ids are absent from the map.
func (c *Client) StoryStats(ctx context.Context, ids []string) (map[string]StoryStats, error) {
	out := make(map[string]StoryStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.runner.Read(ctx, Statement{
		Cypher: storyStatsCypher,
		Params: map[string]any{"ids": ids},
	})
	if err != nil {
		return nil, fmt.Errorf("query story stats (%d ids): %w", len(ids), err)
	}
	for _, r := range rows {
		st := StoryStats{
			ID:           asString(r["id"]),
			Score:        int(asInt64(r["score"])),
			CommentTotal: int(asInt64(r["comment_total"])),
			Created:      asInt64(r["created"]),
		}
		out[st.ID] = st
	}
	return out, nil
}

// StoryChanges lists the fields that differ from stored state. Nil fields are left alone.
type StoryChanges struct {
	Deleted      *bool
	Locked       *bool
	Score        *int
	CommentTotal *int
}

func (ch StoryChanges) Empty() bool {
	return ch.Deleted == nil && ch.Locked == nil && ch.Score == nil && ch.CommentTotal == nil
}

// Batch collects story updates from concurrent workers for one transaction.
type Batch struct {
	mu    sync.Mutex
	stmts []Statement
}

func (c *Client) NewBatch() *Batch {
	return &Batch{}
}

// UpdateStory queues a SET of only the changed fields. It reports whether
// anything was queued.
func (b *Batch) UpdateStory(id string, ch StoryChanges) bool {
	if ch.Empty() {
		return false
	}

	params := map[string]any{"id": id}
	var sets []string
	if ch.Deleted != nil {
		sets = append(sets, "story.deleted = $deleted")
		params["deleted"] = *ch.Deleted
	}
	if ch.Locked != nil {
		sets = append(sets, "story.locked = $locked")
		params["locked"] = *ch.Locked
	}
	if ch.Score != nil {
		sets = append(sets, "story.score = $score")
		params["score"] = *ch.Score
	}
	if ch.CommentTotal != nil {
		sets = append(sets, "story.comment_total = $commentTotal")
		params["commentTotal"] = *ch.CommentTotal
	}

	b.mu.Lock()
	b.stmts = append(b.stmts, Statement{
		Cypher: "MATCH (story:Story {id: $id})\nSET " + strings.Join(sets, ", "),
		Params: params,
	})
	b.mu.Unlock()
	return true
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stmts)
}

// Statements returns a copy of the queued statements.
func (b *Batch) Statements() []Statement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Statement(nil), b.stmts...)
}

// Exec commits every queued update in one transaction.
func (c *Client) Exec(ctx context.Context, b *Batch) error {
	stmts := b.Statements()
	if len(stmts) == 0 {
		return nil
	}
	if err := c.runner.Write(ctx, stmts...); err != nil {
		return fmt.Errorf("exec story batch: %w", err)
	}
	return nil
}

// HostOf returns the Url node name for a link: its hostname without a
// leading "www.". Empty or unparsable links map to fallback.
func HostOf(link, fallback string) string {
	if link == "" {
		return fallback
	}
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return fallback
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
