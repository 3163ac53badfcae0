package ingest

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/source"
)

// CommentsResult reports one comment ingest. Success is false when the
// story's comments were not available yet.
type CommentsResult struct {
	Success          bool
	NewCommentsSaved int
}

// Comments ingests a story's comment tree.
type Comments struct {
	src         source.Client
	docs        store.Store
	graph       Graph
	users       *Users
	log         logrus.FieldLogger
	concurrency int
}

func NewComments(src source.Client, docs store.Store, g Graph, users *Users, log logrus.FieldLogger, concurrency int) *Comments {
	return &Comments{
		src:         src,
		docs:        docs,
		graph:       g,
		users:       users,
		log:         log,
		concurrency: concurrencyOr(concurrency),
	}
}

// FlatComment is a comment detached from its tree.
type FlatComment struct {
	source.Comment
	ParentNative string
}

// Flatten walks the tree depth first and returns every comment once, parents
// before their children. Top level comments get storyNativeID as parent.
func Flatten(storyNativeID string, tree []source.Comment) []FlatComment {
	var out []FlatComment
	seen := make(map[int64]bool)

	var walk func(parent string, nodes []source.Comment)
	walk = func(parent string, nodes []source.Comment) {
		for _, c := range nodes {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			children := c.Children
			c.Children = nil
			out = append(out, FlatComment{Comment: c, ParentNative: parent})
			walk(strconv.FormatInt(c.ID, 10), children)
		}
	}
	walk(storyNativeID, tree)
	return out
}

// Run saves every unseen comment of the story. A story the source does not
// know yet is a soft failure.
func (c *Comments) Run(ctx context.Context, storyNativeID string) (CommentsResult, error) {
	const op = "NewComments"
	ds := c.src.Name()
	storyID := ds.ID(storyNativeID)
	log := c.log.WithFields(logrus.Fields{"op": op, "source": ds, "story": storyID})

	tree, err := c.src.Comments(ctx, storyNativeID)
	if source.IsNotFound(err) {
		log.Warn("story has not propagated or is locked or deleted; skipping comments")
		return CommentsResult{}, nil
	}
	if err != nil {
		return CommentsResult{}, apperr.E(apperr.Upstream, op, err)
	}

	flat := Flatten(storyNativeID, tree)
	if len(flat) == 0 {
		return CommentsResult{Success: true}, nil
	}

	ids := make([]string, len(flat))
	for i, fc := range flat {
		ids[i] = ds.ID(strconv.FormatInt(fc.ID, 10))
	}
	existing, err := c.docs.ExistingIDs(ctx, store.KindComment, ids)
	if err != nil {
		return CommentsResult{}, apperr.E(apperr.Store, op, err)
	}

	var fresh []int
	for i := range flat {
		if !existing[ids[i]] {
			fresh = append(fresh, i)
		}
	}
	if len(fresh) == 0 {
		return CommentsResult{Success: true}, nil
	}

	nodes := make([]graph.CommentNode, len(fresh))
	docs := make([]*store.Comment, len(fresh))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for k, i := range fresh {
		k, i := k, i
		fc, id := flat[i], ids[i]
		g.Go(func() error {
			var author string
			if fc.Author != "" {
				if res := c.users.Resolve(gctx, fc.Author); res.Success {
					author = ds.ID(fc.Author)
				}
			}
			parent := ds.ID(fc.ParentNative)
			nodes[k] = graph.CommentNode{
				ID:       id,
				ParentID: parent,
				AuthorID: author,
				Created:  fc.CreatedAt,
				Deleted:  fc.Deleted,
			}
			docs[k] = &store.Comment{
				ID:       id,
				StoryID:  storyID,
				ParentID: parent,
				Content:  nullable(fc.Text),
				Created:  fc.CreatedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CommentsResult{}, err
	}

	// graph first: documents mark a comment as done for the next run
	if err := c.graph.UpsertComments(ctx, nodes); err != nil {
		return CommentsResult{}, apperr.E(apperr.Store, op, err)
	}
	for _, doc := range docs {
		if err := c.docs.SaveComment(ctx, doc); err != nil {
			return CommentsResult{}, apperr.E(apperr.Store, op, err)
		}
	}

	log.WithField("new_comments_saved", len(nodes)).Info("ingested new comments")
	return CommentsResult{Success: true, NewCommentsSaved: len(nodes)}, nil
}
