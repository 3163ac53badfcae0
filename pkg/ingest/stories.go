package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/search"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/source"
)

// StoriesResult counts what one run saved.
type StoriesResult struct {
	NewStoriesSaved int `json:"new_stories_saved"`
	NewUsersSaved   int `json:"new_users_saved"`
}

// Stories ingests stories from the source's newest listing.
type Stories struct {
	src         source.Client
	docs        store.Store
	graph       Graph
	users       *Users
	index       Indexer
	log         logrus.FieldLogger
	concurrency int
}

// NewStories creates a story ingestor. index may be nil.
func NewStories(src source.Client, docs store.Store, g Graph, users *Users, index Indexer, log logrus.FieldLogger, concurrency int) *Stories {
	return &Stories{
		src:         src,
		docs:        docs,
		graph:       g,
		users:       users,
		index:       index,
		log:         log,
		concurrency: concurrencyOr(concurrency),
	}
}

// Run saves every unseen story among the newest limit ids (0 means all).
// The first failing story aborts the run; the counts reached so far are
// still returned.
func (s *Stories) Run(ctx context.Context, limit int) (StoriesResult, error) {
	const op = "NewStories"
	start := time.Now()
	log := s.log.WithFields(logrus.Fields{"op": op, "source": s.src.Name(), "limit": limit})

	native, err := s.src.NewestStoryIDs(ctx)
	if err != nil {
		return StoriesResult{}, apperr.E(apperr.Upstream, op, err)
	}
	if limit > 0 && len(native) > limit {
		native = native[:limit]
	}

	ids := make([]string, len(native))
	for i, n := range native {
		ids[i] = s.src.Name().ID(n)
	}
	existing, err := s.docs.ExistingIDs(ctx, store.KindStory, ids)
	if err != nil {
		return StoriesResult{}, apperr.E(apperr.Store, op, err)
	}

	var (
		mu       sync.Mutex
		saved    int
		newUsers = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, n := range native {
		if existing[ids[i]] {
			continue
		}
		nativeID, id := n, ids[i]
		g.Go(func() error {
			user, err := s.ingestOne(gctx, op, nativeID, id)
			if err != nil {
				return err
			}
			mu.Lock()
			saved++
			if user != "" {
				newUsers[user] = true
			}
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	res := StoriesResult{NewStoriesSaved: saved, NewUsersSaved: len(newUsers)}
	log = log.WithFields(logrus.Fields{
		"candidates":        len(native) - len(existing),
		"new_stories_saved": res.NewStoriesSaved,
		"new_users_saved":   res.NewUsersSaved,
		"elapsed":           time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("ingest new stories")
		return res, err
	}
	log.Info("ingested new stories")
	return res, nil
}

// ingestOne saves one story and returns the author id when the author was new.
func (s *Stories) ingestOne(ctx context.Context, op, nativeID, id string) (string, error) {
	detail, err := s.src.Story(ctx, nativeID)
	if err != nil {
		return "", apperr.E(apperr.Upstream, op, err)
	}
	if detail == nil {
		return "", apperr.Errorf(apperr.Upstream, op, "story %s missing from source", id)
	}

	var newUser string
	if detail.By != "" {
		if res := s.users.Resolve(ctx, detail.By); res.IsNew {
			newUser = res.UpdatedUser.ID
		}
	}

	doc := &store.Story{
		ID:      id,
		Title:   nullable(detail.Title),
		Content: nullable(detail.Text),
		URL:     nullable(detail.URL),
		Created: detail.Time,
	}
	node := StoryNodeFrom(s.src.Name(), id, detail)

	// document and graph writes are independent stores
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.docs.SaveStory(gctx, doc); err != nil {
			return apperr.E(apperr.Store, op, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.graph.UpsertStory(gctx, node); err != nil {
			return apperr.E(apperr.Store, op, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	if s.index != nil {
		if err := s.index.IndexStory(search.StoryDoc{ID: id, Title: detail.Title, URL: detail.URL, Created: detail.Time}); err != nil {
			s.log.WithFields(logrus.Fields{"op": op, "story": id}).WithError(err).Warn("index story")
		}
	}
	return newUser, nil
}

// StoryNodeFrom maps a source story to its graph node. Dead stories are locked.
func StoryNodeFrom(ds source.DataSource, id string, st *source.Story) graph.StoryNode {
	domain := source.HNSourceDomain
	node := graph.StoryNode{
		ID:           id,
		Created:      st.Time,
		Score:        st.Score,
		CommentTotal: st.Descendants,
		Deleted:      st.Deleted,
		Locked:       st.Dead,
		Source:       domain,
		Host:         graph.HostOf(st.URL, domain),
		Address:      st.URL,
	}
	if st.By != "" {
		node.AuthorID = ds.ID(st.By)
	}
	return node
}
