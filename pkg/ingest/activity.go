package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/timeseries"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/rank"
	"github.com/elonfeng/meatballs/pkg/source"
)

// ActivityParams bound one monitor run. Start is the more recent bound and
// End the older one, both unix seconds. Zero values take defaults.
type ActivityParams struct {
	Start         int64
	End           int64
	Score         int
	CommentTotal  int
	CommentWeight int
	Falloff       int
}

type ActivityResult struct {
	StoriesUpdatedWithLatestScore        int `json:"stories_updated_with_latest_score"`
	StoriesUpdatedWithLatestCommentTotal int `json:"stories_updated_with_latest_comment_total"`
}

// ActivityDefaults fill in parameters the caller left empty.
type ActivityDefaults struct {
	Window        time.Duration
	CommentWeight int
	Falloff       int
}

// Activity re-polls recently created stories and records their activity.
type Activity struct {
	src         source.Client
	graph       Graph
	series      timeseries.Store
	users       *Users
	comments    *Comments
	log         logrus.FieldLogger
	concurrency int
	defaults    ActivityDefaults

	now func() time.Time
}

func NewActivity(src source.Client, g Graph, series timeseries.Store, users *Users, comments *Comments,
	log logrus.FieldLogger, concurrency int, defaults ActivityDefaults) *Activity {
	if defaults.Window <= 0 {
		defaults.Window = time.Hour
	}
	return &Activity{
		src:         src,
		graph:       g,
		series:      series,
		users:       users,
		comments:    comments,
		log:         log,
		concurrency: concurrencyOr(concurrency),
		defaults:    defaults,
		now:         time.Now,
	}
}

// Normalize validates p and fills in defaults.
func (a *Activity) Normalize(p ActivityParams) (ActivityParams, error) {
	const op = "StoryActivity"
	if p.CommentWeight == 0 {
		p.CommentWeight = a.defaults.CommentWeight
	}
	if p.Falloff == 0 {
		p.Falloff = a.defaults.Falloff
	}
	if err := rank.ValidateWeights(p.CommentWeight, p.Falloff); err != nil {
		return p, apperr.E(apperr.Validation, op, err)
	}
	if p.Score < 0 || p.CommentTotal < 0 {
		return p, apperr.Errorf(apperr.Validation, op, "score and commentTotal thresholds must not be negative")
	}
	if p.Start == 0 {
		p.Start = a.now().Unix()
	}
	if p.End == 0 {
		p.End = p.Start - int64(a.defaults.Window/time.Second)
	}
	if p.End > p.Start {
		return p, apperr.Errorf(apperr.Validation, op, "start %d must not be older than end %d", p.Start, p.End)
	}
	return p, nil
}

// Run diffs every story in the window against the source, queues the
// changes into one graph batch, appends an activity sample per story and
// re-ingests comments of stories that are still open.
func (a *Activity) Run(ctx context.Context, p ActivityParams) (ActivityResult, error) {
	const op = "StoryActivity"
	p, err := a.Normalize(p)
	if err != nil {
		return ActivityResult{}, err
	}

	ds := a.src.Name()
	log := a.log.WithFields(logrus.Fields{
		"op": op, "source": ds, "start": p.Start, "end": p.End,
		"score": p.Score, "comment_total": p.CommentTotal,
		"comment_weight": p.CommentWeight, "falloff": p.Falloff,
	})

	stories, err := a.graph.StoriesInWindow(ctx, graph.Window{
		Start: p.Start, End: p.End, Score: p.Score, CommentTotal: p.CommentTotal,
	})
	if err != nil {
		return ActivityResult{}, apperr.E(apperr.Store, op, err)
	}

	var scoreUpdates, commentUpdates atomic.Int64
	batch := a.graph.NewBatch()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, st := range stories {
		st := st
		g.Go(func() error {
			ch, err := a.track(gctx, op, ds, st, p, batch)
			if err != nil {
				return err
			}
			if ch.Score != nil {
				scoreUpdates.Add(1)
			}
			if ch.CommentTotal != nil {
				commentUpdates.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("process story activity")
		return ActivityResult{}, err
	}

	if err := a.graph.Exec(ctx, batch); err != nil {
		log.WithError(err).Error("exec story updates")
		return ActivityResult{}, apperr.E(apperr.Store, op, err)
	}

	res := ActivityResult{
		StoriesUpdatedWithLatestScore:        int(scoreUpdates.Load()),
		StoriesUpdatedWithLatestCommentTotal: int(commentUpdates.Load()),
	}
	log.WithFields(logrus.Fields{
		"tracked":               len(stories),
		"updated":               batch.Len(),
		"score_updates":         res.StoriesUpdatedWithLatestScore,
		"comment_total_updates": res.StoriesUpdatedWithLatestCommentTotal,
	}).Info("updated story activity")
	return res, nil
}

func (a *Activity) track(ctx context.Context, op string, ds source.DataSource, st graph.TrackedStory,
	p ActivityParams, batch *graph.Batch) (graph.StoryChanges, error) {
	native := ds.NativeID(st.ID)
	log := a.log.WithFields(logrus.Fields{"op": op, "source": ds, "story": st.ID})

	latest, err := a.src.Story(ctx, native)
	if source.IsNotFound(err) {
		log.Warn("story not found at source; skipping")
		return graph.StoryChanges{}, nil
	}
	if err != nil {
		return graph.StoryChanges{}, apperr.E(apperr.Upstream, op, err)
	}
	if latest == nil {
		return graph.StoryChanges{}, apperr.Errorf(apperr.Upstream, op, "story %s missing from source", st.ID)
	}

	ch := diffStory(st, latest)
	if batch.UpdateStory(st.ID, ch) {
		log.Debug("queued story update")
	}

	sample := timeseries.Sample{
		StoryID:   st.ID,
		Source:    string(ds),
		Timestamp: a.now(),
		Value: rank.SampleValue(rank.SampleParams{
			Score:         latest.Score,
			CommentTotal:  latest.Descendants,
			CommentWeight: p.CommentWeight,
			Falloff:       p.Falloff,
			Created:       st.Created,
			Start:         p.Start,
			End:           p.End,
		}),
	}
	if err := a.series.Append(ctx, sample); err != nil {
		return ch, apperr.E(apperr.Store, op, err)
	}

	open := !latest.Dead && !latest.Deleted
	if !open {
		log.WithFields(logrus.Fields{"locked": latest.Dead, "deleted": latest.Deleted}).
			Info("story closed; not processing new comments")
	}

	g, gctx := errgroup.WithContext(ctx)
	if st.AuthorID != "" {
		g.Go(func() error {
			a.users.Resolve(gctx, ds.NativeID(st.AuthorID))
			return nil
		})
	}
	if open {
		g.Go(func() error {
			_, err := a.comments.Run(gctx, native)
			return err
		})
	}
	return ch, g.Wait()
}

// diffStory returns the fields whose latest value differs from the graph.
func diffStory(prior graph.TrackedStory, latest *source.Story) graph.StoryChanges {
	var ch graph.StoryChanges
	if latest.Deleted != prior.Deleted {
		v := latest.Deleted
		ch.Deleted = &v
	}
	if latest.Dead != prior.Locked {
		v := latest.Dead
		ch.Locked = &v
	}
	if latest.Score != prior.Score {
		v := latest.Score
		ch.Score = &v
	}
	if latest.Descendants != prior.CommentTotal {
		v := latest.Descendants
		ch.CommentTotal = &v
	}
	return ch
}
