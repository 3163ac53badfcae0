// Package collection curates each day's ranked collection of stories.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/meatballs/internal/cache"
	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/internal/timeseries"
	"github.com/elonfeng/meatballs/pkg/alert"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/rank"
	"github.com/elonfeng/meatballs/pkg/source"
)

// StatsReader resolves current story counters from the graph.
type StatsReader interface {
	StoryStats(ctx context.Context, ids []string) (map[string]graph.StoryStats, error)
}

// Options configure a Generator. Zero Candidates, Size and LockTTL take defaults.
type Options struct {
	StartDate  time.Time
	Candidates int
	Size       int
	LockTTL    time.Duration
	PublicURL  string // base of collection links in notifications
}

// Result is the outcome of one generation.
type Result struct {
	Success     bool               `json:"-"`
	NotFound    bool               `json:"not_found"`
	Exists      bool               `json:"exists"`
	Benchmark   int64              `json:"benchmark"`
	Collections []store.Collection `json:"-"`
}

// Generator builds a day's collections from activity samples.
type Generator struct {
	series timeseries.Store
	graph  StatsReader
	docs   store.Store
	cache  cache.Cache
	images source.ImageSearcher
	alerts *alert.Manager
	log    logrus.FieldLogger
	opts   Options

	now       func() time.Time
	newSuffix func() string
}

// NewGenerator creates a generator. images and alerts may be nil.
func NewGenerator(series timeseries.Store, g StatsReader, docs store.Store, c cache.Cache,
	images source.ImageSearcher, alerts *alert.Manager, log logrus.FieldLogger, opts Options) *Generator {
	if opts.Candidates <= 0 {
		opts.Candidates = 20
	}
	if opts.Size <= 0 {
		opts.Size = 9
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Generator{
		series:    series,
		graph:     g,
		docs:      docs,
		cache:     c,
		images:    images,
		alerts:    alerts,
		log:       log,
		opts:      opts,
		now:       time.Now,
		newSuffix: randomSuffix,
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Generate curates the collection for key. NotFound and Conflict outcomes
// are returned as classified errors alongside a Result with the matching flag.
func (g *Generator) Generate(ctx context.Context, key DateKey) (res Result, err error) {
	const op = "NewCollections"
	began := g.now()
	log := g.log.WithFields(logrus.Fields{"op": op, "source": source.HackerNews, "date_key": key.String()})
	defer func() {
		res.Benchmark = g.now().Sub(began).Milliseconds()
		if err != nil {
			log.WithError(err).WithField("benchmark_ms", res.Benchmark).Warn("generate collections")
		}
	}()

	if !key.valid() {
		return res, apperr.Errorf(apperr.Validation, op, "invalid date key %s", key)
	}
	if g.outsideWindow(key) {
		res.NotFound = true
		return res, apperr.Errorf(apperr.NotFound, op, "no collections for %s", key)
	}

	exists, err := g.exists(ctx, key)
	if err != nil {
		return res, apperr.E(apperr.Store, op, err)
	}
	if exists {
		res.Exists = true
		return res, apperr.Errorf(apperr.Conflict, op, "collections for %s already exist", key)
	}

	token := []byte(uuid.NewString())
	locked, err := g.cache.SetNX(ctx, key.LockKey(), token, g.opts.LockTTL)
	if err != nil {
		return res, apperr.E(apperr.Store, op, err)
	}
	if !locked {
		res.Exists = true
		return res, apperr.Errorf(apperr.Conflict, op, "collections for %s are being generated", key)
	}
	// the lock may have expired and been taken by another run; only our own
	// token is released
	defer func() {
		released, derr := g.cache.CompareAndDel(context.WithoutCancel(ctx), key.LockKey(), token)
		if derr != nil {
			log.WithError(derr).Warn("release generation lock")
		} else if !released {
			log.Warn("generation lock expired before release")
		}
	}()

	// another process may have finished between the first check and the lock
	if exists, err := g.exists(ctx, key); err != nil {
		return res, apperr.E(apperr.Store, op, err)
	} else if exists {
		res.Exists = true
		return res, apperr.Errorf(apperr.Conflict, op, "collections for %s already exist", key)
	}

	ranked, err := g.rank(ctx, op, key)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			res.NotFound = true
		}
		return res, err
	}

	cols, err := g.build(ctx, op, key, ranked)
	if err != nil {
		return res, err
	}

	if err := g.docs.SaveCollections(ctx, cols); err != nil {
		return res, apperr.E(apperr.Store, op, err)
	}

	blob, err := json.Marshal(cols)
	if err != nil {
		return res, fmt.Errorf("encode collection cache %s: %w", key, err)
	}
	if err := g.cache.Set(ctx, key.CacheKey(), blob, 0); err != nil {
		return res, apperr.E(apperr.Store, op, err)
	}

	g.announce(ctx, log, key, cols)

	res.Success = true
	res.Collections = cols
	log.WithFields(logrus.Fields{"collections": len(cols), "benchmark_ms": g.now().Sub(began).Milliseconds()}).
		Info("generated collections")
	return res, nil
}

// outsideWindow reports days before the start date, today and the future.
func (g *Generator) outsideWindow(key DateKey) bool {
	day := key.Start()
	if !g.opts.StartDate.IsZero() && day.Before(KeyOf(g.opts.StartDate).Start()) {
		return true
	}
	yesterday := KeyOf(g.now()).Start().Add(-24 * time.Hour)
	return day.After(yesterday)
}

func (g *Generator) exists(ctx context.Context, key DateKey) (bool, error) {
	_, cached, err := g.cache.Get(ctx, key.CacheKey())
	if err != nil {
		return false, err
	}
	if cached {
		return true, nil
	}
	cols, err := g.docs.CollectionsByDate(ctx, key.Year, key.Month, key.Day)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// rank picks the day's stories: top candidates by peak activity, filtered to
// stories created that day, ordered by rank.Rank.
func (g *Generator) rank(ctx context.Context, op string, key DateKey) ([]rank.Candidate, error) {
	groups, err := g.series.MaxByStory(ctx, key.Start(), key.End())
	if err != nil {
		return nil, apperr.E(apperr.Store, op, err)
	}
	if len(groups) == 0 {
		return nil, apperr.Errorf(apperr.NotFound, op, "no activity samples for %s", key)
	}
	timeseries.SortGroups(groups)
	if len(groups) > g.opts.Candidates {
		groups = groups[:g.opts.Candidates]
	}

	ids := make([]string, len(groups))
	for i, gr := range groups {
		ids[i] = gr.StoryID
	}
	stats, err := g.graph.StoryStats(ctx, ids)
	if err != nil {
		return nil, apperr.E(apperr.Store, op, err)
	}

	var cands []rank.Candidate
	for _, gr := range groups {
		st, ok := stats[gr.StoryID]
		if !ok || !rank.WithinDay(st.Created, key.Year, key.Month, key.Day) {
			continue
		}
		cands = append(cands, rank.Candidate{
			ID:           st.ID,
			Score:        st.Score,
			CommentTotal: st.CommentTotal,
			Created:      st.Created,
			Peak:         gr.Max,
		})
	}
	if len(cands) == 0 {
		return nil, apperr.Errorf(apperr.NotFound, op, "no stories created on %s", key)
	}
	return rank.Rank(cands, g.opts.Size), nil
}

// build assembles every entry before anything is written, so an upstream
// failure leaves the day untouched.
func (g *Generator) build(ctx context.Context, op string, key DateKey, ranked []rank.Candidate) ([]store.Collection, error) {
	cols := make([]store.Collection, len(ranked))
	suffixes := make([]string, len(ranked))
	for i := range suffixes {
		suffixes[i] = g.newSuffix()
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for pos, cand := range ranked {
		pos, cand := pos, cand
		eg.Go(func() error {
			title := ""
			doc, err := g.docs.GetStory(ectx, cand.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return apperr.E(apperr.Store, op, err)
			case doc.Title != nil:
				title = *doc.Title
			}

			top, err := g.docs.TopComment(ectx, cand.ID)
			if err != nil {
				return apperr.E(apperr.Store, op, err)
			}

			suffix := suffixes[pos]
			base := slug.Make(title)
			if base == "" {
				base = "story"
			}
			c := store.Collection{
				ID:           key.String() + ":" + suffix,
				Year:         key.Year,
				Month:        key.Month,
				Day:          key.Day,
				Position:     pos,
				Title:        title,
				Slug:         base + "-" + suffix,
				TopComment:   top,
				CommentTotal: cand.CommentTotal,
				Origins:      []string{cand.ID},
			}

			if g.images != nil && title != "" {
				photo, err := g.images.SearchPhoto(ectx, source.RemoveSpecialCharacters(title))
				if err != nil {
					return apperr.E(apperr.Upstream, op, err)
				}
				if photo != nil {
					c.ImageUsername = photo.Username
					c.ImageUserURL = photo.UserURL
					c.ImageURL = photo.RawURL
					c.ImageSourceURL = photo.SourceURL
					c.ImageBlurHash = photo.BlurHash
				}
			}

			cols[pos] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (g *Generator) announce(ctx context.Context, log logrus.FieldLogger, key DateKey, cols []store.Collection) {
	if !g.alerts.HasNotifiers() {
		return
	}
	n := &alert.Notification{
		Title:   "New collection for " + key.String(),
		Body:    fmt.Sprintf("%d stories curated from Hacker News", len(cols)),
		URL:     g.opts.PublicURL,
		DateKey: key.String(),
	}
	for _, c := range cols {
		n.Entries = append(n.Entries, alert.Entry{
			Position:     c.Position,
			Title:        c.Title,
			Slug:         c.Slug,
			CommentTotal: c.CommentTotal,
			ImageURL:     c.ImageURL,
		})
	}
	if err := g.alerts.Broadcast(ctx, n); err != nil {
		log.WithError(err).Warn("announce collections")
	}
}
