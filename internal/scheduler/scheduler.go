package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/collection"
	"github.com/elonfeng/meatballs/pkg/ingest"
)

// StoryIngester saves the newest stories.
type StoryIngester interface {
	Run(ctx context.Context, limit int) (ingest.StoriesResult, error)
}

// ActivityTracker re-polls stories inside the activity window.
type ActivityTracker interface {
	Run(ctx context.Context, p ingest.ActivityParams) (ingest.ActivityResult, error)
}

// Curator generates a day's collections.
type Curator interface {
	Generate(ctx context.Context, key collection.DateKey) (collection.Result, error)
}

// Intervals between runs. Zero values take defaults.
type Intervals struct {
	Stories    time.Duration
	Activity   time.Duration
	Collection time.Duration
}

// Scheduler runs periodic ingest, activity tracking and collection generation.
type Scheduler struct {
	stories  StoryIngester
	activity ActivityTracker
	curator  Curator
	limit    int
	every    Intervals
	log      logrus.FieldLogger

	now func() time.Time
}

// New creates a new scheduler. limit caps stories saved per ingest run.
func New(stories StoryIngester, activity ActivityTracker, curator Curator, limit int, every Intervals, log logrus.FieldLogger) *Scheduler {
	if every.Stories == 0 {
		every.Stories = 5 * time.Minute
	}
	if every.Activity == 0 {
		every.Activity = 10 * time.Minute
	}
	if every.Collection == 0 {
		every.Collection = time.Hour
	}
	return &Scheduler{
		stories:  stories,
		activity: activity,
		curator:  curator,
		limit:    limit,
		every:    every,
		log:      log,
		now:      time.Now,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	storiesTicker := time.NewTicker(s.every.Stories)
	activityTicker := time.NewTicker(s.every.Activity)
	collectionTicker := time.NewTicker(s.every.Collection)
	defer storiesTicker.Stop()
	defer activityTicker.Stop()
	defer collectionTicker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial run")
	s.ingestStories(ctx)
	s.trackActivity(ctx)
	s.generateYesterday(ctx)

	s.log.WithFields(logrus.Fields{
		"stories_every":    s.every.Stories.String(),
		"activity_every":   s.every.Activity.String(),
		"collection_every": s.every.Collection.String(),
	}).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-storiesTicker.C:
			s.ingestStories(ctx)
		case <-activityTicker.C:
			s.trackActivity(ctx)
		case <-collectionTicker.C:
			s.generateYesterday(ctx)
		}
	}
}

func (s *Scheduler) ingestStories(ctx context.Context) {
	res, err := s.stories.Run(ctx, s.limit)
	if err != nil {
		s.log.WithError(err).Error("scheduler: ingest stories")
		return
	}
	s.log.WithFields(logrus.Fields{
		"new_stories": res.NewStoriesSaved,
		"new_users":   res.NewUsersSaved,
	}).Info("scheduler: ingested stories")
}

func (s *Scheduler) trackActivity(ctx context.Context) {
	if _, err := s.activity.Run(ctx, ingest.ActivityParams{}); err != nil {
		s.log.WithError(err).Error("scheduler: track activity")
	}
}

// generateYesterday is attempted every tick; a day that already exists is
// reported as a conflict and skipped quietly.
func (s *Scheduler) generateYesterday(ctx context.Context) {
	key := collection.KeyOf(s.now().UTC().Add(-24 * time.Hour))
	log := s.log.WithField("date_key", key.String())

	_, err := s.curator.Generate(ctx, key)
	switch {
	case err == nil:
		log.Info("scheduler: generated collections")
	case apperr.Is(err, apperr.Conflict):
		log.Debug("scheduler: collections already generated")
	case apperr.Is(err, apperr.NotFound):
		log.Debug("scheduler: nothing to generate")
	default:
		log.WithError(err).Error("scheduler: generate collections")
	}
}
