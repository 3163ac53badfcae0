package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/meatballs/internal/cache"
	"github.com/elonfeng/meatballs/internal/config"
	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/logging"
	"github.com/elonfeng/meatballs/internal/scheduler"
	"github.com/elonfeng/meatballs/internal/search"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/internal/timeseries"
	"github.com/elonfeng/meatballs/pkg/alert"
	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/collection"
	"github.com/elonfeng/meatballs/pkg/ingest"
	"github.com/elonfeng/meatballs/pkg/server"
	"github.com/elonfeng/meatballs/pkg/source"
)

type activityFlags struct {
	start         int64
	end           int64
	score         int
	commentTotal  int
	commentWeight int
	falloff       int
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

// app holds every store handle and the components wired over them.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	docs  *store.SQLiteStore
	index *search.Index
	neo   *graph.Neo4jRunner
	rdb   *redis.Client

	stories   *ingest.Stories
	activity  *ingest.Activity
	generator *collection.Generator
	reader    *collection.Reader
}

func openApp(ctx context.Context) (_ *app, err error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.docs, err = store.New(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.index, err = search.Open(cfg.Search.Path); err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	if a.neo, err = graph.Open(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database); err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	if a.rdb, err = cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		return nil, err
	}

	g := graph.NewClient(a.neo)
	if err := g.EnsureConstraints(ctx); err != nil {
		return nil, fmt.Errorf("ensure graph constraints: %w", err)
	}
	series := timeseries.NewRedisStore(a.rdb)
	kv := cache.NewRedis(a.rdb)

	hn := source.NewHackerNews(source.HackerNewsOptions{
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.Source.ParseTimeout(),
		Retries:   cfg.Source.Retries,
	})
	var images source.ImageSearcher
	if cfg.Images.ClientID != "" {
		images = source.NewUnsplash(cfg.Images.ClientID, cfg.Images.BaseURL, nil)
	} else {
		log.Warn("images.client_id is empty; collections are generated without cover images")
	}

	start, err := cfg.Collections.ParseStartDate()
	if err != nil {
		return nil, err
	}

	n := cfg.Ingest.Concurrency
	users := ingest.NewUsers(hn, a.docs, g, log)
	comments := ingest.NewComments(hn, a.docs, g, users, log, n)
	a.stories = ingest.NewStories(hn, a.docs, g, users, a.index, log, n)
	a.activity = ingest.NewActivity(hn, g, series, users, comments, log, n, ingest.ActivityDefaults{
		Window:        cfg.Ingest.ActivityWindow(),
		CommentWeight: cfg.Ingest.CommentWeight,
		Falloff:       cfg.Ingest.Falloff,
	})
	a.generator = collection.NewGenerator(series, g, a.docs, kv, images, buildAlertManager(cfg), log, collection.Options{
		StartDate:  start,
		Candidates: cfg.Collections.Candidates,
		Size:       cfg.Collections.Size,
	})
	a.reader = collection.NewReader(a.docs, kv, log)
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.neo != nil {
		a.neo.Close(context.Background())
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.docs != nil {
		a.docs.Close()
	}
}

func (a *app) server(port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(server.Deps{
		Stories:  a.stories,
		Activity: a.activity,
		Curator:  a.generator,
		Reader:   a.reader,
		Search:   a.index,
		APIKey:   a.cfg.Server.APIKey,
		Log:      a.log,
	}, port)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIngestStories(ctx context.Context, limit int) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if limit < 0 {
		limit = a.cfg.Ingest.NewStoriesLimit
	}
	res, err := a.stories.Run(ctx, limit)
	if err != nil {
		return fmt.Errorf("ingest stories: %w", err)
	}
	return printJSON(res)
}

func runIngestActivity(ctx context.Context, f activityFlags) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.activity.Run(ctx, ingest.ActivityParams{
		Start:         f.start,
		End:           f.end,
		Score:         f.score,
		CommentTotal:  f.commentTotal,
		CommentWeight: f.commentWeight,
		Falloff:       f.falloff,
	})
	if err != nil {
		return fmt.Errorf("track activity: %w", err)
	}
	return printJSON(res)
}

func runGenerate(ctx context.Context, dateKey string) error {
	key := collection.KeyOf(time.Now().Add(-24 * time.Hour))
	if dateKey != "" {
		var err error
		if key, err = collection.ParseDateKey(dateKey); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.generator.Generate(ctx, key)
	if err != nil && !apperr.Is(err, apperr.NotFound) && !apperr.Is(err, apperr.Conflict) {
		return fmt.Errorf("generate collections %s: %w", key, err)
	}
	if err := printJSON(res); err != nil {
		return err
	}
	for _, c := range res.Collections {
		fmt.Fprintf(os.Stderr, "%d. %s (%s)\n", c.Position+1, c.Title, c.Slug)
	}
	return nil
}

func runSearch(args []string, jsonOutput bool, limit int) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	index, err := search.Open(cfg.Search.Path)
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer index.Close()

	hits, err := index.Search(strings.Join(args, " "), limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(hits)
	}

	if len(hits) == 0 {
		fmt.Println("no stories found (try ingesting first: meatballs ingest stories)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tTITLE\tURL")
	for _, h := range hits {
		fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", h.Score, h.ID, h.Title, h.URL)
	}
	return w.Flush()
}

func runServe(port int) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.server(port).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.stories, a.activity, a.generator, a.cfg.Ingest.NewStoriesLimit, scheduler.Intervals{
		Stories:    a.cfg.Schedule.ParseStoriesInterval(),
		Activity:   a.cfg.Schedule.ParseActivityInterval(),
		Collection: a.cfg.Schedule.ParseCollectionInterval(),
	}, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.server(port).ListenAndServe(gctx)
	})

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}
