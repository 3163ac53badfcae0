package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/meatballs/internal/search"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/collection"
	"github.com/elonfeng/meatballs/pkg/ingest"
)

type StoryIngester interface {
	Run(ctx context.Context, limit int) (ingest.StoriesResult, error)
}

type ActivityTracker interface {
	Run(ctx context.Context, p ingest.ActivityParams) (ingest.ActivityResult, error)
}

type Curator interface {
	Generate(ctx context.Context, key collection.DateKey) (collection.Result, error)
}

type DayReader interface {
	Day(ctx context.Context, key collection.DateKey) ([]store.Collection, error)
}

type Searcher interface {
	Search(q string, limit int) ([]search.Hit, error)
}

// Deps are the components behind the HTTP API. Reader and Search may be nil,
// which disables their read routes.
type Deps struct {
	Stories  StoryIngester
	Activity ActivityTracker
	Curator  Curator
	Reader   DayReader
	Search   Searcher
	APIKey   string
	Log      logrus.FieldLogger
}

// Server provides the HTTP API.
type Server struct {
	deps Deps
	port int
	log  logrus.FieldLogger
}

// New creates a new HTTP server.
func New(deps Deps, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{deps: deps, port: port, log: deps.Log}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api/v1")
	if s.deps.Reader != nil {
		api.GET("/collections/:year/:month/:day", s.handleCollections)
	}
	if s.deps.Search != nil {
		api.GET("/search", s.handleSearch)
	}

	services := api.Group("/services", apiKeyAuth(s.deps.APIKey))
	services.POST("/ingest/new-stories", s.handleNewStories)
	services.POST("/ingest/story-activity", s.handleStoryActivity)
	services.POST("/generate/new-collections", s.handleNewCollections)

	r.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })
	r.HandleMethodNotAllowed = true
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("meatballs server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}
