package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/elonfeng/meatballs/pkg/apperr"
	"github.com/elonfeng/meatballs/pkg/collection"
	"github.com/elonfeng/meatballs/pkg/ingest"
	"github.com/elonfeng/meatballs/pkg/source"
)

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.String(http.StatusBadRequest, "%s", msg)
}

// fail hides the detail from the caller; it is logged instead.
func (s *Server) fail(c *gin.Context, op string, err error) {
	s.log.WithError(err).WithField("op", op).Error("request failed")
	c.Status(http.StatusInternalServerError)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// dataSource reports false after writing the response when the query names
// no source or one that is not implemented.
func dataSource(c *gin.Context) bool {
	ds := c.Query("dataSource")
	switch source.DataSource(ds) {
	case source.HackerNews:
		return true
	case "":
		badRequest(c, "Data source is required.")
	default:
		c.String(http.StatusInternalServerError, "'%s' is not implemented.", ds)
	}
	return false
}

// positiveInt parses an optional positive integer query parameter; upper <= 0
// means unbounded.
func positiveInt(c *gin.Context, name string, upper int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if upper > 0 && v > upper {
		return 0, fmt.Errorf("%s must be at most %d", name, upper)
	}
	return v, nil
}

func (s *Server) handleNewStories(c *gin.Context) {
	const op = "NewStories"
	if !dataSource(c) {
		return
	}
	limit, err := positiveInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.deps.Stories.Run(c.Request.Context(), int(limit))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	ok(c, res)
}

func (s *Server) handleStoryActivity(c *gin.Context) {
	const op = "StoryActivity"
	if !dataSource(c) {
		return
	}

	var vals [6]int64
	for i, p := range []struct {
		name  string
		upper int64
	}{
		{"start", 0}, {"end", 0}, {"score", 0}, {"commentTotal", 0}, {"commentWeight", 100}, {"falloff", 100},
	} {
		v, err := positiveInt(c, p.name, p.upper)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		vals[i] = v
	}

	res, err := s.deps.Activity.Run(c.Request.Context(), ingest.ActivityParams{
		Start:         vals[0],
		End:           vals[1],
		Score:         int(vals[2]),
		CommentTotal:  int(vals[3]),
		CommentWeight: int(vals[4]),
		Falloff:       int(vals[5]),
	})
	if apperr.Is(err, apperr.Validation) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		s.fail(c, op, err)
		return
	}
	ok(c, res)
}

func (s *Server) handleNewCollections(c *gin.Context) {
	const op = "NewCollections"
	raw := c.Query("dateKey")
	if raw == "" {
		badRequest(c, "dateKey is required.")
		return
	}
	key, err := collection.ParseDateKey(raw)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.deps.Curator.Generate(c.Request.Context(), key)
	switch {
	case err == nil:
		ok(c, res)
	case apperr.Is(err, apperr.NotFound), apperr.Is(err, apperr.Conflict):
		c.JSON(http.StatusOK, envelope{Success: false, Data: res})
	case apperr.Is(err, apperr.Validation):
		badRequest(c, err.Error())
	default:
		s.fail(c, op, err)
	}
}

func (s *Server) handleCollections(c *gin.Context) {
	const op = "GetCollections"
	key, err := collection.ParseDateKey(c.Param("year") + ":" + c.Param("month") + ":" + c.Param("day"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	cols, err := s.deps.Reader.Day(c.Request.Context(), key)
	if apperr.Is(err, apperr.NotFound) {
		c.JSON(http.StatusNotFound, envelope{Success: false, Data: []any{}})
		return
	}
	if err != nil {
		s.fail(c, op, err)
		return
	}
	ok(c, cols)
}

func (s *Server) handleSearch(c *gin.Context) {
	const op = "SearchStories"
	q := c.Query("q")
	if q == "" {
		badRequest(c, "q is required.")
		return
	}
	limit, err := positiveInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	hits, err := s.deps.Search.Search(q, int(limit))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	ok(c, hits)
}
