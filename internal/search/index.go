package search

import (
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// StoryDoc is the indexed form of a story.
type StoryDoc struct {
	ID      string
	Title   string
	URL     string
	Created int64
}

type Hit struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	URL       string              `json:"url"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"`
}

// Index is a full-text index over story titles.
type Index struct {
	index bleve.Index
}

// Open opens the index at path, creating it when missing.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Index{index: idx}, nil
}

// OpenMem returns an in-memory index.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	title := bleve.NewTextFieldMapping()
	title.Analyzer = "en"

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"

	created := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("Title", title)
	doc.AddFieldMappingsAt("URL", keyword)
	doc.AddFieldMappingsAt("Created", created)
	doc.AddFieldMappingsAt("ID", keyword)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func (i *Index) Close() error {
	return i.index.Close()
}

// IndexStory adds or replaces a story. Stories without a title are skipped.
func (i *Index) IndexStory(doc StoryDoc) error {
	if doc.Title == "" {
		return nil
	}
	if err := i.index.Index(doc.ID, doc); err != nil {
		return fmt.Errorf("index story %s: %w", doc.ID, err)
	}
	return nil
}

// Search runs a query string query against the titles.
func (i *Index) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Highlight = bleve.NewHighlight()
	req.Fields = []string{"Title", "URL"}

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score, Fragments: h.Fragments}
		if s, ok := h.Fields["Title"].(string); ok {
			hit.Title = s
		}
		if s, ok := h.Fields["URL"].(string); ok {
			hit.URL = s
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
