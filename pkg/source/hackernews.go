package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	hnBaseURL      = "https://hacker-news.firebaseio.com/v0"
	algoliaBaseURL = "https://hn.algolia.com/api/v1"
)

// HackerNewsOptions configures the Hacker News client. Zero values take defaults.
type HackerNewsOptions struct {
	BaseURL       string
	AlgoliaURL    string
	UserAgent     string
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

// HackerNewsClient reads stories, users and comment trees from Hacker News.
type HackerNewsClient struct {
	fetch      *fetcher
	baseURL    string
	algoliaURL string
}

// NewHackerNews creates a new HN client.
func NewHackerNews(opts HackerNewsOptions) *HackerNewsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = hnBaseURL
	}
	if opts.AlgoliaURL == "" {
		opts.AlgoliaURL = algoliaBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "meatballs/1.0"
	}
	return &HackerNewsClient{
		fetch:      newFetcher(opts.HTTPClient, opts.Timeout, opts.UserAgent, opts.Retries, opts.RetryInterval),
		baseURL:    opts.BaseURL,
		algoliaURL: opts.AlgoliaURL,
	}
}

func (h *HackerNewsClient) Name() DataSource { return HackerNews }

// NewestStoryIDs returns the newest story ids, newest first.
func (h *HackerNewsClient) NewestStoryIDs(ctx context.Context) ([]string, error) {
	var ids []int64
	found, err := h.fetch.getJSON(ctx, h.baseURL+"/newstories.json", nil, &ids)
	if err != nil {
		return nil, fmt.Errorf("fetch hn new stories: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("fetch hn new stories: empty listing")
	}

	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out, nil
}

func (h *HackerNewsClient) Story(ctx context.Context, id string) (*Story, error) {
	var story Story
	found, err := h.fetch.getJSON(ctx, fmt.Sprintf("%s/item/%s.json", h.baseURL, id), nil, &story)
	if err != nil {
		return nil, fmt.Errorf("fetch hn item %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &story, nil
}

func (h *HackerNewsClient) User(ctx context.Context, id string) (*User, error) {
	var user User
	found, err := h.fetch.getJSON(ctx, fmt.Sprintf("%s/user/%s.json", h.baseURL, id), nil, &user)
	if err != nil {
		return nil, fmt.Errorf("fetch hn user %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// Comments returns the top-level replies of a story with their nested children.
// A story that has not propagated yet yields a 404 StatusError.
func (h *HackerNewsClient) Comments(ctx context.Context, storyID string) ([]Comment, error) {
	var tree struct {
		Children []Comment `json:"children"`
	}
	found, err := h.fetch.getJSON(ctx, fmt.Sprintf("%s/items/%s", h.algoliaURL, storyID), nil, &tree)
	if err != nil {
		return nil, fmt.Errorf("fetch hn comments %s: %w", storyID, err)
	}
	if !found {
		return nil, fmt.Errorf("fetch hn comments %s: story missing", storyID)
	}
	return tree.Children, nil
}

// StoryURL is the discussion page of a native story id.
func StoryURL(id string) string {
	return "https://" + HNSourceDomain + "/item?id=" + id
}
