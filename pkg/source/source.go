package source

import (
	"context"
	"strings"
)

// DataSource tags which platform an id belongs to.
type DataSource string

const (
	HackerNews DataSource = "hn"
)

// HNSourceDomain is the Source node name used for Hacker News attribution.
const HNSourceDomain = "news.ycombinator.com"

// ID namespaces a native id, e.g. "hn:8863".
func (d DataSource) ID(native string) string {
	return string(d) + ":" + native
}

// NativeID strips the namespace from a source-qualified id.
func (d DataSource) NativeID(id string) string {
	return strings.TrimPrefix(id, string(d)+":")
}

// Story is an item as returned by the source's item endpoint.
type Story struct {
	ID          int64  `json:"id"`
	By          string `json:"by"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
	Descendants int    `json:"descendants"`
	Score       int    `json:"score"`
	Text        string `json:"text"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Type        string `json:"type"`
}

// User is a source account.
type User struct {
	ID      string `json:"id"`
	About   string `json:"about"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
}

// Comment is one node of a story's nested comment tree.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	CreatedAt int64     `json:"created_at_i"`
	Deleted   bool      `json:"deleted"`
	ParentID  int64     `json:"parent_id"`
	StoryID   int64     `json:"story_id"`
	Text      string    `json:"text"`
	Children  []Comment `json:"children"`
}

// Photo is the first-ranked image-search hit with its attribution.
type Photo struct {
	RawURL    string
	SourceURL string
	Username  string
	UserURL   string
	BlurHash  string
}

// Client is the interface every news source must implement.
// Story and User return (nil, nil) when the source reports the item as absent.
type Client interface {
	Name() DataSource
	NewestStoryIDs(ctx context.Context) ([]string, error)
	Story(ctx context.Context, id string) (*Story, error)
	User(ctx context.Context, id string) (*User, error)
	Comments(ctx context.Context, storyID string) ([]Comment, error)
}

// ImageSearcher finds a cover photo for a keyword query. It returns (nil, nil)
// when nothing matches.
type ImageSearcher interface {
	SearchPhoto(ctx context.Context, query string) (*Photo, error)
}
