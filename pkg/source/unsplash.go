package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const unsplashBaseURL = "https://api.unsplash.com"

// Unsplash searches photos for collection covers.
type Unsplash struct {
	fetch    *fetcher
	baseURL  string
	clientID string
}

// NewUnsplash creates a new image-search client. An empty baseURL uses the public API.
func NewUnsplash(clientID, baseURL string, client *http.Client) *Unsplash {
	if baseURL == "" {
		baseURL = unsplashBaseURL
	}
	return &Unsplash{
		fetch:    newFetcher(client, 15*time.Second, "meatballs/1.0", 2, 0),
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
	}
}

type unsplashPhoto struct {
	BlurHash string `json:"blur_hash"`
	URLs     struct {
		Raw string `json:"raw"`
	} `json:"urls"`
	Links struct {
		HTML string `json:"html"`
	} `json:"links"`
	User struct {
		Username string `json:"username"`
		Links    struct {
			HTML string `json:"html"`
		} `json:"links"`
	} `json:"user"`
}

func (u *Unsplash) SearchPhoto(ctx context.Context, query string) (*Photo, error) {
	q := url.Values{}
	q.Set("query", `"`+query+`"`)
	q.Set("per_page", "1")
	reqURL := u.baseURL + "/search/photos?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Client-ID "+u.clientID)

	var result struct {
		Results []unsplashPhoto `json:"results"`
	}
	found, err := u.fetch.getJSON(ctx, reqURL, header, &result)
	if err != nil {
		return nil, fmt.Errorf("search unsplash %q: %w", query, err)
	}
	if !found || len(result.Results) == 0 {
		return nil, nil
	}

	p := result.Results[0]
	return &Photo{
		RawURL:    p.URLs.Raw,
		SourceURL: p.Links.HTML,
		Username:  p.User.Username,
		UserURL:   p.User.Links.HTML,
		BlurHash:  p.BlurHash,
	}, nil
}

var specialChars = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// RemoveSpecialCharacters folds accents and drops everything but letters,
// digits and single spaces, e.g. for use as an image-search keyword.
func RemoveSpecialCharacters(s string) string {
	decomposed := norm.NFKD.String(s)
	stripped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, decomposed)
	stripped = specialChars.ReplaceAllString(stripped, " ")
	return strings.Join(strings.Fields(stripped), " ")
}
