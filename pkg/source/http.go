package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is returned for a non-200 upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// fetcher performs GET requests with retry on transient failures
// (network errors, 429 and 5xx).
type fetcher struct {
	client        *http.Client
	userAgent     string
	retries       uint64
	retryInterval time.Duration
}

func newFetcher(client *http.Client, timeout time.Duration, userAgent string, retries int, retryInterval time.Duration) *fetcher {
	if client == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if retries < 0 {
		retries = 0
	}
	if retryInterval <= 0 {
		retryInterval = 250 * time.Millisecond
	}
	return &fetcher{
		client:        client,
		userAgent:     userAgent,
		retries:       uint64(retries),
		retryInterval: retryInterval,
	}
}

// getJSON decodes the response body into out. It returns false when the body
// is a JSON null, which the firebase API uses for missing items.
func (f *fetcher) getJSON(ctx context.Context, url string, header http.Header, out any) (bool, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request %s: %w", url, err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &StatusError{URL: url, StatusCode: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&StatusError{URL: url, StatusCode: resp.StatusCode})
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", url, err)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, f.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return false, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", url, err)
	}
	return true, nil
}
