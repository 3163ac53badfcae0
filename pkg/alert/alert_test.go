package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() *Notification {
	return &Notification{
		Title:   "New collection for 2022:8:22",
		Body:    "2 stories curated",
		URL:     "https://meatballs.live/collections",
		DateKey: "2022:8:22",
		Entries: []Entry{
			{Position: 0, Title: "First", Slug: "first-abc", CommentTotal: 10},
			{Position: 1, Title: "Second", Slug: "second-def", CommentTotal: 3},
		},
	}
}

func TestWebhook_SignsPayload(t *testing.T) {
	var (
		body   []byte
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		header = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "s3cret")
	w.newID = func() string { return "d-1" }
	require.NoError(t, w.Send(context.Background(), sampleNotification()))

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), header.Get("X-Signature-256"))
	assert.Equal(t, "collection.published", header.Get("X-Meatballs-Event"))
	assert.Equal(t, "d-1", header.Get("X-Meatballs-Delivery"))
	assert.Equal(t, "2022:8:22", header.Get("X-Meatballs-Date"))

	assert.JSONEq(t, `{
		"event": "collection.published",
		"delivery_id": "d-1",
		"date_key": "2022:8:22",
		"title": "New collection for 2022:8:22",
		"url": "https://meatballs.live/collections",
		"count": 2,
		"collections": [
			{"position": 0, "title": "First", "slug": "first-abc", "link": "https://meatballs.live/collections/first-abc", "comment_total": 10},
			{"position": 1, "title": "Second", "slug": "second-def", "link": "https://meatballs.live/collections/second-def", "comment_total": 3}
		]
	}`, string(body))
}

func TestWebhook_NoLinksWithoutBaseURL(t *testing.T) {
	n := sampleNotification()
	n.URL = ""
	p := newWebhookPayload("d-2", n)
	require.Len(t, p.Collections, 2)
	assert.Empty(t, p.Collections[0].Link)
	assert.Equal(t, 2, p.Count)

	p = newWebhookPayload("d-3", &Notification{DateKey: "2022:8:22"})
	body, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"collections":[]`)
}

func TestSlackAndDiscord_Payloads(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
	}))
	defer srv.Close()

	m := NewManager([]Notifier{NewSlack(srv.URL), NewDiscord(srv.URL)})
	assert.True(t, m.HasNotifiers())
	require.NoError(t, m.Broadcast(context.Background(), sampleNotification()))

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], "first-abc")
	assert.Contains(t, bodies[1], "embeds")
	assert.True(t, strings.Contains(bodies[1], "1. [First]"))
}

func TestManager_JoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewManager([]Notifier{NewSlack(srv.URL), NewWebhook(srv.URL, "")}).Broadcast(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack")
	assert.Contains(t, err.Error(), "webhook")

	var nilManager *Manager
	assert.False(t, nilManager.HasNotifiers())
	assert.NoError(t, nilManager.Broadcast(context.Background(), sampleNotification()))
}
