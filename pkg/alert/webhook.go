package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventCollectionPublished is the only event the webhook delivers.
const EventCollectionPublished = "collection.published"

// webhookPayload is the published-collection event. Each entry carries its
// own link so receivers need not know the site layout.
type webhookPayload struct {
	Event       string         `json:"event"`
	DeliveryID  string         `json:"delivery_id"`
	DateKey     string         `json:"date_key"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Count       int            `json:"count"`
	Collections []webhookEntry `json:"collections"`
}

type webhookEntry struct {
	Position     int    `json:"position"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Link         string `json:"link,omitempty"`
	CommentTotal int    `json:"comment_total"`
	ImageURL     string `json:"image_url,omitempty"`
}

// Webhook posts a signed collection.published event to an HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	newID  func() string
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		newID:  uuid.NewString,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func newWebhookPayload(id string, n *Notification) webhookPayload {
	p := webhookPayload{
		Event:       EventCollectionPublished,
		DeliveryID:  id,
		DateKey:     n.DateKey,
		Title:       n.Title,
		URL:         n.URL,
		Count:       len(n.Entries),
		Collections: make([]webhookEntry, 0, len(n.Entries)),
	}
	base := strings.TrimRight(n.URL, "/")
	for _, e := range n.Entries {
		we := webhookEntry{
			Position:     e.Position,
			Title:        e.Title,
			Slug:         e.Slug,
			CommentTotal: e.CommentTotal,
			ImageURL:     e.ImageURL,
		}
		if base != "" {
			we.Link = base + "/" + e.Slug
		}
		p.Collections = append(p.Collections, we)
	}
	return p
}

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	payload := newWebhookPayload(w.newID(), n)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "meatballs/1.0")
	req.Header.Set("X-Meatballs-Event", payload.Event)
	req.Header.Set("X-Meatballs-Delivery", payload.DeliveryID)
	req.Header.Set("X-Meatballs-Date", payload.DateKey)

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook %s: %w", payload.DateKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s status %d", payload.DateKey, resp.StatusCode)
	}
	return nil
}
