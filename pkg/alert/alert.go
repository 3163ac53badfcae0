package alert

import (
	"context"
	"errors"
	"fmt"
)

// Entry is one ranked story of a published day.
type Entry struct {
	Position     int    `json:"position"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	CommentTotal int    `json:"comment_total"`
	ImageURL     string `json:"image_url,omitempty"`
}

// Notification announces a newly generated collection day.
type Notification struct {
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	URL     string  `json:"url"`
	DateKey string  `json:"date_key"`
	Entries []Entry `json:"entries"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func topEntries(n *Notification, limit int) []Entry {
	if len(n.Entries) < limit {
		limit = len(n.Entries)
	}
	return n.Entries[:limit]
}
