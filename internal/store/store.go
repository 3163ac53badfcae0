package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Kind selects the document collection an id belongs to.
type Kind string

const (
	KindStory   Kind = "Story"
	KindUser    Kind = "User"
	KindComment Kind = "Comment"
)

// Story is the denormalized read copy of a story.
type Story struct {
	ID      string  `db:"id" json:"id"`
	Title   *string `db:"title" json:"title"`
	Content *string `db:"content" json:"content"`
	URL     *string `db:"url" json:"url"`
	Created int64   `db:"created" json:"created"`
	SavedAt int64   `db:"saved_at" json:"-"`
}

// User holds profile text that the graph does not carry.
type User struct {
	ID      string  `db:"id" json:"id"`
	About   *string `db:"about" json:"about"`
	Created int64   `db:"created" json:"created"`
	SavedAt int64   `db:"saved_at" json:"-"`
}

// Comment is a flattened comment with its story and direct parent.
type Comment struct {
	ID       string  `db:"id" json:"id"`
	StoryID  string  `db:"story_id" json:"story_id"`
	ParentID string  `db:"parent_id" json:"parent_id"`
	Content  *string `db:"content" json:"content"`
	Created  int64   `db:"created" json:"created"`
	SavedAt  int64   `db:"saved_at" json:"-"`
}

// Collection is one ranked entry of a day's curated list.
type Collection struct {
	ID             string   `db:"id" json:"-"`
	Year           int      `db:"year" json:"year"`
	Month          int      `db:"month" json:"month"`
	Day            int      `db:"day" json:"day"`
	Position       int      `db:"position" json:"position"`
	Title          string   `db:"title" json:"title"`
	Slug           string   `db:"slug" json:"slug"`
	TopComment     string   `db:"top_comment" json:"top_comment"`
	CommentTotal   int      `db:"comment_total" json:"comment_total"`
	ImageUsername  string   `db:"image_username" json:"image_username"`
	ImageUserURL   string   `db:"image_user_url" json:"image_user_url"`
	ImageURL       string   `db:"image_url" json:"image_url"`
	ImageSourceURL string   `db:"image_source_url" json:"image_source_url"`
	ImageBlurHash  string   `db:"image_blur_hash" json:"image_blur_hash"`
	Origins        []string `db:"-" json:"origins"`
	OriginsJSON    string   `db:"origins" json:"-"`
	SavedAt        int64    `db:"saved_at" json:"-"`
}

// Store is the document repository interface.
type Store interface {
	ExistingIDs(ctx context.Context, kind Kind, ids []string) (map[string]bool, error)

	SaveStory(ctx context.Context, s *Story) error
	GetStory(ctx context.Context, id string) (*Story, error)

	UserExists(ctx context.Context, id string) (bool, error)
	SaveUser(ctx context.Context, u *User) error

	SaveComment(ctx context.Context, c *Comment) error
	TopComment(ctx context.Context, storyID string) (string, error)

	SaveCollection(ctx context.Context, c *Collection) error
	SaveCollections(ctx context.Context, cols []Collection) error
	CollectionsByDate(ctx context.Context, year, month, day int) ([]Collection, error)
	CollectionBySlug(ctx context.Context, slug string) (*Collection, error)

	Close() error
}

// ErrNotFound is returned by single-document lookups that match nothing.
var ErrNotFound = errors.New("document not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers from concurrent ingest workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindStory:
		return "stories", nil
	case KindUser:
		return "users", nil
	case KindComment:
		return "comments", nil
	}
	return "", fmt.Errorf("unknown document kind %q", kind)
}

// ExistingIDs returns the subset of ids already saved for kind.
func (s *SQLiteStore) ExistingIDs(ctx context.Context, kind Kind, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 {
		return found, nil
	}

	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In("SELECT id FROM "+table+" WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build existence query %s: %w", kind, err)
	}

	var existing []string
	if err := s.db.SelectContext(ctx, &existing, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("check existing %s: %w", kind, err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

func (s *SQLiteStore) SaveStory(ctx context.Context, st *Story) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, title, content, url, created, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			url = excluded.url,
			created = excluded.created
	`, st.ID, st.Title, st.Content, st.URL, st.Created, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save story %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetStory(ctx context.Context, id string) (*Story, error) {
	var st Story
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stories WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get story %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get story %s: %w", id, err)
	}
	return &st, nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("check user %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, about, created, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET about = excluded.about
	`, u.ID, u.About, u.Created, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveComment(ctx context.Context, c *Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, story_id, parent_id, content, created, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`, c.ID, c.StoryID, c.ParentID, c.Content, c.Created, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save comment %s: %w", c.ID, err)
	}
	return nil
}

// TopComment returns the earliest direct reply to a story, or "" when none is stored.
func (s *SQLiteStore) TopComment(ctx context.Context, storyID string) (string, error) {
	var content string
	err := s.db.GetContext(ctx, &content, `
		SELECT content FROM comments
		WHERE parent_id = ? AND content IS NOT NULL AND content != ''
		ORDER BY created, id
		LIMIT 1
	`, storyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("top comment %s: %w", storyID, err)
	}
	return content, nil
}

// SaveCollection inserts a collection entry. Entries are immutable, so a
// second save for the same id, slug or (day, position) fails.
func (s *SQLiteStore) SaveCollection(ctx context.Context, c *Collection) error {
	return s.insertCollection(ctx, s.db, c)
}

// SaveCollections inserts a whole day's entries in one transaction. Either
// every entry is stored or none is.
func (s *SQLiteStore) SaveCollections(ctx context.Context, cols []Collection) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin collections: %w", err)
	}
	defer tx.Rollback()

	for i := range cols {
		if err := s.insertCollection(ctx, tx, &cols[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit collections: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertCollection(ctx context.Context, db sqlx.ExecerContext, c *Collection) error {
	origins := c.Origins
	if origins == nil {
		origins = []string{}
	}
	originsJSON, err := json.Marshal(origins)
	if err != nil {
		return fmt.Errorf("encode origins %s: %w", c.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO collections (id, year, month, day, position, title, slug, top_comment, comment_total,
			image_username, image_user_url, image_url, image_source_url, image_blur_hash, origins, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Year, c.Month, c.Day, c.Position, c.Title, c.Slug, c.TopComment, c.CommentTotal,
		c.ImageUsername, c.ImageUserURL, c.ImageURL, c.ImageSourceURL, c.ImageBlurHash,
		string(originsJSON), s.now().Unix())
	if err != nil {
		return fmt.Errorf("save collection %s: %w", c.ID, err)
	}
	c.OriginsJSON = string(originsJSON)
	return nil
}

// CollectionsByDate returns a day's entries ordered by position.
func (s *SQLiteStore) CollectionsByDate(ctx context.Context, year, month, day int) ([]Collection, error) {
	var cols []Collection
	err := s.db.SelectContext(ctx, &cols,
		"SELECT * FROM collections WHERE year = ? AND month = ? AND day = ? ORDER BY position",
		year, month, day)
	if err != nil {
		return nil, fmt.Errorf("list collections %d:%d:%d: %w", year, month, day, err)
	}
	for i := range cols {
		if err := json.Unmarshal([]byte(cols[i].OriginsJSON), &cols[i].Origins); err != nil {
			return nil, fmt.Errorf("decode origins %s: %w", cols[i].ID, err)
		}
	}
	return cols, nil
}

func (s *SQLiteStore) CollectionBySlug(ctx context.Context, slug string) (*Collection, error) {
	var c Collection
	err := s.db.GetContext(ctx, &c, "SELECT * FROM collections WHERE slug = ?", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get collection %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", slug, err)
	}
	if err := json.Unmarshal([]byte(c.OriginsJSON), &c.Origins); err != nil {
		return nil, fmt.Errorf("decode origins %s: %w", c.ID, err)
	}
	return &c, nil
}
