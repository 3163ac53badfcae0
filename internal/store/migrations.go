package store

const schema = `
CREATE TABLE IF NOT EXISTS stories (
    id       TEXT PRIMARY KEY,
    title    TEXT,
    content  TEXT,
    url      TEXT,
    created  INTEGER NOT NULL DEFAULT 0,
    saved_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stories_created ON stories(created);

CREATE TABLE IF NOT EXISTS users (
    id       TEXT PRIMARY KEY,
    about    TEXT,
    created  INTEGER NOT NULL DEFAULT 0,
    saved_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
    id        TEXT PRIMARY KEY,
    story_id  TEXT NOT NULL,
    parent_id TEXT NOT NULL,
    content   TEXT,
    created   INTEGER NOT NULL DEFAULT 0,
    saved_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_story ON comments(story_id);
CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_id, created);

CREATE TABLE IF NOT EXISTS collections (
    id               TEXT PRIMARY KEY,
    year             INTEGER NOT NULL,
    month            INTEGER NOT NULL,
    day              INTEGER NOT NULL,
    position         INTEGER NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    slug             TEXT NOT NULL,
    top_comment      TEXT NOT NULL DEFAULT '',
    comment_total    INTEGER NOT NULL DEFAULT 0,
    image_username   TEXT NOT NULL DEFAULT '',
    image_user_url   TEXT NOT NULL DEFAULT '',
    image_url        TEXT NOT NULL DEFAULT '',
    image_source_url TEXT NOT NULL DEFAULT '',
    image_blur_hash  TEXT NOT NULL DEFAULT '',
    origins          TEXT NOT NULL DEFAULT '[]',
    saved_at         INTEGER NOT NULL,
    UNIQUE(slug),
    UNIQUE(year, month, day, position)
);

CREATE INDEX IF NOT EXISTS idx_collections_date ON collections(year, month, day, position);
`
