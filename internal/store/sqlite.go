// Package store provides the gateway's persistent collaborators: a sqlite
// key-value option store for settings and a sqlite content store backing the
// built-in tools, plus in-memory variants for tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/code-atlantic/abridge/pkg/builtin"
)

// SQLite implements settings.OptionStore and builtin.ContentStore over a
// single sqlite database file.
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS options (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS posts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	title        TEXT NOT NULL,
	excerpt      TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'publish',
	published_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS categories (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  TEXT NOT NULL,
	slug  TEXT NOT NULL UNIQUE,
	count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS comments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id    INTEGER NOT NULL REFERENCES posts(id),
	author     TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get implements settings.OptionStore.
func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM options WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read option %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements settings.OptionStore.
func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO options (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write option %q: %w", key, err)
	}
	return nil
}

// SearchPosts implements builtin.ContentStore.
func (s *SQLite) SearchPosts(ctx context.Context, query string, count int) ([]builtin.Post, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, excerpt, url, published_at
		 FROM posts
		 WHERE status = 'publish' AND (title LIKE ? OR content LIKE ?)
		 ORDER BY published_at DESC
		 LIMIT ?`,
		pattern, pattern, count,
	)
	if err != nil {
		return nil, fmt.Errorf("post search query failed: %w", err)
	}
	defer rows.Close()

	posts := make([]builtin.Post, 0, count)
	for rows.Next() {
		var p builtin.Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Excerpt, &p.URL, &p.Date); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost implements builtin.ContentStore.
func (s *SQLite) GetPost(ctx context.Context, id int64) (*builtin.Post, error) {
	var p builtin.Post
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, excerpt, content, url, published_at
		 FROM posts WHERE id = ? AND status = 'publish'`,
		id,
	).Scan(&p.ID, &p.Title, &p.Excerpt, &p.Content, &p.URL, &p.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("post query failed: %w", err)
	}
	return &p, nil
}

// Categories implements builtin.ContentStore.
func (s *SQLite) Categories(ctx context.Context) ([]builtin.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, count FROM categories ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("category query failed: %w", err)
	}
	defer rows.Close()

	var categories []builtin.Category
	for rows.Next() {
		var c builtin.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Count); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SubmitComment implements builtin.ContentStore. Comments land in pending
// status; moderation is the host's concern.
func (s *SQLite) SubmitComment(ctx context.Context, postID int64, author, email, content string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (post_id, author, email, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		postID, author, email, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("comment insert failed: %w", err)
	}
	return res.LastInsertId()
}

// SeedPost inserts a published post, used by the CLI seed command and tests.
func (s *SQLite) SeedPost(title, excerpt, content, url string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO posts (title, excerpt, content, url, published_at)
		 VALUES (?, ?, ?, ?, ?)`,
		title, excerpt, content, url, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("post insert failed: %w", err)
	}
	return res.LastInsertId()
}

// SeedCategory inserts a category, used by the CLI seed command and tests.
func (s *SQLite) SeedCategory(name, slug string, count int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO categories (name, slug, count) VALUES (?, ?, ?)`,
		name, slug, count,
	)
	if err != nil {
		return 0, fmt.Errorf("category insert failed: %w", err)
	}
	return res.LastInsertId()
}
