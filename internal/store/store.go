// Package store provides SQLite persistence for edisco: the server's
// page-image cache and the dashboard's saved view preferences.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/edisco/internal/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ThumbnailTTL is how long a cached page image stays valid.
const ThumbnailTTL = 24 * time.Hour

// ErrNotFound is returned for a missing preference.
var ErrNotFound = errors.New("not found")

// gooseMu serializes migrations; goose keeps its dialect and base FS in
// package globals.
var gooseMu sync.Mutex

// Store is a SQLite database. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at dbPath and migrates it. ":memory:"
// opens a private in-process database.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Debug("Database ready", "path", dbPath)
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(logging.StandardLog("goose"))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetThumbnails returns the cached image URLs for keys that are younger
// than ThumbnailTTL. Missing and expired keys are absent from the result.
func (s *Store) GetThumbnails(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cutoff := s.now().Add(-ThumbnailTTL).Unix()
	args := make([]any, 0, len(keys)+1)
	args = append(args, cutoff)
	for _, k := range keys {
		args = append(args, k)
	}
	query := `SELECT key, url FROM thumbnails WHERE fetched_at >= ? AND key IN (?` +
		strings.Repeat(",?", len(keys)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query thumbnails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, url string
		if err := rows.Scan(&key, &url); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		out[key] = url
	}
	return out, rows.Err()
}

// SaveThumbnails upserts image URLs. An empty URL records that the page has
// no image so it is not looked up again until it expires.
func (s *Store) SaveThumbnails(ctx context.Context, thumbs map[string]string) error {
	if len(thumbs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO thumbnails (key, url, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET url = excluded.url, fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().Unix()
	for key, url := range thumbs {
		if _, err := stmt.ExecContext(ctx, key, url, now); err != nil {
			return fmt.Errorf("save thumbnail %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// PruneThumbnails deletes expired thumbnails and returns how many went.
func (s *Store) PruneThumbnails(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM thumbnails WHERE fetched_at < ?`,
		s.now().Add(-ThumbnailTTL).Unix())
	if err != nil {
		return 0, fmt.Errorf("prune thumbnails: %w", err)
	}
	return res.RowsAffected()
}

// Preference returns a saved preference or ErrNotFound.
func (s *Store) Preference(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %q: %w", key, err)
	}
	return v, nil
}

// SetPreference saves a preference.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}
