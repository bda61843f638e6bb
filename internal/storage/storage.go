// Package storage keeps reader data in a single SQLite file using the pure Go
// modernc.org/sqlite driver: the local state snapshot, the dev backend's
// reading positions and language preferences, and its translation cache.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS app_state (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reading_positions (
		book_id        TEXT PRIMARY KEY,
		chapter_id     TEXT NOT NULL,
		block_id       TEXT NOT NULL,
		block_position INTEGER NOT NULL,
		lang           TEXT NOT NULL DEFAULT '',
		updated_at     INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS book_languages (
		book_id  TEXT PRIMARY KEY,
		lang     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS translations (
		chapter_id  TEXT NOT NULL,
		block_id    TEXT NOT NULL,
		lang        TEXT NOT NULL,
		source_hash TEXT NOT NULL,
		text        TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		PRIMARY KEY (chapter_id, block_id, lang)
	)`,
}

// DB wraps the SQL handle with the queries the reader needs.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	dsn := path
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB}
	if err := db.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates missing tables. It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.sql.Close()
}

// GetState returns the raw value stored under key.
func (db *DB) GetState(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := db.sql.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, true, nil
}

func (db *DB) PutState(ctx context.Context, key string, value []byte) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// Position is a stored reading position.
type Position struct {
	BookID        string
	ChapterID     string
	BlockID       string
	BlockPosition int
	Lang          string
	UpdatedAt     time.Time
}

func (db *DB) GetPosition(ctx context.Context, bookID string) (Position, bool, error) {
	p := Position{BookID: bookID}
	var updated int64
	err := db.sql.QueryRowContext(ctx,
		`SELECT chapter_id, block_id, block_position, lang, updated_at
		 FROM reading_positions WHERE book_id = ?`, bookID).
		Scan(&p.ChapterID, &p.BlockID, &p.BlockPosition, &p.Lang, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("failed to read position for %s: %w", bookID, err)
	}
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, true, nil
}

// PutPosition overwrites the position of p.BookID unconditionally.
func (db *DB) PutPosition(ctx context.Context, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO reading_positions (book_id, chapter_id, block_id, block_position, lang, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET
			chapter_id = excluded.chapter_id,
			block_id = excluded.block_id,
			block_position = excluded.block_position,
			lang = excluded.lang,
			updated_at = excluded.updated_at`,
		p.BookID, p.ChapterID, p.BlockID, p.BlockPosition, p.Lang, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write position for %s: %w", p.BookID, err)
	}
	return nil
}

func (db *DB) GetBookLanguage(ctx context.Context, bookID string) (string, bool, error) {
	var lang string
	err := db.sql.QueryRowContext(ctx, `SELECT lang FROM book_languages WHERE book_id = ?`, bookID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read language for %s: %w", bookID, err)
	}
	return lang, true, nil
}

func (db *DB) PutBookLanguage(ctx context.Context, bookID, lang string) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO book_languages (book_id, lang) VALUES (?, ?)
		 ON CONFLICT(book_id) DO UPDATE SET lang = excluded.lang`, bookID, lang)
	if err != nil {
		return fmt.Errorf("failed to write language for %s: %w", bookID, err)
	}
	return nil
}

// GetTranslation returns a cached translation. An entry made for different
// source text counts as a miss.
func (db *DB) GetTranslation(ctx context.Context, chapterID, blockID, lang, sourceHash string) (string, bool, error) {
	var text, hash string
	err := db.sql.QueryRowContext(ctx,
		`SELECT text, source_hash FROM translations
		 WHERE chapter_id = ? AND block_id = ? AND lang = ?`, chapterID, blockID, lang).
		Scan(&text, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read translation %s/%s: %w", chapterID, blockID, err)
	}
	if hash != sourceHash {
		return "", false, nil
	}
	return text, true, nil
}

func (db *DB) PutTranslation(ctx context.Context, chapterID, blockID, lang, sourceHash, text string) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO translations (chapter_id, block_id, lang, source_hash, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chapter_id, block_id, lang) DO UPDATE SET
			source_hash = excluded.source_hash,
			text = excluded.text,
			created_at = excluded.created_at`,
		chapterID, blockID, lang, sourceHash, text, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write translation %s/%s: %w", chapterID, blockID, err)
	}
	return nil
}

// CountTranslations reports how many cached translations exist for a
// chapter and language.
func (db *DB) CountTranslations(ctx context.Context, chapterID, lang string) (int, error) {
	var n int
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM translations WHERE chapter_id = ? AND lang = ?`, chapterID, lang).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count translations: %w", err)
	}
	return n, nil
}
