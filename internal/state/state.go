// Package state keeps a local record of uploaded books so they can be
// reopened later. Reading progress is not stored.
package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/metcalfc/tsundoku/internal/config"
)

const dbFileName = "library.db"

// Book is an uploaded document as returned by the service.
type Book struct {
	ID         int64
	Filename   string
	Chapters   []string
	Hash       string
	UploadedAt time.Time
}

// Library stores uploaded books in SQLite.
type Library struct {
	db   *sql.DB
	path string
}

// OpenLibrary opens or creates dir/library.db. An empty dir means the
// tsundoku state directory.
func OpenLibrary(dir string) (*Library, error) {
	if dir == "" {
		dir = config.StateDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening library: %w", err)
	}

	l := &Library{db: db, path: path}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Path returns the database file location.
func (l *Library) Path() string { return l.path }

// Close releases the database connection.
func (l *Library) Close() error {
	return l.db.Close()
}

func (l *Library) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			chapters TEXT NOT NULL,
			hash TEXT,
			uploaded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_books_hash ON books(hash)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores b, replacing any earlier record with the same book id.
func (l *Library) Record(ctx context.Context, b Book) error {
	if b.UploadedAt.IsZero() {
		b.UploadedAt = time.Now()
	}
	chapters, err := json.Marshal(nonNil(b.Chapters))
	if err != nil {
		return fmt.Errorf("encoding chapters: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO books (id, filename, chapters, hash, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Filename, string(chapters), b.Hash, b.UploadedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording book %d: %w", b.ID, err)
	}
	return nil
}

// List returns every recorded book, newest first.
func (l *Library) List(ctx context.Context) ([]Book, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, filename, chapters, hash, uploaded_at FROM books ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// LookupHash finds the most recent upload with the given content hash.
func (l *Library) LookupHash(ctx context.Context, hash string) (Book, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, filename, chapters, hash, uploaded_at FROM books WHERE hash = ? ORDER BY uploaded_at DESC LIMIT 1`, hash)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, false, nil
	}
	if err != nil {
		return Book{}, false, err
	}
	return b, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(s scanner) (Book, error) {
	var (
		b        Book
		chapters string
		hash     sql.NullString
		uploaded int64
	)
	if err := s.Scan(&b.ID, &b.Filename, &chapters, &hash, &uploaded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Book{}, err
		}
		return Book{}, fmt.Errorf("scanning book: %w", err)
	}
	if err := json.Unmarshal([]byte(chapters), &b.Chapters); err != nil {
		return Book{}, fmt.Errorf("decoding chapters of book %d: %w", b.ID, err)
	}
	b.Hash = hash.String
	b.UploadedAt = time.Unix(0, uploaded).UTC()
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ComputeHash generates a content hash of the whole file for identity.
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)[:16]), nil // First 16 bytes = 32 hex chars
}
