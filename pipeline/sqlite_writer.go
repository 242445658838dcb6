package pipeline

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-reads/models"
)

const booksSchema = `
CREATE TABLE IF NOT EXISTS books (
	rank           INTEGER PRIMARY KEY,
	title          TEXT NOT NULL,
	author         TEXT NOT NULL,
	synopsis       TEXT NOT NULL,
	categories     TEXT NOT NULL,
	word_count     TEXT NOT NULL,
	original_price TEXT NOT NULL,
	current_price  TEXT NOT NULL,
	cover_image    TEXT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	page           INTEGER NOT NULL DEFAULT 0,
	scraped_at     TEXT NOT NULL
);`

const upsertBook = `
INSERT INTO books (rank, title, author, synopsis, categories, word_count, original_price, current_price, cover_image, url, page, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(rank) DO UPDATE SET
	title = excluded.title,
	author = excluded.author,
	synopsis = excluded.synopsis,
	categories = excluded.categories,
	word_count = excluded.word_count,
	original_price = excluded.original_price,
	current_price = excluded.current_price,
	cover_image = excluded.cover_image,
	url = excluded.url,
	page = excluded.page,
	scraped_at = excluded.scraped_at;`

// SQLiteWriter stores books in a SQLite table keyed by rank. Re-running a
// crawl into the same file replaces rows instead of duplicating them.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database and ensures the schema.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(booksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create books table: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write upserts books in a single transaction.
func (sw *SQLiteWriter) Write(books []*models.Book) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.Prepare(upsertBook)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, book := range books {
		_, err := stmt.Exec(
			book.Rank,
			book.Title,
			book.Author,
			book.Synopsis,
			book.CategoryLabel(),
			book.WordCount,
			book.OriginalPrice,
			book.CurrentPrice,
			book.CoverImage,
			book.URL,
			book.Page,
			book.ScrapedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert book rank %d: %w", book.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures at least one book was stored.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return fmt.Errorf("count books: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: sqlite books table", ErrNoRecords)
	}
	return nil
}
