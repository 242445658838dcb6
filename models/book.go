// Package models defines data structures for the scraper.
package models

import (
	"strconv"
	"strings"
	"time"
)

// Sentinel values recorded when a field cannot be extracted.
const (
	UnknownAuthor   = "unknown"
	NoSynopsis      = "no synopsis"
	UnknownValue    = "unknown"
	Uncategorized   = "uncategorized"
	NotDownloaded   = "not downloaded"
	CategorySep     = " + "
	AuthorSep       = " / "
	CurrencyPrefix  = "¥"
	WordCountMarker = "万字"
)

// CSVHeader is the fixed column order used by every tabular writer.
var CSVHeader = []string{
	"rank",
	"title",
	"author",
	"synopsis",
	"categories",
	"word_count",
	"original_price",
	"current_price",
	"cover_image",
}

// Book represents one listing entry.
type Book struct {
	Rank          int       `csv:"rank" json:"rank"`
	Title         string    `csv:"title" json:"title"`
	Author        string    `csv:"author" json:"author"`
	Synopsis      string    `csv:"synopsis" json:"synopsis"`
	Categories    []string  `csv:"categories" json:"categories"`
	WordCount     string    `csv:"word_count" json:"word_count"`
	OriginalPrice string    `csv:"original_price" json:"original_price"`
	CurrentPrice  string    `csv:"current_price" json:"current_price"`
	CoverImage    string    `csv:"cover_image" json:"cover_image"`
	URL           string    `csv:"-" json:"url,omitempty"`
	Page          int       `csv:"-" json:"page"`
	ScrapedAt     time.Time `csv:"-" json:"scraped_at"`
}

// CategoryLabel joins the categories for serialization.
func (b *Book) CategoryLabel() string {
	if len(b.Categories) == 0 {
		return Uncategorized
	}
	return strings.Join(b.Categories, CategorySep)
}

// Record renders the book in CSVHeader order.
func (b *Book) Record() []string {
	return []string{
		strconv.Itoa(b.Rank),
		b.Title,
		b.Author,
		b.Synopsis,
		b.CategoryLabel(),
		b.WordCount,
		b.OriginalPrice,
		b.CurrentPrice,
		b.CoverImage,
	}
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	StartTime     time.Time
	EndTime       time.Time
	TotalCount    int
	ErrorCount    int
	FailedURLs    []string
	ErrorsByType  map[string]int
	PagesByStatus map[string]int
	RequestCount  int
	PageCount     int
}
