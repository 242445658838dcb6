// Package analysis computes summary statistics and charts over a scraped
// books CSV.
package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/aluiziolira/go-scrape-reads/models"
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("analysis: missing column")

// Row is one book with its numeric columns parsed.
type Row struct {
	Rank          int
	Title         string
	Author        string
	Categories    []string
	WordCount     float64
	OriginalPrice float64
	CurrentPrice  float64
}

// DiscountRatio is current/original, or 1 when the original price is unknown.
func (r Row) DiscountRatio() float64 {
	if r.OriginalPrice <= 0 {
		return 1
	}
	return r.CurrentPrice / r.OriginalPrice
}

// Saving is the difference between original and current price.
func (r Row) Saving() float64 {
	return r.OriginalPrice - r.CurrentPrice
}

type column int

const (
	colRank column = iota
	colTitle
	colAuthor
	colCategories
	colWordCount
	colOriginalPrice
	colCurrentPrice
)

// headerAliases maps accepted header names to columns. Files written by the
// legacy tool use Chinese headers.
var headerAliases = map[string]column{
	"rank":           colRank,
	"热度排名":           colRank,
	"title":          colTitle,
	"书名":             colTitle,
	"author":         colAuthor,
	"作者":             colAuthor,
	"categories":     colCategories,
	"分类":             colCategories,
	"word_count":     colWordCount,
	"字数":             colWordCount,
	"original_price": colOriginalPrice,
	"原价":             colOriginalPrice,
	"current_price":  colCurrentPrice,
	"现价":             colCurrentPrice,
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a books CSV with or without a UTF-8 BOM. Columns are matched
// by header name; only rank and title are required.
func Load(r io.Reader) ([]Row, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[column]int, len(header))
	for i, name := range header {
		if col, ok := headerAliases[strings.TrimSpace(name)]; ok {
			if _, seen := index[col]; !seen {
				index[col] = i
			}
		}
	}
	for _, required := range []struct {
		col  column
		name string
	}{{colRank, "rank"}, {colTitle, "title"}} {
		if _, ok := index[required.col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required.name)
		}
	}

	field := func(record []string, col column) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		rank, _ := strconv.Atoi(field(record, colRank))
		rows = append(rows, Row{
			Rank:          rank,
			Title:         field(record, colTitle),
			Author:        field(record, colAuthor),
			Categories:    SplitCategories(field(record, colCategories)),
			WordCount:     ParseWordCount(field(record, colWordCount)),
			OriginalPrice: ParsePrice(field(record, colOriginalPrice)),
			CurrentPrice:  ParsePrice(field(record, colCurrentPrice)),
		})
	}
	return rows, nil
}

var priceReplacer = strings.NewReplacer(models.CurrencyPrefix, "", "￥", "", " ", "")

// ParsePrice strips currency marks and spaces; anything unparseable is 0.
func ParsePrice(text string) float64 {
	return parseAmount(priceReplacer.Replace(strings.TrimSpace(text)))
}

var wordCountReplacer = strings.NewReplacer(models.WordCountMarker, "", " ", "")

// ParseWordCount converts "12.5万字" to 125000; anything unparseable is 0.
func ParseWordCount(text string) float64 {
	return parseAmount(wordCountReplacer.Replace(strings.TrimSpace(text))) * 10000
}

// parseAmount accepts finite, non-negative numbers only. ParseFloat also
// reads "NaN" and "inf", which would poison the statistics.
func parseAmount(text string) float64 {
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}

// SplitCategories splits a joined category cell on "+".
func SplitCategories(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(text, "+") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
