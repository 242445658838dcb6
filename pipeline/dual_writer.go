package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-reads/models"
)

// Output formats accepted by NewWriter.
const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatDual   = "dual"
	FormatSQLite = "sqlite"
)

// MultiWriter sends every batch to each of its writers in order.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter fans batches out to writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write stops at the first writer that fails.
func (mw *MultiWriter) Write(books []*models.Book) error {
	for _, w := range mw.writers {
		if err := w.Write(books); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Validate validates every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

// NewWriter builds the writer for format. FormatDual writes the CSV file
// plus a JSONL file with the same base name.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(filename)
	case FormatJSON:
		return NewJSONWriter(filename)
	case FormatSQLite:
		return NewSQLiteWriter(filename)
	case FormatDual:
		csvOut, err := NewCSVWriter(filename)
		if err != nil {
			return nil, err
		}
		jsonOut, err := NewJSONWriter(strings.TrimSuffix(filename, ".csv") + ".jsonl")
		if err != nil {
			csvOut.Close()
			return nil, err
		}
		return NewMultiWriter(csvOut, jsonOut), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}
