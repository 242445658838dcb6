package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/aluiziolira/go-scrape-reads/models"
)

// ErrNoRecords is returned by Validate when nothing was written.
var ErrNoRecords = errors.New("pipeline: no records written")

// fileOutput owns an output file and counts the records written to it.
// flush pushes buffered bytes down to the file.
type fileOutput struct {
	mu      sync.Mutex
	name    string
	file    *os.File
	flush   func() error
	records int
}

func createFile(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filename, err)
	}
	return f, nil
}

// Validate checks that at least one record reached the file.
func (o *fileOutput) Validate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.records == 0 {
		return fmt.Errorf("%s: %w", o.name, ErrNoRecords)
	}
	if _, err := o.file.Stat(); err != nil {
		return fmt.Errorf("stat %s: %w", o.name, err)
	}
	return nil
}

func (o *fileOutput) close(closers ...io.Closer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.flush(); err != nil {
		return fmt.Errorf("flush %s: %w", o.name, err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close %s: %w", o.name, err)
		}
	}
	return o.file.Close()
}

// CSVWriter writes one row per book under models.CSVHeader. The file starts
// with a UTF-8 byte order mark so spreadsheet tools decode the yuan sign and
// CJK text.
type CSVWriter struct {
	fileOutput
	bom  *transform.Writer
	rows *csv.Writer
}

// NewCSVWriter creates filename, including missing parent directories, and
// writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	bom := transform.NewWriter(f, unicode.UTF8BOM.NewEncoder())
	rows := csv.NewWriter(bom)
	cw := &CSVWriter{fileOutput: fileOutput{name: filename, file: f}, bom: bom, rows: rows}
	cw.flush = cw.flushRows

	if err := rows.Write(models.CSVHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.flushRows(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

func (cw *CSVWriter) flushRows() error {
	cw.rows.Flush()
	return cw.rows.Error()
}

// Write appends a row per book and flushes.
func (cw *CSVWriter) Write(books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		if err := cw.rows.Write(book.Record()); err != nil {
			return fmt.Errorf("write csv row %d: %w", book.Rank, err)
		}
		cw.records++
	}
	if err := cw.flushRows(); err != nil {
		return fmt.Errorf("flush csv rows: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the file.
func (cw *CSVWriter) Close() error {
	return cw.close(cw.bom)
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	fileOutput
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONWriter creates filename, including missing parent directories.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	return &JSONWriter{
		fileOutput: fileOutput{name: filename, file: f, flush: buf.Flush},
		buf:        buf,
		enc:        enc,
	}, nil
}

// Write appends a line per book and flushes.
func (jw *JSONWriter) Write(books []*models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.enc.Encode(book); err != nil {
			return fmt.Errorf("encode book %d: %w", book.Rank, err)
		}
		jw.records++
	}
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json lines: %w", err)
	}
	return nil
}

// Close flushes pending lines and closes the file.
func (jw *JSONWriter) Close() error {
	return jw.close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
