// Package pipeline moves extracted books from the scraper to output writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-reads/config"
	"github.com/aluiziolira/go-scrape-reads/models"
	"github.com/aluiziolira/go-scrape-reads/parser"
)

var (
	// ErrPipelineClosed is returned when books are submitted after Close or
	// after a write failure.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the writers are still busy
	// once drainTimeout has passed.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for pending books.
var drainTimeout = 30 * time.Second

// Reasons a book is kept out of the output.
const (
	RejectInvalid   = "invalid_record"
	RejectDuplicate = "duplicate_book"
)

// OutputWriter receives batches of accepted books.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Written  int64          // books accepted for writing
	Rejected map[string]int // keyed by RejectInvalid and RejectDuplicate
}

// RejectedTotal sums every rejection reason.
func (s Stats) RejectedTotal() int {
	total := 0
	for _, n := range s.Rejected {
		total += n
	}
	return total
}

// Pipeline validates books, drops repeats, and batches the rest into an
// OutputWriter. With a single worker, books reach the writer in submission
// order, which keeps ranks ascending in the output file.
type Pipeline struct {
	writer    OutputWriter
	queue     chan *models.Book
	batchSize int
	seen      *lru.Cache[string, struct{}]
	logger    *slog.Logger

	parent context.Context
	ctx    context.Context // canceled on write failure or after Close
	stop   context.CancelFunc

	// sendMu is held for reading while a book is queued and for writing
	// when the queue is closed, so no send races the close.
	sendMu   sync.RWMutex
	draining bool

	workers sync.WaitGroup

	written  atomic.Int64
	rejectMu sync.Mutex
	rejected map[string]int

	failMu  sync.Mutex
	failure error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for dropped books and progress.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config, opts ...Option) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	seen, _ := lru.New[string, struct{}](atLeastOne(cfg.DedupeMaxSize))
	inner, stop := context.WithCancel(context.Background())

	p := &Pipeline{
		writer:    writer,
		queue:     make(chan *models.Book, atLeastOne(cfg.PipelineBufferSize)),
		batchSize: atLeastOne(cfg.BatchSize),
		seen:      seen,
		logger:    slog.Default(),
		parent:    ctx,
		ctx:       inner,
		stop:      stop,
		rejected:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Start launches n writer goroutines. Calling it after Close does nothing.
func (p *Pipeline) Start(n int) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.draining {
		return
	}
	for i := 0; i < atLeastOne(n); i++ {
		p.workers.Add(1)
		go p.run()
	}
}

// Process queues books for validation and writing. Nil entries are ignored.
// It blocks while the queue is full and fails once the pipeline is closed,
// a write has failed, or the parent context is done.
func (p *Pipeline) Process(books ...*models.Book) error {
	for _, book := range books {
		if book == nil {
			continue
		}
		if err := p.send(book); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) send(book *models.Book) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if err := p.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineClosed, err)
	}
	if p.draining {
		return ErrPipelineClosed
	}

	select {
	case p.queue <- book:
		return nil
	case <-p.ctx.Done():
		return ErrPipelineClosed
	case <-p.parent.Done():
		return p.parent.Err()
	}
}

// Close stops accepting books, waits for queued ones to be written, and
// returns the first write error, if any.
func (p *Pipeline) Close() error {
	p.sendMu.Lock()
	if !p.draining {
		p.draining = true
		close(p.queue)
	}
	p.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	defer p.stop()

	select {
	case <-done:
		return p.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first write error.
func (p *Pipeline) Err() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.failure
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.rejectMu.Lock()
	defer p.rejectMu.Unlock()
	rejected := make(map[string]int, len(p.rejected))
	for reason, n := range p.rejected {
		rejected[reason] = n
	}
	return Stats{Written: p.written.Load(), Rejected: rejected}
}

// LogProgress logs the counters every interval until the pipeline closes.
func (p *Pipeline) LogProgress(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				stats := p.Stats()
				p.logger.Debug("pipeline progress",
					slog.Int64("written", stats.Written),
					slog.Int("rejected", stats.RejectedTotal()),
				)
			}
		}
	}()
}

func (p *Pipeline) run() {
	defer p.workers.Done()

	pending := make([]*models.Book, 0, p.batchSize)
	for book := range p.queue {
		if !p.admit(book) {
			continue
		}
		pending = append(pending, book)
		if len(pending) < p.batchSize {
			continue
		}
		if err := p.writer.Write(pending); err != nil {
			p.fail(err)
			return
		}
		pending = pending[:0]
	}

	if len(pending) > 0 {
		if err := p.writer.Write(pending); err != nil {
			p.fail(err)
		}
	}
}

// admit reports whether book is valid and not already seen. Books without
// a detail URL are keyed by title and author. A book that moves to a later
// page while the list is being walked is dropped there, leaving its new rank
// unused; the drop is logged so the gap can be traced.
func (p *Pipeline) admit(book *models.Book) bool {
	if parser.ValidateBook(book) != nil {
		p.reject(RejectInvalid)
		return false
	}

	key := book.URL
	if key == "" {
		key = book.Title + "\x00" + book.Author
	}
	if seen, _ := p.seen.ContainsOrAdd(key, struct{}{}); seen {
		p.reject(RejectDuplicate)
		p.logger.Info("duplicate book dropped",
			slog.Int("rank", book.Rank),
			slog.Int("page", book.Page),
			slog.String("title", book.Title),
			slog.String("key", key),
		)
		return false
	}

	p.written.Add(1)
	return true
}

func (p *Pipeline) reject(reason string) {
	p.rejectMu.Lock()
	p.rejected[reason]++
	p.rejectMu.Unlock()
}

// fail records the first write error and releases blocked senders.
func (p *Pipeline) fail(err error) {
	p.failMu.Lock()
	if p.failure == nil {
		p.failure = fmt.Errorf("write batch: %w", err)
	}
	p.failMu.Unlock()
	p.stop()
}
