package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-reads/config"
	"github.com/aluiziolira/go-scrape-reads/models"
	"github.com/aluiziolira/go-scrape-reads/parser"
	"github.com/aluiziolira/go-scrape-reads/pipeline"
)

// Page outcomes, used as result keys and metric labels.
const (
	PageOK          = "ok"
	PageEmpty       = "empty"
	PageLoading     = "loading"
	PageNoContainer = "no_container"
	PageFailed      = "failed"
)

// Scraper walks the listing pages one at a time and feeds the extracted
// books to a pipeline.
type Scraper struct {
	cfg       *config.Config
	fetcher   PageFetcher
	extractor *parser.Extractor
	logger    *slog.Logger
	Metrics   *Metrics

	requestCount  int
	pageCount     int
	itemCount     int
	errorCount    int
	failedURLs    []string
	errorsByType  map[string]int
	pagesByStatus map[string]int
}

// NewScraper builds a scraper from cfg. In browser mode the headless
// browser is started here; failure wraps ErrBrowserUnavailable.
func NewScraper(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Scraper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	metrics := NewMetrics()

	var fetcher PageFetcher
	switch cfg.Mode {
	case config.ModeBrowser:
		browser, err := NewBrowserFetcher(ctx, cfg, metrics, logger)
		if err != nil {
			return nil, err
		}
		fetcher = browser
	default:
		fetcher = NewHTTPFetcher(cfg, metrics, logger)
	}

	opts := []parser.Option{
		parser.WithLogger(logger),
		parser.WithBaseURL(base),
	}
	if cfg.DownloadImages {
		opts = append(opts, parser.WithImageStore(NewImageDownloader(cfg, metrics, logger)))
	}

	return &Scraper{
		cfg:           cfg,
		fetcher:       fetcher,
		extractor:     parser.NewExtractor(opts...),
		logger:        logger,
		Metrics:       metrics,
		errorsByType:  make(map[string]int),
		pagesByStatus: make(map[string]int),
	}, nil
}

// Run scrapes pages 1..MaxPages in order. Page-level failures are logged,
// counted and skipped; cancelling ctx stops the loop early.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	var runErr error
	for page := 1; page <= s.cfg.MaxPages; page++ {
		if page > 1 {
			if err := sleepContext(ctx, s.cfg.Delay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		pageURL, err := PageURL(s.cfg.BaseURL, page)
		if err != nil {
			return nil, err
		}

		outcome, books := s.scrapePage(ctx, page, pageURL)
		if ctx.Err() != nil {
			break
		}
		s.pageCount++
		s.pagesByStatus[outcome]++
		s.Metrics.IncPage(outcome)
		if outcome != PageOK {
			s.failedURLs = append(s.failedURLs, pageURL)
		}

		s.logger.Info("page processed",
			slog.Int("page", page),
			slog.String("outcome", outcome),
			slog.Int("books", len(books)),
		)

		if len(books) == 0 {
			continue
		}
		s.itemCount += len(books)
		s.Metrics.AddItems(len(books))
		if err := p.Process(books...); err != nil {
			runErr = fmt.Errorf("send page %d to pipeline: %w", page, err)
			break
		}
	}

	if ctx.Err() != nil {
		s.logger.Warn("scrape interrupted", slog.Any("error", ctx.Err()))
	}

	return s.result(start), runErr
}

func (s *Scraper) scrapePage(ctx context.Context, page int, pageURL string) (string, []*models.Book) {
	for attempt := 0; ; attempt++ {
		s.requestCount++
		body, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() == nil {
				s.recordError(pageURL, err)
			}
			return PageFailed, nil
		}

		if s.cfg.SaveHTML {
			s.saveHTML(page, body)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			s.recordError(pageURL, fmt.Errorf("parse html: %w", err))
			return PageFailed, nil
		}
		s.logger.Debug("page fetched",
			slog.Int("page", page),
			slog.String("title", strings.TrimSpace(doc.Find("title").First().Text())),
			slog.Int("bytes", len(body)),
		)

		books, err := s.extractor.Extract(ctx, doc.Selection, page, s.cfg.PageSize)
		switch {
		case err == nil:
			return PageOK, books
		case errors.Is(err, parser.ErrListingEmpty):
			return PageEmpty, nil
		case errors.Is(err, parser.ErrListingLoading), errors.Is(err, parser.ErrContainerNotFound):
			outcome := PageLoading
			if errors.Is(err, parser.ErrContainerNotFound) {
				outcome = PageNoContainer
			}
			if attempt >= s.cfg.LoadingRetries {
				s.logger.Warn("page still not rendered, skipping",
					slog.Int("page", page),
					slog.String("outcome", outcome),
					slog.Int("attempts", attempt+1),
				)
				return outcome, nil
			}
			s.logger.Info("page not rendered yet, waiting before re-fetch",
				slog.Int("page", page),
				slog.String("outcome", outcome),
				slog.Duration("wait", s.cfg.LoadingWait),
			)
			if err := sleepContext(ctx, s.cfg.LoadingWait); err != nil {
				return outcome, nil
			}
		default:
			s.recordError(pageURL, err)
			return PageFailed, nil
		}
	}
}

func (s *Scraper) recordError(pageURL string, err error) {
	label := errorKind(err)
	s.errorCount++
	s.errorsByType[label]++
	s.Metrics.IncError(label)
	s.logger.Error("page error",
		slog.String("url", pageURL),
		slog.String("category", label),
		slog.Any("error", err),
	)
}

func (s *Scraper) saveHTML(page int, body []byte) {
	if err := os.MkdirAll(s.cfg.DebugDir, 0o755); err != nil {
		s.logger.Warn("create debug dir", slog.Any("error", err))
		return
	}
	path := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("debug_response_page%d.html", page))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		s.logger.Warn("save debug html", slog.String("path", path), slog.Any("error", err))
		return
	}
	s.logger.Debug("saved debug html", slog.String("path", path))
}

func (s *Scraper) result(start time.Time) *models.ScraperResult {
	failed := make([]string, len(s.failedURLs))
	copy(failed, s.failedURLs)
	errorsByType := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		errorsByType[k] = v
	}
	pages := make(map[string]int, len(s.pagesByStatus))
	for k, v := range s.pagesByStatus {
		pages[k] = v
	}

	return &models.ScraperResult{
		StartTime:     start,
		EndTime:       time.Now(),
		TotalCount:    s.itemCount,
		ErrorCount:    s.errorCount,
		FailedURLs:    failed,
		ErrorsByType:  errorsByType,
		PagesByStatus: pages,
		RequestCount:  s.requestCount,
		PageCount:     s.pageCount,
	}
}

// Close releases the page fetcher.
func (s *Scraper) Close() error {
	return s.fetcher.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
