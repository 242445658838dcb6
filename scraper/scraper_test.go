package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-reads/config"
	"github.com/aluiziolira/go-scrape-reads/models"
	"github.com/aluiziolira/go-scrape-reads/parser"
	"github.com/aluiziolira/go-scrape-reads/pipeline"
)

const testBaseURL = "http://read.example.test/category/105?sort=hot"

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "http_status"},
		{name: "canceled", err: context.Canceled, statusCode: 0, expected: "canceled"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorKind(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClassifyErrorSuccessStatus(t *testing.T) {
	if err := classifyError(nil, http.StatusOK); err != nil {
		t.Fatalf("status 200 classified as %v", err)
	}
	if got := errorKind(&FetchError{Kind: KindNavigation, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}); got != "navigation" {
		t.Fatalf("navigation label = %q", got)
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		page    int
		want    string
		wantErr bool
	}{
		{name: "adds page", base: "https://read.douban.com/category/105?sort=hot", page: 1, want: "https://read.douban.com/category/105?page=1&sort=hot"},
		{name: "replaces page", base: "https://read.douban.com/category/105?page=9&sort=hot", page: 3, want: "https://read.douban.com/category/105?page=3&sort=hot"},
		{name: "no query", base: "https://read.douban.com/category/105", page: 2, want: "https://read.douban.com/category/105?page=2"},
		{name: "zero page", base: "https://read.douban.com/category/105", page: 0, wantErr: true},
		{name: "bad url", base: "://nope", page: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PageURL(tt.base, tt.page)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("PageURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPFetcherStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", "http://read.example.test/category/105",
				httpmock.NewStringResponder(tt.status, ""))

			fetcher := NewHTTPFetcher(cfg, NewMetrics(), quietLogger())
			fetcher.collector.WithTransport(transport)

			pageURL, _ := PageURL(cfg.BaseURL, 1)
			_, err := fetcher.Fetch(context.Background(), pageURL)
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorKind(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.expected, err)
			}
		})
	}
}

func TestHTTPFetcherReturnsBody(t *testing.T) {
	cfg := testConfig()
	page := listingHTML(1, 2)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponderWithQuery("GET", "http://read.example.test/category/105",
		"sort=hot&page=1", htmlResponder(page))

	var logs strings.Builder
	fetcher := NewHTTPFetcher(cfg, NewMetrics(), debugLogger(&logs))
	fetcher.collector.WithTransport(transport)

	pageURL, _ := PageURL(cfg.BaseURL, 1)
	body, err := fetcher.Fetch(context.Background(), pageURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != page {
		t.Fatalf("body mismatch: got %d bytes, want %d", len(body), len(page))
	}
	if !strings.Contains(logs.String(), "page response") {
		t.Fatalf("fetcher did not log through the injected logger:\n%s", logs.String())
	}
}

func TestScraperRunRanksAcrossPages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.PageSize = 3

	transport := httpmock.NewMockTransport()
	transport.RegisterResponderWithQuery("GET", "http://read.example.test/category/105",
		"sort=hot&page=1", htmlResponder(listingHTML(1, 3)))
	transport.RegisterResponderWithQuery("GET", "http://read.example.test/category/105",
		"sort=hot&page=2", htmlResponder(listingHTML(4, 3)))

	s := newTestScraper(t, cfg)
	s.fetcher.(*HTTPFetcher).collector.WithTransport(transport)

	writer, result := runScraper(t, s, cfg)

	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6}, writer.ranks()); diff != "" {
		t.Fatalf("ranks mismatch (-want +got):\n%s", diff)
	}
	if result.PagesByStatus[PageOK] != 2 {
		t.Fatalf("pages by status = %v, want 2 ok", result.PagesByStatus)
	}
	if result.TotalCount != 6 || result.PageCount != 2 || result.RequestCount != 2 {
		t.Fatalf("result = %+v", result)
	}

	first := writer.all()[0]
	if first.Title != "Book 1" || first.URL != "http://read.example.test/ebook/1/" {
		t.Fatalf("first book = %+v", first)
	}
	if first.CoverImage != models.NotDownloaded {
		t.Fatalf("cover = %q, want %q", first.CoverImage, models.NotDownloaded)
	}
}

func TestScraperRefetchesLoadingPage(t *testing.T) {
	cfg := testConfig()
	cfg.LoadingRetries = 1

	fetcher := &fakeFetcher{fn: func(_ string, call int) ([]byte, error) {
		if call == 1 {
			return []byte(loadingHTML()), nil
		}
		return []byte(listingHTML(1, 2)), nil
	}}
	s := newTestScraper(t, cfg)
	s.fetcher = fetcher

	writer, result := runScraper(t, s, cfg)

	if got := writer.count(); got != 2 {
		t.Fatalf("books = %d, want 2", got)
	}
	if fetcher.callCount() != 2 || result.RequestCount != 2 {
		t.Fatalf("fetches = %d requests = %d, want 2", fetcher.callCount(), result.RequestCount)
	}
	if result.PagesByStatus[PageOK] != 1 {
		t.Fatalf("pages by status = %v", result.PagesByStatus)
	}
}

func TestScraperGivesUpOnPersistentLoading(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		outcome string
	}{
		{name: "placeholders", html: loadingHTML(), outcome: PageLoading},
		{name: "no container", html: "<html><body><div id=\"react-root\"></div></body></html>", outcome: PageNoContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LoadingRetries = 2

			fetcher := &fakeFetcher{fn: func(string, int) ([]byte, error) {
				return []byte(tt.html), nil
			}}
			s := newTestScraper(t, cfg)
			s.fetcher = fetcher

			writer, result := runScraper(t, s, cfg)

			if writer.count() != 0 {
				t.Fatalf("books = %d, want 0", writer.count())
			}
			if fetcher.callCount() != 3 {
				t.Fatalf("fetches = %d, want 3", fetcher.callCount())
			}
			if result.PagesByStatus[tt.outcome] != 1 {
				t.Fatalf("pages by status = %v, want %s", result.PagesByStatus, tt.outcome)
			}
			if len(result.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v", result.FailedURLs)
			}
		})
	}
}

func TestScraperSkipsFailedPage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.PageSize = 2

	fetcher := &fakeFetcher{fn: func(pageURL string, _ int) ([]byte, error) {
		if strings.Contains(pageURL, "page=1") {
			return nil, &FetchError{Kind: KindNotFound, Status: http.StatusNotFound, Err: errors.New("Not Found")}
		}
		return []byte(listingHTML(3, 2)), nil
	}}
	s := newTestScraper(t, cfg)
	s.fetcher = fetcher

	writer, result := runScraper(t, s, cfg)

	if diff := cmp.Diff([]int{3, 4}, writer.ranks()); diff != "" {
		t.Fatalf("ranks mismatch (-want +got):\n%s", diff)
	}
	if result.ErrorCount != 1 || result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors = %d %v", result.ErrorCount, result.ErrorsByType)
	}
	if result.PagesByStatus[PageFailed] != 1 || result.PagesByStatus[PageOK] != 1 {
		t.Fatalf("pages by status = %v", result.PagesByStatus)
	}
}

func TestScraperEmptyPage(t *testing.T) {
	cfg := testConfig()

	s := newTestScraper(t, cfg)
	s.fetcher = &fakeFetcher{fn: func(string, int) ([]byte, error) {
		return []byte(`<html><body><ul class="works-list"></ul></body></html>`), nil
	}}

	_, result := runScraper(t, s, cfg)
	if result.PagesByStatus[PageEmpty] != 1 {
		t.Fatalf("pages by status = %v", result.PagesByStatus)
	}
}

func TestScraperSavesHTML(t *testing.T) {
	cfg := testConfig()
	cfg.SaveHTML = true
	cfg.DebugDir = filepath.Join(t.TempDir(), "debug")

	page := listingHTML(1, 1)
	s := newTestScraper(t, cfg)
	s.fetcher = &fakeFetcher{fn: func(string, int) ([]byte, error) {
		return []byte(page), nil
	}}

	runScraper(t, s, cfg)

	raw, err := os.ReadFile(filepath.Join(cfg.DebugDir, "debug_response_page1.html"))
	if err != nil {
		t.Fatalf("read debug html: %v", err)
	}
	if string(raw) != page {
		t.Fatalf("debug html mismatch")
	}
}

func TestScraperStopsWhenCanceled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 5

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{fn: func(string, int) ([]byte, error) {
		cancel()
		return nil, context.Canceled
	}}
	s := newTestScraper(t, cfg)
	s.fetcher = fetcher

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	result, err := s.Run(ctx, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if fetcher.callCount() != 1 {
		t.Fatalf("fetches = %d, want 1", fetcher.callCount())
	}
	if result.PageCount != 0 || result.ErrorCount != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestImageDownloaderStore(t *testing.T) {
	cfg := testConfig()
	cfg.ImageDir = filepath.Join(t.TempDir(), "images")

	var logs strings.Builder
	downloader := NewImageDownloader(cfg, NewMetrics(), debugLogger(&logs))
	httpmock.ActivateNonDefault(downloader.client.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://img.example.test/cover/1.jpg",
		httpmock.NewBytesResponder(http.StatusOK, []byte("jpeg-bytes")))
	httpmock.RegisterResponder("GET", "https://img.example.test/cover/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	name, err := downloader.Store(context.Background(), "https://img.example.test/cover/1.jpg", 7, "三体: 地球往事")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if name != "7_三体_ 地球往事.jpg" {
		t.Fatalf("name = %q", name)
	}
	raw, err := os.ReadFile(filepath.Join(cfg.ImageDir, name))
	if err != nil {
		t.Fatalf("read cover: %v", err)
	}
	if string(raw) != "jpeg-bytes" {
		t.Fatalf("cover content = %q", raw)
	}
	if !strings.Contains(logs.String(), "cover saved") {
		t.Fatalf("downloader did not log through the injected logger:\n%s", logs.String())
	}

	if _, err := downloader.Store(context.Background(), "https://img.example.test/cover/missing.jpg", 8, "missing"); err == nil {
		t.Fatalf("expected error for missing cover")
	}
	if _, err := os.Stat(filepath.Join(cfg.ImageDir, "8_missing.jpg")); !os.IsNotExist(err) {
		t.Fatalf("missing cover should not be written")
	}
}

func TestScraperDownloadsCovers(t *testing.T) {
	cfg := testConfig()
	cfg.DownloadImages = true
	cfg.ImageDir = filepath.Join(t.TempDir(), "images")

	s := newTestScraper(t, cfg)
	s.fetcher = &fakeFetcher{fn: func(string, int) ([]byte, error) {
		return []byte(listingHTML(1, 1)), nil
	}}

	covers := NewImageDownloader(cfg, s.Metrics, quietLogger())
	httpmock.ActivateNonDefault(covers.client.GetClient())
	defer httpmock.DeactivateAndReset()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	s.extractor = parser.NewExtractor(
		parser.WithLogger(quietLogger()),
		parser.WithBaseURL(base),
		parser.WithImageStore(covers),
	)
	httpmock.RegisterResponder("GET", "http://read.example.test/covers/1.jpg",
		httpmock.NewBytesResponder(http.StatusOK, []byte("cover")))

	writer, _ := runScraper(t, s, cfg)

	books := writer.all()
	if len(books) != 1 || books[0].CoverImage != "1_Book 1.jpg" {
		t.Fatalf("books = %+v", books)
	}
	if _, err := os.Stat(filepath.Join(cfg.ImageDir, "1_Book 1.jpg")); err != nil {
		t.Fatalf("cover not written: %v", err)
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(pageURL string, call int) ([]byte, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, pageURL)
	call := 0
	for _, u := range f.calls {
		if u == pageURL {
			call++
		}
	}
	f.mu.Unlock()
	return f.fn(pageURL, call)
}

func (f *fakeFetcher) Close() error {
	return nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type collectingWriter struct {
	mu    sync.Mutex
	books []*models.Book
}

func (cw *collectingWriter) Write(books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.books = append(cw.books, books...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) count() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return len(cw.books)
}

func (cw *collectingWriter) all() []*models.Book {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]*models.Book, len(cw.books))
	copy(out, cw.books)
	return out
}

func (cw *collectingWriter) ranks() []int {
	books := cw.all()
	out := make([]int, 0, len(books))
	for _, b := range books {
		out = append(out, b.Rank)
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.MaxPages = 1
	cfg.Delay = 0
	cfg.LoadingWait = 0
	cfg.Timeout = 2 * time.Second
	cfg.DownloadImages = false
	cfg.PipelineBufferSize = 16
	cfg.BatchSize = 1
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func debugLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestScraper(t *testing.T, cfg *config.Config) *Scraper {
	t.Helper()
	s, err := NewScraper(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runScraper(t *testing.T, s *Scraper, cfg *config.Config) (*collectingWriter, *models.ScraperResult) {
	t.Helper()
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	return writer, result
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func listingHTML(firstID, count int) string {
	var builder strings.Builder
	builder.WriteString(`<html><head><title>豆瓣阅读</title></head><body><div id="react-root"><ul class="works-list">`)
	for id := firstID; id < firstID+count; id++ {
		fmt.Fprintf(&builder, `<li class="works-item" data-works-id="%d">`, id)
		fmt.Fprintf(&builder, `<img src="/covers/%d.jpg!thumb" />`, id)
		fmt.Fprintf(&builder, `<h4 class="title"><a href="/ebook/%d/"><span class="title-text">Book %d</span></a></h4>`, id, id)
		fmt.Fprintf(&builder, `<div class="author"><a class="author-link">Author %d</a></div>`, id)
		builder.WriteString(`<div class="intro">A story.</div>`)
		builder.WriteString(`<div class="extra-info"><span>12.5万字</span><a class="category-link">小说</a></div>`)
		builder.WriteString(`<span class="price-tag"><s>¥12.00</s><span class="discount-price">¥6.00</span></span>`)
		builder.WriteString(`</li>`)
	}
	builder.WriteString(`</ul></div></body></html>`)
	return builder.String()
}

func loadingHTML() string {
	return `<html><body><div id="react-root"><ul class="works-list">` +
		`<li class="works-item is-loading"></li><li class="works-item is-loading"></li>` +
		`</ul></div></body></html>`
}

type benchWriter struct {
	mu    sync.Mutex
	count int
}

func (bw *benchWriter) Write(books []*models.Book) error {
	bw.mu.Lock()
	bw.count += len(books)
	bw.mu.Unlock()
	return nil
}

func (bw *benchWriter) Close() error {
	return nil
}

func (bw *benchWriter) Validate() error {
	return nil
}

func BenchmarkPipeline_Throughput(b *testing.B) {
	cfg := config.DefaultConfig()
	cfg.PipelineBufferSize = 1024
	cfg.BatchSize = 64
	cfg.DedupeMaxSize = 5000000

	for _, workers := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			writer := &benchWriter{}
			p := pipeline.NewPipeline(context.Background(), writer, cfg)
			p.Start(workers)

			scrapedAt := time.Unix(0, 0)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				book := &models.Book{
					Rank:       i + 1,
					Title:      "Benchmark Book",
					Author:     models.UnknownAuthor,
					Categories: []string{"小说"},
					URL:        fmt.Sprintf("http://read.example.test/ebook/%d/", i),
					ScrapedAt:  scrapedAt,
				}
				if err := p.Process(book); err != nil {
					b.Fatalf("process: %v", err)
				}
			}
			b.StopTimer()
			if err := p.Close(); err != nil {
				b.Fatalf("close: %v", err)
			}
			elapsed := b.Elapsed().Seconds()
			if elapsed > 0 {
				b.ReportMetric(float64(b.N)/elapsed, "items/sec")
			}
		})
	}
}
