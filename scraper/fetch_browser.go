package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/aluiziolira/go-scrape-reads/config"
)

const (
	listingSelector = "ul.works-list"
	entrySelector   = "li[data-works-id]"

	entrySettle  = 3 * time.Second
	loadingGrace = 5 * time.Second
	scrollPause  = time.Second
)

// BrowserFetcher renders pages in headless Chrome so React-rendered
// listings are present in the returned markup.
type BrowserFetcher struct {
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	timeout       time.Duration
	metrics       *Metrics
	logger        *slog.Logger
}

// NewBrowserFetcher launches the browser. A launch failure wraps
// ErrBrowserUnavailable and should abort the run.
func NewBrowserFetcher(ctx context.Context, cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*BrowserFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}
	logger.Debug("headless browser started")

	return &BrowserFetcher{
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		timeout:       cfg.Timeout,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Fetch navigates a fresh tab to pageURL, waits for the listing container
// and then for real entries, scrolls to trigger lazy loading, and returns
// the rendered document.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	f.metrics.IncRequest(config.ModeBrowser)
	start := time.Now()
	defer func() { f.metrics.ObserveDuration(time.Since(start)) }()

	// Allocate the tab before attaching timeouts; a deadline on the first
	// Run would close the tab when it fires.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, &FetchError{Kind: KindNavigation, Err: err}
	}

	if err := f.runWithTimeout(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(listingSelector, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyNavigation(err)
	}

	settle := entrySettle
	if err := f.runWithTimeout(tabCtx, chromedp.WaitReady(entrySelector, chromedp.ByQuery)); err != nil {
		f.logger.Debug("no real entries detected yet, allowing more time",
			slog.String("url", pageURL),
			slog.Any("error", err),
		)
		settle = loadingGrace
	}

	var (
		scrolled bool
		html     string
	)
	err := chromedp.Run(tabCtx,
		chromedp.Sleep(settle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight); true`, &scrolled),
		chromedp.Sleep(scrollPause),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{Kind: KindNavigation, Err: err}
	}

	f.logger.Debug("rendered page", slog.String("url", pageURL), slog.Int("bytes", len(html)))
	return []byte(html), nil
}

func (f *BrowserFetcher) runWithTimeout(tabCtx context.Context, actions ...chromedp.Action) error {
	waitCtx, cancel := context.WithTimeout(tabCtx, f.timeout)
	defer cancel()
	return chromedp.Run(waitCtx, actions...)
}

func classifyNavigation(err error) error {
	if classified := classifyError(err, 0); errorKind(classified) == KindTimeout {
		return classified
	}
	return &FetchError{Kind: KindNavigation, Err: err}
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	f.cancelBrowser()
	f.cancelAlloc()
	return nil
}
