package scraper

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-reads/config"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
)

// PageFetcher retrieves the raw markup of one listing page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
	Close() error
}

// HTTPFetcher fetches pages with a synchronous colly collector.
type HTTPFetcher struct {
	collector *colly.Collector
	metrics   *Metrics
	logger    *slog.Logger
}

// NewHTTPFetcher builds a plain GET fetcher configured from cfg.
func NewHTTPFetcher(cfg *config.Config, metrics *Metrics, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &HTTPFetcher{
		collector: collector,
		metrics:   metrics,
		logger:    logger,
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		f.metrics.IncRequest(config.ModeHTTP)
		f.logger.Debug("requesting page", slog.String("url", r.URL.String()))
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
		r.Ctx.Put(ctxStatus, r.StatusCode)
		if start, ok := r.Request.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		f.logger.Debug("page response",
			slog.Int("status", r.StatusCode),
			slog.Int("bytes", len(r.Body)),
			slog.String("url", r.Request.URL.String()),
		)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
	})

	return f
}

// Fetch issues a GET for pageURL and returns the response body. HTTP error
// statuses are classified into the scraper's error types.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil)
	status, _ := reqCtx.GetAny(ctxStatus).(int)
	if err != nil {
		return nil, classifyError(err, status)
	}
	if classified := classifyError(nil, status); classified != nil {
		return nil, classified
	}

	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	return body, nil
}

// Close releases nothing; the collector owns no long-lived resources.
func (f *HTTPFetcher) Close() error {
	return nil
}
