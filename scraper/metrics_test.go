package scraper

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncRequest("http")
	m.IncPage(PageOK)
	m.AddItems(3)
	m.IncImage("ok")
	m.IncError(KindTimeout)
}

func TestScraperRecordsPageMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.PageSize = 2

	s := newTestScraper(t, cfg)
	s.fetcher = &fakeFetcher{fn: func(pageURL string, _ int) ([]byte, error) {
		if strings.Contains(pageURL, "page=2") {
			return nil, classifyError(context.DeadlineExceeded, 0)
		}
		return []byte(listingHTML(1, 2)), nil
	}}

	runScraper(t, s, cfg)

	if got := testutil.ToFloat64(s.Metrics.pages.WithLabelValues(PageOK)); got != 1 {
		t.Fatalf("ok pages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.pages.WithLabelValues(PageFailed)); got != 1 {
		t.Fatalf("failed pages = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.failures.WithLabelValues(KindTimeout)); got != 1 {
		t.Fatalf("timeout errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.items); got != 2 {
		t.Fatalf("items = %v, want 2", got)
	}
}
