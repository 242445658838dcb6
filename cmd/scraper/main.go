package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-reads/config"
	"github.com/aluiziolira/go-scrape-reads/models"
	"github.com/aluiziolira/go-scrape-reads/pipeline"
	"github.com/aluiziolira/go-scrape-reads/scraper"
)

func main() {
	defaults := config.DefaultConfig()

	configFile := flag.String("config", "", "Optional YAML config file")
	baseURL := flag.String("base-url", defaults.BaseURL, "Category listing URL")
	maxPages := flag.Int("pages", defaults.MaxPages, "Number of listing pages to scrape")
	pageSize := flag.Int("page-size", defaults.PageSize, "Entries per listing page, used for ranking")
	mode := flag.String("mode", defaults.Mode, "Fetch mode: http or browser")
	delay := flag.Duration("delay", defaults.Delay, "Pause between pages")
	timeout := flag.Duration("timeout", defaults.Timeout, "Page load timeout")
	loadingRetries := flag.Int("loading-retries", defaults.LoadingRetries, "Re-fetches for pages that are still loading")
	loadingWait := flag.Duration("loading-wait", defaults.LoadingWait, "Wait before re-fetching a loading page")
	outputFile := flag.String("output", defaults.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Output format: csv, json, dual, or sqlite")
	images := flag.Bool("images", defaults.DownloadImages, "Download cover images")
	imageDir := flag.String("image-dir", defaults.ImageDir, "Directory for cover images")
	saveHTML := flag.Bool("save-html", defaults.SaveHTML, "Save raw page HTML for debugging")
	debugDir := flag.String("debug-dir", defaults.DebugDir, "Directory for saved page HTML")
	chromePath := flag.String("chrome", defaults.ChromePath, "Chrome executable for browser mode")
	respectRobots := flag.Bool("respect-robots", defaults.RespectRobotsTxt, "Respect robots.txt directives")
	workers := flag.Int("workers", defaults.Workers, "Pipeline workers; more than one loses rank order")
	metricsAddr := flag.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", defaults.Verbose, "Enable verbose logging")
	debug := flag.Bool("debug", defaults.Verbose, "Alias for -v")

	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if err := config.LoadFile(*configFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override file and env values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "pages":
			cfg.MaxPages = *maxPages
		case "page-size":
			cfg.PageSize = *pageSize
		case "mode":
			cfg.Mode = strings.ToLower(*mode)
		case "delay":
			cfg.Delay = *delay
		case "timeout":
			cfg.Timeout = *timeout
		case "loading-retries":
			cfg.LoadingRetries = *loadingRetries
		case "loading-wait":
			cfg.LoadingWait = *loadingWait
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "images":
			cfg.DownloadImages = *images
		case "image-dir":
			cfg.ImageDir = *imageDir
		case "save-html":
			cfg.SaveHTML = *saveHTML
		case "debug-dir":
			cfg.DebugDir = *debugDir
		case "chrome":
			cfg.ChromePath = *chromePath
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "workers":
			cfg.Workers = *workers
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		case "debug":
			cfg.Verbose = *debug
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		slog.Error("scrape failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	defer context.AfterFunc(ctx, func() {
		logger.Info("shutdown signal received, finishing current page")
	})()

	logger.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.String("mode", cfg.Mode),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("page_size", cfg.PageSize),
	)

	s, err := scraper.NewScraper(ctx, cfg, logger)
	if errors.Is(err, scraper.ErrBrowserUnavailable) {
		return fmt.Errorf("%w: install Chrome or pass -chrome", err)
	}
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer closeLogged(logger, "scraper", s)

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer closeLogged(logger, "writer", writer)

	if cfg.MetricsAddr != "" {
		defer serveMetrics(logger, cfg.MetricsAddr, s.Metrics)()
	}

	p := pipeline.NewPipeline(ctx, writer, cfg, pipeline.WithLogger(logger))
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.LogProgress(10 * time.Second)
	}

	started := time.Now()
	result, runErr := s.Run(ctx, p)
	if err := p.Close(); err != nil {
		return fmt.Errorf("drain pipeline: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	stats := p.Stats()
	if stats.Written == 0 {
		logger.Warn("no books extracted; check the page structure or try -mode browser")
	} else if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}

	printSummary(os.Stdout, cfg, result, stats, time.Since(started))
	return nil
}

// serveMetrics exposes the scraper registry on addr and returns a function
// that stops the server.
func serveMetrics(logger *slog.Logger, addr string, metrics *scraper.Metrics) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	logger.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func closeLogged(logger *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("close "+name, slog.Any("error", err))
	}
}

func printSummary(w io.Writer, cfg *config.Config, result *models.ScraperResult, stats pipeline.Stats, elapsed time.Duration) {
	rate := 0.0
	if elapsed > 0 {
		rate = float64(stats.Written) / elapsed.Seconds()
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Scrape complete")
	t.AppendRows([]table.Row{
		{"Books written", stats.Written},
		{"Extracted", result.TotalCount},
		{"Pages", fmt.Sprintf("%d (%s)", result.PageCount, formatCounts(result.PagesByStatus))},
		{"Requests", result.RequestCount},
		{"Errors", result.ErrorCount},
	})
	if len(result.ErrorsByType) > 0 {
		t.AppendRow(table.Row{"Error types", formatCounts(result.ErrorsByType)})
	}
	if len(result.FailedURLs) > 0 {
		t.AppendRow(table.Row{"Failed pages", strings.Join(result.FailedURLs, "\n")})
	}
	if stats.RejectedTotal() > 0 {
		t.AppendRow(table.Row{"Rejected", formatCounts(stats.Rejected)})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Duration", elapsed.Round(time.Millisecond)},
		{"Books/sec", fmt.Sprintf("%.2f", rate)},
		{"Output file", cfg.OutputFile},
	})
	if cfg.DownloadImages {
		t.AppendRow(table.Row{"Cover images", cfg.ImageDir})
	}
	t.Render()
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
