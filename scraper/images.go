package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/go-scrape-reads/config"
	"github.com/aluiziolira/go-scrape-reads/parser"
)

// ImageDownloader fetches cover images into a local directory.
type ImageDownloader struct {
	client  *resty.Client
	dir     string
	metrics *Metrics
	logger  *slog.Logger
}

// NewImageDownloader returns a downloader writing into cfg.ImageDir.
func NewImageDownloader(cfg *config.Config, metrics *Metrics, logger *slog.Logger) *ImageDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	client.SetHeader("user-agent", cfg.UserAgent)
	client.SetTimeout(cfg.Timeout)

	return &ImageDownloader{
		client:  client,
		dir:     cfg.ImageDir,
		metrics: metrics,
		logger:  logger,
	}
}

// Store downloads imageURL and saves it as {rank}_{title}.jpg. It returns
// the file name, not the full path.
func (d *ImageDownloader) Store(ctx context.Context, imageURL string, rank int, title string) (string, error) {
	res, err := d.client.R().
		SetContext(ctx).
		Get(imageURL)
	if err != nil {
		d.metrics.IncImage("error")
		return "", fmt.Errorf("download cover: %w", classifyError(err, 0))
	}
	if res.IsError() {
		d.metrics.IncImage("error")
		return "", classifyError(nil, res.StatusCode())
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.metrics.IncImage("error")
		return "", fmt.Errorf("create image dir: %w", err)
	}

	name := parser.CoverFilename(rank, title)
	if err := os.WriteFile(filepath.Join(d.dir, name), res.Body(), 0o644); err != nil {
		d.metrics.IncImage("error")
		return "", fmt.Errorf("write cover: %w", err)
	}

	d.metrics.IncImage("ok")
	d.logger.Debug("cover saved", slog.Int("rank", rank), slog.String("file", name))
	return name, nil
}
