package config

import (
	"fmt"
	"net/url"
	"time"
)

// Fetch modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL            string        `yaml:"base_url"`
	MaxPages           int           `yaml:"max_pages"`
	PageSize           int           `yaml:"page_size"`
	Mode               string        `yaml:"mode"` // http or browser
	Delay              time.Duration `yaml:"delay"`
	Timeout            time.Duration `yaml:"timeout"`
	LoadingRetries     int           `yaml:"loading_retries"`
	LoadingWait        time.Duration `yaml:"loading_wait"`
	OutputFile         string        `yaml:"output_file"`
	OutputFormat       string        `yaml:"output_format"` // csv, json, dual, or sqlite
	UserAgent          string        `yaml:"user_agent"`
	Verbose            bool          `yaml:"verbose"`
	SaveHTML           bool          `yaml:"save_html"`
	DebugDir           string        `yaml:"debug_dir"`
	DownloadImages     bool          `yaml:"download_images"`
	ImageDir           string        `yaml:"image_dir"`
	ChromePath         string        `yaml:"chrome_path"`
	RespectRobotsTxt   bool          `yaml:"respect_robots_txt"`
	MetricsAddr        string        `yaml:"metrics_addr"`
	Workers            int           `yaml:"workers"`
	PipelineBufferSize int           `yaml:"pipeline_buffer_size"`
	BatchSize          int           `yaml:"batch_size"`
	DedupeMaxSize      int           `yaml:"dedupe_max_size"`
}

// DefaultConfig returns conservative defaults for the hot-sorted category listing.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://read.douban.com/category/105?sort=hot",
		MaxPages:           3,
		PageSize:           10,
		Mode:               ModeHTTP,
		Delay:              2 * time.Second,
		Timeout:            10 * time.Second,
		LoadingRetries:     1,
		LoadingWait:        5 * time.Second,
		OutputFile:         "books.csv",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Verbose:            false,
		SaveHTML:           false,
		DebugDir:           "debug",
		DownloadImages:     true,
		ImageDir:           "images",
		RespectRobotsTxt:   false,
		Workers:            1,
		PipelineBufferSize: 256,
		BatchSize:          20,
		DedupeMaxSize:      10000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Mode != ModeHTTP && c.Mode != ModeBrowser {
		return fmt.Errorf("mode must be %s or %s", ModeHTTP, ModeBrowser)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.LoadingRetries < 0 {
		return fmt.Errorf("loading retries cannot be negative")
	}
	if c.LoadingWait < 0 {
		return fmt.Errorf("loading wait cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SaveHTML && c.DebugDir == "" {
		return fmt.Errorf("debug dir cannot be empty when saving html")
	}
	if c.DownloadImages && c.ImageDir == "" {
		return fmt.Errorf("image dir cannot be empty when downloading images")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}
