package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFile overlays the YAML document at path onto cfg. Keys absent from
// the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration ("2s", "500ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides cfg with SCRAPER_* environment variables.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SCRAPER_BASE_URL":     &cfg.BaseURL,
		"SCRAPER_MODE":         &cfg.Mode,
		"SCRAPER_OUTPUT":       &cfg.OutputFile,
		"SCRAPER_FORMAT":       &cfg.OutputFormat,
		"SCRAPER_USER_AGENT":   &cfg.UserAgent,
		"SCRAPER_IMAGE_DIR":    &cfg.ImageDir,
		"SCRAPER_DEBUG_DIR":    &cfg.DebugDir,
		"SCRAPER_CHROME_PATH":  &cfg.ChromePath,
		"SCRAPER_METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"SCRAPER_PAGES":           &cfg.MaxPages,
		"SCRAPER_PAGE_SIZE":       &cfg.PageSize,
		"SCRAPER_LOADING_RETRIES": &cfg.LoadingRetries,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	bools := map[string]*bool{
		"SCRAPER_DEBUG":           &cfg.Verbose,
		"SCRAPER_SAVE_HTML":       &cfg.SaveHTML,
		"SCRAPER_DOWNLOAD_IMAGES": &cfg.DownloadImages,
	}
	for key, dst := range bools {
		value, ok, err := EnvBool(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"SCRAPER_DELAY":        &cfg.Delay,
		"SCRAPER_TIMEOUT":      &cfg.Timeout,
		"SCRAPER_LOADING_WAIT": &cfg.LoadingWait,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	return nil
}
