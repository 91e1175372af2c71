package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
	"github.com/MeKo-Tech/doseocr/internal/ocr/tesseract"
	"github.com/MeKo-Tech/doseocr/internal/patients"
)

// OCR backends.
const (
	BackendHTTP      = "http"
	BackendTesseract = "tesseract"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pre := ocr.DefaultPreprocessOptions()
	coord := batch.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Server: ServerConfig{
			Host:             "localhost",
			Port:             8080,
			CORSOrigin:       "*",
			MaxBodyMB:        10,
			ShutdownTimeout:  30,
			StreamIntervalMs: 500,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 30,
				RequestsPerHour:   300,
			},
		},
		Batch: BatchConfig{
			DefaultConcurrency: coord.DefaultConcurrency,
			MaxConcurrency:     coord.MaxConcurrency,
			OCRTimeoutSec:      int(coord.OCRTimeout / time.Second),
			PollIntervalMs:     int(batch.DefaultPollInterval / time.Millisecond),
		},
		OCR: OCRConfig{
			Backend:             BackendHTTP,
			Endpoint:            "http://localhost:8000/ocr",
			Language:            coord.DefaultLanguage,
			ConfidenceThreshold: coord.DefaultThreshold,
			Preprocess: PreprocessConfig{
				Enabled:   pre.Enabled,
				MinHeight: pre.MinHeight,
				Contrast:  pre.Contrast,
				Sharpen:   pre.Sharpen,
			},
		},
		Store: StoreConfig{
			Retention:     "24h",
			EvictSchedule: jobs.DefaultEvictSchedule,
		},
		Patients: PatientsConfig{
			Archive: ArchiveConfig{
				Modality:     "XA",
				TimeoutSec:   60,
				LookbackDays: 30,
			},
		},
		Export: ExportConfig{
			Format: string(export.FormatCSV),
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxBodyMB <= 0 {
		return fmt.Errorf("invalid max body size: %d (must be positive)", c.Server.MaxBodyMB)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}

	if c.Batch.DefaultConcurrency <= 0 {
		return fmt.Errorf("invalid default concurrency: %d (must be positive)", c.Batch.DefaultConcurrency)
	}
	if c.Batch.MaxConcurrency < c.Batch.DefaultConcurrency {
		return fmt.Errorf("invalid max concurrency: %d (must be at least default concurrency %d)",
			c.Batch.MaxConcurrency, c.Batch.DefaultConcurrency)
	}
	if c.Batch.OCRTimeoutSec <= 0 {
		return fmt.Errorf("invalid ocr timeout: %d (must be positive)", c.Batch.OCRTimeoutSec)
	}

	switch c.OCR.Backend {
	case BackendHTTP:
		if _, err := url.ParseRequestURI(c.OCR.Endpoint); err != nil {
			return fmt.Errorf("invalid ocr endpoint %q: %w", c.OCR.Endpoint, err)
		}
	case BackendTesseract:
	default:
		return fmt.Errorf("invalid ocr backend: %s (must be one of: %s, %s)", c.OCR.Backend, BackendHTTP, BackendTesseract)
	}
	if _, ok := ocr.LookupLanguage(c.OCR.Language); !ok {
		return fmt.Errorf("invalid ocr language: %s (must be one of: %s)", c.OCR.Language, strings.Join(ocr.LanguageCodes(), ", "))
	}
	if err := validateThreshold(c.OCR.ConfidenceThreshold, "ocr.confidence_threshold"); err != nil {
		return err
	}

	if _, err := c.Store.RetentionDuration(); err != nil {
		return err
	}

	if _, err := export.ParseFormat(c.Export.Format); err != nil {
		return fmt.Errorf("invalid export format: %w", err)
	}

	if a := c.Patients.Archive; a.BaseURL != "" {
		if _, err := url.ParseRequestURI(a.BaseURL); err != nil {
			return fmt.Errorf("invalid archive base url %q: %w", a.BaseURL, err)
		}
	}
	return nil
}

// RetentionDuration parses store.retention. An empty value or "0" disables eviction.
func (s StoreConfig) RetentionDuration() (time.Duration, error) {
	if s.Retention == "" || s.Retention == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Retention)
	if err != nil {
		return 0, fmt.Errorf("invalid store retention %q: %w", s.Retention, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid store retention %q: must not be negative", s.Retention)
	}
	return d, nil
}

// ToBatchConfig converts to the coordinator configuration.
func (c *Config) ToBatchConfig(logger *slog.Logger) batch.Config {
	return batch.Config{
		DefaultConcurrency: c.Batch.DefaultConcurrency,
		MaxConcurrency:     c.Batch.MaxConcurrency,
		OCRTimeout:         time.Duration(c.Batch.OCRTimeoutSec) * time.Second,
		DefaultLanguage:    c.OCR.Language,
		DefaultThreshold:   c.OCR.ConfidenceThreshold,
		Logger:             logger,
	}
}

// PollInterval returns batch.poll_interval_ms as a duration.
func (c *Config) PollInterval() time.Duration {
	if c.Batch.PollIntervalMs <= 0 {
		return batch.DefaultPollInterval
	}
	return time.Duration(c.Batch.PollIntervalMs) * time.Millisecond
}

// NewRecognizer builds the configured OCR backend.
func (c *Config) NewRecognizer() (ocr.Recognizer, error) {
	switch c.OCR.Backend {
	case BackendTesseract:
		return tesseract.New(tesseract.Config{
			TessdataPrefix: c.OCR.TessdataPrefix,
			PDFPages:       c.OCR.PDFPages,
			Preprocess: ocr.PreprocessOptions{
				Enabled:   c.OCR.Preprocess.Enabled,
				MinHeight: c.OCR.Preprocess.MinHeight,
				Contrast:  c.OCR.Preprocess.Contrast,
				Sharpen:   c.OCR.Preprocess.Sharpen,
			},
		}), nil
	case BackendHTTP, "":
		var opts []ocr.HTTPOption
		if c.OCR.APIKey != "" {
			opts = append(opts, ocr.WithAPIKey(c.OCR.APIKey))
		}
		return ocr.NewHTTPRecognizer(c.OCR.Endpoint, opts...), nil
	default:
		return nil, fmt.Errorf("unknown ocr backend %q", c.OCR.Backend)
	}
}

// ArchiveEnabled reports whether an imaging archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Patients.Archive.BaseURL != ""
}

// ToArchiveConfig converts to the archive client configuration.
func (c *Config) ToArchiveConfig() patients.ArchiveConfig {
	a := c.Patients.Archive
	return patients.ArchiveConfig{
		BaseURL:      a.BaseURL,
		Username:     a.Username,
		Password:     a.Password,
		Modality:     a.Modality,
		Timeout:      time.Duration(a.TimeoutSec) * time.Second,
		LookbackDays: a.LookbackDays,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
