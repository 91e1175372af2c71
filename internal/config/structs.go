//nolint:lll
package config

// Config represents the complete configuration for the doseocr application.
// It covers every command (serve, run, submit, extract, patients) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch job coordination
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// External OCR backend
	OCR OCRConfig `mapstructure:"ocr" yaml:"ocr" json:"ocr"`

	// Job retention and archive
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	Extract ExtractConfig `mapstructure:"extract" yaml:"extract" json:"extract"`

	// Patient metadata sources
	Patients PatientsConfig `mapstructure:"patients" yaml:"patients" json:"patients"`

	Export ExportConfig `mapstructure:"export" yaml:"export" json:"export"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host             string          `mapstructure:"host" yaml:"host" json:"host"`
	Port             int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin       string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxBodyMB        int             `mapstructure:"max_body_mb" yaml:"max_body_mb" json:"max_body_mb"`
	ShutdownTimeout  int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	StreamIntervalMs int             `mapstructure:"stream_interval_ms" yaml:"stream_interval_ms" json:"stream_interval_ms"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig limits job submissions per client address.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains worker pool settings.
type BatchConfig struct {
	DefaultConcurrency int `mapstructure:"default_concurrency" yaml:"default_concurrency" json:"default_concurrency"`
	MaxConcurrency     int `mapstructure:"max_concurrency" yaml:"max_concurrency" json:"max_concurrency"`
	OCRTimeoutSec      int `mapstructure:"ocr_timeout_sec" yaml:"ocr_timeout_sec" json:"ocr_timeout_sec"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms" json:"poll_interval_ms"`
}

// OCRConfig selects and configures the recognition backend.
type OCRConfig struct {
	Backend             string  `mapstructure:"backend" yaml:"backend" json:"backend"`
	Endpoint            string  `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey              string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	Language            string  `mapstructure:"language" yaml:"language" json:"language"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`

	// tesseract backend
	TessdataPrefix string           `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	PDFPages       string           `mapstructure:"pdf_pages" yaml:"pdf_pages" json:"pdf_pages"`
	Preprocess     PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
}

// PreprocessConfig tunes image cleanup before local recognition.
type PreprocessConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MinHeight int     `mapstructure:"min_height" yaml:"min_height" json:"min_height"`
	Contrast  float64 `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	Sharpen   float64 `mapstructure:"sharpen" yaml:"sharpen" json:"sharpen"`
}

// StoreConfig controls how long finished jobs stay in memory.
type StoreConfig struct {
	Retention     string `mapstructure:"retention" yaml:"retention" json:"retention"`
	EvictSchedule string `mapstructure:"evict_schedule" yaml:"evict_schedule" json:"evict_schedule"`
	ArchivePath   string `mapstructure:"archive_path" yaml:"archive_path" json:"archive_path"`
}

// ExtractConfig contains field extraction settings.
type ExtractConfig struct {
	ReferenceDate string `mapstructure:"reference_date" yaml:"reference_date" json:"reference_date"`
}

// PatientsConfig lists the metadata sources consulted for gender and study date.
type PatientsConfig struct {
	File    string        `mapstructure:"file" yaml:"file" json:"file"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive" json:"archive"`
}

// ArchiveConfig contains imaging archive credentials.
type ArchiveConfig struct {
	BaseURL      string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Username     string `mapstructure:"username" yaml:"username" json:"username"`
	Password     string `mapstructure:"password" yaml:"password" json:"password"`
	Modality     string `mapstructure:"modality" yaml:"modality" json:"modality"`
	TimeoutSec   int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	LookbackDays int    `mapstructure:"lookback_days" yaml:"lookback_days" json:"lookback_days"`
}

// ExportConfig contains output settings for batch results.
type ExportConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	Output string `mapstructure:"output" yaml:"output" json:"output"`
}
