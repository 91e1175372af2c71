package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
	"github.com/MeKo-Tech/doseocr/internal/version"
)

// PatientLister lists patients from the imaging archive.
type PatientLister interface {
	ListPatients(ctx context.Context, q patients.ListQuery) ([]patients.Patient, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	coordinator    *batch.Coordinator
	store          *jobs.Store
	submitted      *patients.MemorySource
	patients       patients.Source
	archive        PatientLister
	rateLimiter    *RateLimiter
	jobSchema      *jsonschema.Schema
	corsOrigin     string
	version        string
	referenceDate  string
	maxBodyBytes   int64
	streamInterval time.Duration
	logger         *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host       string
	Port       int
	CORSOrigin string
	MaxBodyMB  int64
	Version    string

	// ReferenceDate puts extraction into single-date mode.
	ReferenceDate string

	// Patients resolves metadata for patients not described in a submission.
	Patients patients.Source
	// Archive backs GET /patients; nil disables the route.
	Archive PatientLister

	RateLimit      RateLimitConfig
	StreamInterval time.Duration
	Logger         *slog.Logger
}

// RateLimitConfig limits job submissions per client address.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type SubmitJobRequest struct {
	Items               []jobs.WorkItem                `json:"items"`
	Concurrency         int                            `json:"concurrency"`
	Language            string                         `json:"language"`
	ConfidenceThreshold *float64                       `json:"confidence_threshold,omitempty"`
	Patients            map[string]extract.PatientMeta `json:"patients,omitempty"`
}

type SubmitJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type JobResponse struct {
	Success bool     `json:"success"`
	Job     jobs.Job `json:"job"`
}

type JobListResponse struct {
	Success bool       `json:"success"`
	Jobs    []jobs.Job `json:"jobs"`
	Count   int        `json:"count"`
}

type ExtractRequest struct {
	Results       []jobs.Result                  `json:"results,omitempty"`
	JobID         string                         `json:"job_id,omitempty"`
	Patients      map[string]extract.PatientMeta `json:"patients,omitempty"`
	ReferenceDate string                         `json:"reference_date,omitempty"`
}

type ExtractResponse struct {
	Success bool             `json:"success"`
	Records []extract.Record `json:"records"`
	Count   int              `json:"count"`
}

type ExportRequest struct {
	Records []extract.Record `json:"records"`
}

type PatientsResponse struct {
	Success  bool               `json:"success"`
	Patients []patients.Patient `json:"patients"`
	Count    int                `json:"count"`
}

type LanguagesResponse struct {
	Languages []LanguageInfo `json:"languages"`
	Default   string         `json:"default"`
}

type LanguageInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// NewServer creates the HTTP API around a batch coordinator.
func NewServer(config Config, coordinator *batch.Coordinator) (*Server, error) {
	schema, err := compileJobSchema()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := config.Version
	if v == "" {
		v = version.Short()
	}
	maxBody := config.MaxBodyMB
	if maxBody <= 0 {
		maxBody = 10
	}
	interval := config.StreamInterval
	if interval <= 0 {
		interval = batch.DefaultPollInterval
	}

	submitted := patients.NewMemorySource(nil)
	var source patients.Source = submitted
	if config.Patients != nil {
		source = patients.Chain{submitted, config.Patients}
	}

	s := &Server{
		coordinator:    coordinator,
		store:          coordinator.Store(),
		submitted:      submitted,
		patients:       source,
		archive:        config.Archive,
		jobSchema:      schema,
		corsOrigin:     config.CORSOrigin,
		version:        v,
		referenceDate:  config.ReferenceDate,
		maxBodyBytes:   maxBody * 1024 * 1024,
		streamInterval: interval,
		logger:         logger,
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/languages", s.corsMiddleware(s.languagesHandler))
	mux.HandleFunc("/jobs", s.corsMiddleware(s.jobsHandler))
	mux.HandleFunc("/jobs/{id}", s.corsMiddleware(s.jobHandler))
	mux.HandleFunc("/jobs/{id}/ws", s.jobStreamHandler)
	mux.HandleFunc("/extract", s.corsMiddleware(s.extractHandler))
	mux.HandleFunc("/export.csv", s.corsMiddleware(s.exportHandler))
	mux.HandleFunc("/export.tsv", s.corsMiddleware(s.exportHandler))
	mux.HandleFunc("/export.xlsx", s.corsMiddleware(s.exportHandler))
	mux.HandleFunc("/patients", s.corsMiddleware(s.patientsHandler))
	mux.Handle("/metrics", metricsHandler())
}
