package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/client"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
	"github.com/MeKo-Tech/doseocr/internal/server"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// OCR backend double shared by every job in the scenario
	Recognizer *testutil.ScriptedRecognizer
	Patients   *patients.MemorySource
	RateLimit  server.RateLimitConfig

	// Server under test
	HTTPServer *httptest.Server
	API        *server.Server
	Client     *client.Client

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    http.Header

	// Job state
	JobID     string
	Job       jobs.Job
	Snapshots []jobs.Job
	Records   []extract.Record
}

// NewTestContext creates a context whose OCR backend answers every report
// with the sample dose report.
func NewTestContext() *TestContext {
	return &TestContext{
		Recognizer: testutil.NewScriptedRecognizer(testutil.SampleReport),
		Patients:   patients.NewMemorySource(nil),
	}
}

// StartServer starts the API on an httptest server.
func (testCtx *TestContext) StartServer() error {
	if testCtx.HTTPServer != nil {
		return nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := jobs.NewStore(jobs.WithLogger(logger))
	cfg := batch.DefaultConfig()
	cfg.MaxConcurrency = 8
	cfg.OCRTimeout = 2 * time.Second
	cfg.Logger = logger
	coordinator := batch.New(store, testCtx.Recognizer, cfg)

	api, err := server.NewServer(server.Config{
		CORSOrigin:     "*",
		Patients:       testCtx.Patients,
		RateLimit:      testCtx.RateLimit,
		StreamInterval: 10 * time.Millisecond,
		Logger:         logger,
	}, coordinator)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	api.SetupRoutes(mux)

	testCtx.API = api
	testCtx.HTTPServer = httptest.NewServer(mux)
	testCtx.Client = client.New(testCtx.HTTPServer.URL)
	return nil
}

// Cleanup waits for running jobs and stops the server.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.HTTPServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := testCtx.API.Wait(ctx)
	testCtx.HTTPServer.Close()
	testCtx.HTTPServer = nil
	return err
}

// Do sends a request to the server and records the response.
func (testCtx *TestContext) Do(method, path string, body []byte) error {
	if err := testCtx.StartServer(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, testCtx.HTTPServer.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPHeaders = resp.Header
	testCtx.LastHTTPResponse, err = io.ReadAll(resp.Body)
	return err
}

// DoJSON marshals v and sends it.
func (testCtx *TestContext) DoJSON(method, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return testCtx.Do(method, path, data)
}

// DecodeResponse unmarshals the last response body.
func (testCtx *TestContext) DecodeResponse(v any) error {
	if err := json.Unmarshal(testCtx.LastHTTPResponse, v); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\n%s", err, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) responseText() string {
	return strings.TrimSpace(string(testCtx.LastHTTPResponse))
}
