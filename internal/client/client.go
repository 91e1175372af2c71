// Package client talks to a running doseocr server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/server"
)

const maxBodyBytes = 64 << 20

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses back onto the store's sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return jobs.ErrNotFound
	case http.StatusConflict:
		return jobs.ErrJobActive
	}
	return nil
}

// Client is an HTTP client for the job API. It satisfies batch.SnapshotFetcher.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a batch job and returns its id.
func (c *Client) Submit(ctx context.Context, req server.SubmitJobRequest) (string, error) {
	var resp server.SubmitJobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Snapshot fetches the current state of a job, including results so far.
// An unknown id yields an error matching jobs.ErrNotFound.
func (c *Client) Snapshot(ctx context.Context, id string) (jobs.Job, error) {
	var resp server.JobResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return jobs.Job{}, err
	}
	return resp.Job, nil
}

// Poll waits for the job to finish, calling onSnapshot with every fetched snapshot.
func (c *Client) Poll(ctx context.Context, id string, interval time.Duration, onSnapshot func(jobs.Job)) (jobs.Job, error) {
	return batch.Poll(ctx, c, id, interval, onSnapshot)
}

// ListJobs returns job summaries, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]jobs.Job, error) {
	var resp server.JobListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// DeleteJob removes a finished job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

// Extract asks the server to build records for a stored job or posted results.
func (c *Client) Extract(ctx context.Context, req server.ExtractRequest) ([]extract.Record, error) {
	var resp server.ExtractResponse
	if err := c.doJSON(ctx, http.MethodPost, "/extract", req, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Export downloads a finished job's records rendered in format f.
func (c *Client) Export(ctx context.Context, f export.Format, jobID string) ([]byte, error) {
	if f == export.FormatJSON {
		records, err := c.Extract(ctx, server.ExtractRequest{JobID: jobID})
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := export.Write(&buf, f, records); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	path := "/export." + string(f) + "?job_id=" + url.QueryEscape(jobID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var resp server.HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// do sends a request and turns non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var payload server.ErrorResponse
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return nil, apiErr
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, jobs.ErrNotFound)
}
