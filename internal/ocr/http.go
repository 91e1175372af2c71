package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 16 << 20

// HTTPRecognizer calls a remote OCR service over HTTP.
type HTTPRecognizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	clean    CleanOptions
}

// HTTPOption configures an HTTPRecognizer.
type HTTPOption func(*HTTPRecognizer)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(r *HTTPRecognizer) { r.apiKey = key }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(r *HTTPRecognizer) {
		if c != nil {
			r.client = c
		}
	}
}

// NewHTTPRecognizer creates a recognizer posting to endpoint.
func NewHTTPRecognizer(endpoint string, opts ...HTTPOption) *HTTPRecognizer {
	r := &HTTPRecognizer{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 2 * time.Minute},
		clean:    DefaultCleanOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type recognizeRequest struct {
	ImageReference      string  `json:"image_reference"`
	Language            string  `json:"language"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Recognize sends one recognition request. Transport failures and non-2xx
// responses are returned as *ServiceError; an explicit success=false response
// is returned as-is.
func (r *HTTPRecognizer) Recognize(ctx context.Context, imageRef string, opts Options) (*Recognition, error) {
	body, err := json.Marshal(recognizeRequest{
		ImageReference:      imageRef,
		Language:            opts.Language,
		ConfidenceThreshold: opts.ConfidenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{ImageRef: imageRef, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &ServiceError{ImageRef: imageRef, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ServiceError{ImageRef: imageRef, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{ImageRef: imageRef, StatusCode: resp.StatusCode, Err: errorFromBody(data)}
	}

	var rec Recognition
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &ServiceError{ImageRef: imageRef, StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response: %w", err)}
	}
	if !rec.Success {
		return &rec, nil
	}

	rec.Lines = FilterLines(rec.Lines, opts.ConfidenceThreshold, r.clean)
	if rec.Text == "" {
		rec.Text = JoinLines(rec.Lines)
	}
	return &rec, nil
}

func errorFromBody(data []byte) error {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
		if payload.Detail != "" {
			return errors.New(payload.Detail)
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return errors.New(msg)
}
