package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/server"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

func newTestServer(t *testing.T, rec *testutil.ScriptedRecognizer) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := jobs.NewStore(jobs.WithLogger(logger))
	coord := batch.New(store, rec, batch.Config{OCRTimeout: time.Second, Logger: logger})
	srv, err := server.NewServer(server.Config{Logger: logger, CORSOrigin: "*"}, coord)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Wait(ctx)
		ts.Close()
	})
	return New(ts.URL + "/")
}

func TestClient_SubmitPollExport(t *testing.T) {
	rec := testutil.NewScriptedRecognizer(testutil.SampleReport).FailWith("cine-2", "unreadable")
	c := newTestServer(t, rec)
	ctx := context.Background()

	id, err := c.Submit(ctx, server.SubmitJobRequest{Items: testutil.Items(5), Concurrency: 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var mu sync.Mutex
	var seen []int
	job, err := c.Poll(ctx, id, 5*time.Millisecond, func(j jobs.Job) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, j.CompletedCount)
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 4, job.SuccessCount)
	assert.Equal(t, 1, job.FailureCount)
	assert.Len(t, job.Results, 5)
	assert.Equal(t, 5, seen[len(seen)-1])

	list, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	csv, err := c.Export(ctx, export.FormatCSV, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), export.BOM))
	assert.Equal(t, 5, strings.Count(string(csv), "\r\n"))

	js, err := c.Export(ctx, export.FormatJSON, id)
	require.NoError(t, err)
	assert.Contains(t, string(js), `"dap": "39700"`)

	records, err := c.Extract(ctx, server.ExtractRequest{JobID: id})
	require.NoError(t, err)
	assert.Len(t, records, 4)

	require.NoError(t, c.DeleteJob(ctx, id))
	_, err = c.Snapshot(ctx, id)
	assert.True(t, IsNotFound(err))
}

func TestClient_Errors(t *testing.T) {
	c := newTestServer(t, testutil.NewScriptedRecognizer(""))
	ctx := context.Background()

	_, err := c.Snapshot(ctx, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	_, err = c.Poll(ctx, "missing", time.Millisecond, nil)
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	_, err = c.Submit(ctx, server.SubmitJobRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid")

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	_, err := c.Snapshot(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestAPIError_Unwrap(t *testing.T) {
	assert.ErrorIs(t, &APIError{StatusCode: http.StatusNotFound}, jobs.ErrNotFound)
	assert.ErrorIs(t, &APIError{StatusCode: http.StatusConflict}, jobs.ErrJobActive)
	assert.NoError(t, (&APIError{StatusCode: http.StatusTeapot}).Unwrap())
	assert.Equal(t, "server returned 500: boom", (&APIError{StatusCode: 500, Message: "boom"}).Error())
}
