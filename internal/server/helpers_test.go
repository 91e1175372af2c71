package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// testEnv bundles a server wired to an in-memory store and a fake recognizer.
type testEnv struct {
	server *Server
	store  *jobs.Store
	mux    *http.ServeMux
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv builds a server; cfg fields left zero take test defaults.
func newTestEnv(t *testing.T, recognizer ocr.Recognizer, cfg Config) *testEnv {
	t.Helper()

	store := jobs.NewStore(jobs.WithLogger(quietLogger()))
	coord := batch.New(store, recognizer, batch.Config{
		OCRTimeout: 2 * time.Second,
		Logger:     quietLogger(),
	})
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.StreamInterval == 0 {
		cfg.StreamInterval = 10 * time.Millisecond
	}

	srv, err := NewServer(cfg, coord)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Wait(ctx)
	})
	return &testEnv{server: srv, store: store, mux: mux}
}

// do sends a request through the routed mux.
func (e *testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

// waitTerminal blocks until the job has finished.
func (e *testEnv) waitTerminal(t *testing.T, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := batch.Poll(ctx, e.store, id, 5*time.Millisecond, nil)
	require.NoError(t, err)
	return job
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}
