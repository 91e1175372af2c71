package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, rec ocr.Recognizer, cfg Config) *Coordinator {
	t.Helper()
	cfg.Logger = quietLogger()
	return New(jobs.NewStore(jobs.WithLogger(quietLogger())), rec, cfg)
}

func waitFor(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestCoordinator_PartialFailuresComplete(t *testing.T) {
	rec := testutil.NewScriptedRecognizer(testutil.SampleReport).
		FailWith("cine-3", "image not found").
		ErrorOn("cine-7", errors.New("connection refused"))
	rec.Delay = 5 * time.Millisecond
	c := newTestCoordinator(t, rec, Config{})

	id, err := c.Submit(testutil.Items(10), Options{Concurrency: 4})
	require.NoError(t, err)
	waitFor(t, c)

	job, err := c.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 10, job.Total)
	assert.Equal(t, 10, job.CompletedCount)
	assert.Len(t, job.Results, 10)
	assert.Equal(t, 8, job.SuccessCount)
	assert.Equal(t, 2, job.FailureCount)
	assert.Nil(t, job.Current)
	assert.LessOrEqual(t, rec.MaxConcurrent(), 4)

	failures := map[string]string{}
	for _, r := range job.Results {
		assert.GreaterOrEqual(t, r.ProcessingTime, 0.0)
		if r.Success {
			assert.Equal(t, testutil.SampleReport, r.Text)
			assert.Empty(t, r.Error)
			continue
		}
		assert.Empty(t, r.Text)
		failures[r.Item.ImageRef] = r.Error
	}
	assert.Equal(t, "image not found", failures["cine-3"])
	assert.Contains(t, failures["cine-7"], "connection refused")
}

func TestCoordinator_AllFailuresFail(t *testing.T) {
	rec := ocr.RecognizerFunc(func(context.Context, string, ocr.Options) (*ocr.Recognition, error) {
		return nil, errors.New("service down")
	})
	c := newTestCoordinator(t, rec, Config{})

	id, err := c.Submit(testutil.Items(3), Options{Concurrency: 2})
	require.NoError(t, err)
	waitFor(t, c)

	job, _ := c.Store().Get(id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 3, job.FailureCount)
	assert.Len(t, job.Results, 3)
}

func TestCoordinator_Validation(t *testing.T) {
	c := newTestCoordinator(t, testutil.NewScriptedRecognizer("x"), Config{})

	tests := []struct {
		name  string
		items []jobs.WorkItem
		opts  Options
		field string
	}{
		{name: "empty batch", items: nil, field: "items"},
		{name: "missing reference", items: []jobs.WorkItem{{PatientID: "1"}}, field: "items[0].image_reference"},
		{name: "threshold above one", items: testutil.Items(1), opts: Options{ConfidenceThreshold: Threshold(1.5)}, field: "confidence_threshold"},
		{name: "negative threshold", items: testutil.Items(1), opts: Options{ConfidenceThreshold: Threshold(-0.1)}, field: "confidence_threshold"},
		{name: "unknown language", items: testutil.Items(1), opts: Options{Language: "klingon"}, field: "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(tt.items, tt.opts)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
	assert.Equal(t, 0, c.Store().Len())
}

func TestCoordinator_PassesOptions(t *testing.T) {
	var mu sync.Mutex
	var seen []ocr.Options
	rec := ocr.RecognizerFunc(func(_ context.Context, _ string, opts ocr.Options) (*ocr.Recognition, error) {
		mu.Lock()
		seen = append(seen, opts)
		mu.Unlock()
		return &ocr.Recognition{Success: true, Text: "ok"}, nil
	})
	c := newTestCoordinator(t, rec, Config{DefaultThreshold: 0.3})

	_, err := c.Submit(testutil.Items(1), Options{Language: "EN", ConfidenceThreshold: Threshold(0.5)})
	require.NoError(t, err)
	_, err = c.Submit(testutil.Items(1), Options{})
	require.NoError(t, err)
	waitFor(t, c)

	assert.ElementsMatch(t, []ocr.Options{
		{Language: "en", ConfidenceThreshold: 0.5},
		{Language: "korean", ConfidenceThreshold: 0.3},
	}, seen)
}

func TestCoordinator_ConcurrencyIsCapped(t *testing.T) {
	rec := testutil.NewScriptedRecognizer("ok")
	rec.Delay = 20 * time.Millisecond
	c := newTestCoordinator(t, rec, Config{MaxConcurrency: 2})

	id, err := c.Submit(testutil.Items(8), Options{Concurrency: 50})
	require.NoError(t, err)
	waitFor(t, c)

	job, _ := c.Store().Get(id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.LessOrEqual(t, rec.MaxConcurrent(), 2)
	assert.Len(t, rec.Calls(), 8)
}

func TestCoordinator_TimeoutIsItemFailure(t *testing.T) {
	rec := testutil.NewScriptedRecognizer("ok").HangOn("cine-1")
	c := newTestCoordinator(t, rec, Config{OCRTimeout: 50 * time.Millisecond})

	id, err := c.Submit(testutil.Items(3), Options{Concurrency: 3})
	require.NoError(t, err)
	waitFor(t, c)

	job, _ := c.Store().Get(id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.FailureCount)
	for _, r := range job.Results {
		if r.Item.ImageRef == "cine-1" {
			assert.Contains(t, r.Error, "timed out")
		}
	}
}

func TestCoordinator_TimeoutWhenRecognizerIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	rec := ocr.RecognizerFunc(func(context.Context, string, ocr.Options) (*ocr.Recognition, error) {
		<-release
		return &ocr.Recognition{Success: true}, nil
	})
	c := newTestCoordinator(t, rec, Config{OCRTimeout: 20 * time.Millisecond})

	id, err := c.Submit(testutil.Items(2), Options{Concurrency: 2})
	require.NoError(t, err)
	waitFor(t, c)

	job, _ := c.Store().Get(id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
}

func TestCoordinator_PanicAndNilAreFailures(t *testing.T) {
	rec := ocr.RecognizerFunc(func(_ context.Context, ref string, _ ocr.Options) (*ocr.Recognition, error) {
		switch ref {
		case "cine-0":
			panic("bad image")
		case "cine-1":
			return nil, nil //nolint:nilnil // exercising a misbehaving service
		default:
			return &ocr.Recognition{Success: false}, nil
		}
	})
	c := newTestCoordinator(t, rec, Config{})

	id, err := c.Submit(testutil.Items(3), Options{Concurrency: 1})
	require.NoError(t, err)
	waitFor(t, c)

	job, _ := c.Store().Get(id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	errs := map[string]string{}
	for _, r := range job.Results {
		errs[r.Item.ImageRef] = r.Error
	}
	assert.Contains(t, errs["cine-0"], "recognizer panic")
	assert.Contains(t, errs["cine-1"], "empty response")
	assert.Equal(t, "recognition failed", errs["cine-2"])
}

func TestCoordinator_SubmitDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	rec := ocr.RecognizerFunc(func(ctx context.Context, _ string, _ ocr.Options) (*ocr.Recognition, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &ocr.Recognition{Success: true, Text: "done"}, nil
	})
	c := newTestCoordinator(t, rec, Config{})

	id, err := c.Submit(testutil.Items(2), Options{})
	require.NoError(t, err)

	job, err := c.Store().Get(id)
	require.NoError(t, err)
	assert.False(t, job.Status.Terminal())
	assert.Equal(t, 0, job.CompletedCount)

	close(release)
	waitFor(t, c)
	job, _ = c.Store().Get(id)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
}

type recordingProgress struct {
	mu        sync.Mutex
	started   int
	progress  []int
	errors    int
	completed []jobs.Job
}

func (r *recordingProgress) OnStart(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = total
}

func (r *recordingProgress) OnProgress(completed, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, completed)
}

func (r *recordingProgress) OnItemError(jobs.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func (r *recordingProgress) OnComplete(job jobs.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, job)
}

func TestCoordinator_ReportsProgress(t *testing.T) {
	progress := &recordingProgress{}
	rec := testutil.NewScriptedRecognizer("ok").FailWith("cine-2", "blank image")
	c := newTestCoordinator(t, rec, Config{
		Progress: func(string) ProgressCallback { return progress },
	})

	_, err := c.Submit(testutil.Items(5), Options{Concurrency: 2})
	require.NoError(t, err)
	waitFor(t, c)

	assert.Equal(t, 5, progress.started)
	require.NotEmpty(t, progress.progress)
	assert.IsIncreasing(t, progress.progress)
	assert.Equal(t, 5, progress.progress[len(progress.progress)-1])
	assert.Equal(t, 1, progress.errors)
	require.Len(t, progress.completed, 1)
	assert.Equal(t, jobs.StatusCompleted, progress.completed[0].Status)
	assert.Nil(t, progress.completed[0].Results)
}

func TestCoordinator_WaitHonoursContext(t *testing.T) {
	rec := testutil.NewScriptedRecognizer("ok").HangOn("cine-0")
	c := newTestCoordinator(t, rec, Config{OCRTimeout: time.Second})

	_, err := c.Submit(testutil.Items(1), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	waitFor(t, c)
}
