// Package batch runs OCR over batches of work items with a bounded worker pool
// and reports progress through the job store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// Config holds coordinator-wide defaults and limits.
type Config struct {
	DefaultConcurrency int
	MaxConcurrency     int
	OCRTimeout         time.Duration
	DefaultLanguage    string
	DefaultThreshold   float64
	Logger             *slog.Logger

	// Progress, when set, builds a progress callback for each submitted job.
	Progress func(jobID string) ProgressCallback
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		DefaultConcurrency: 4,
		MaxConcurrency:     16,
		OCRTimeout:         60 * time.Second,
		DefaultLanguage:    ocr.DefaultLanguage,
		DefaultThreshold:   0.3,
	}
}

// Options are the per-submission OCR settings. Zero values take the
// coordinator defaults.
type Options struct {
	Concurrency         int      `json:"concurrency" yaml:"concurrency"`
	Language            string   `json:"language" yaml:"language"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
}

// Threshold is a convenience for building Options literals.
func Threshold(v float64) *float64 { return &v }

type resolvedOptions struct {
	concurrency int
	ocr         ocr.Options
}

// Coordinator turns submissions into jobs and drives their OCR work.
type Coordinator struct {
	store      *jobs.Store
	recognizer ocr.Recognizer
	cfg        Config
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New creates a coordinator. Unset concurrency and language fields take
// DefaultConfig values.
func New(store *jobs.Store, recognizer ocr.Recognizer, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = def.DefaultConcurrency
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.DefaultConcurrency > cfg.MaxConcurrency {
		cfg.DefaultConcurrency = cfg.MaxConcurrency
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	if cfg.DefaultThreshold < 0 || cfg.DefaultThreshold > 1 {
		cfg.DefaultThreshold = def.DefaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		recognizer: recognizer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Store returns the job store the coordinator writes to.
func (c *Coordinator) Store() *jobs.Store { return c.store }

func (c *Coordinator) resolve(items []jobs.WorkItem, opts Options) (resolvedOptions, error) {
	if len(items) == 0 {
		return resolvedOptions{}, &ValidationError{Field: "items", Reason: "at least one work item is required"}
	}
	for i, item := range items {
		if item.ImageRef == "" {
			return resolvedOptions{}, &ValidationError{
				Field:  fmt.Sprintf("items[%d].image_reference", i),
				Reason: "must not be empty",
			}
		}
	}

	r := resolvedOptions{concurrency: opts.Concurrency}
	if r.concurrency <= 0 {
		r.concurrency = c.cfg.DefaultConcurrency
	}
	if r.concurrency > c.cfg.MaxConcurrency {
		r.concurrency = c.cfg.MaxConcurrency
	}

	r.ocr.Language = opts.Language
	if r.ocr.Language == "" {
		r.ocr.Language = c.cfg.DefaultLanguage
	}
	lang, ok := ocr.LookupLanguage(r.ocr.Language)
	if !ok {
		return resolvedOptions{}, &ValidationError{
			Field:  "language",
			Reason: fmt.Sprintf("unsupported language %q", r.ocr.Language),
		}
	}
	r.ocr.Language = lang.Code

	r.ocr.ConfidenceThreshold = c.cfg.DefaultThreshold
	if opts.ConfidenceThreshold != nil {
		v := *opts.ConfidenceThreshold
		if v < 0 || v > 1 {
			return resolvedOptions{}, &ValidationError{
				Field:  "confidence_threshold",
				Reason: "must be between 0 and 1",
			}
		}
		r.ocr.ConfidenceThreshold = v
	}
	return r, nil
}

// Submit validates the batch, creates its job and returns the job id. OCR runs
// in the background; the caller is never blocked beyond job creation.
func (c *Coordinator) Submit(items []jobs.WorkItem, opts Options) (string, error) {
	resolved, err := c.resolve(items, opts)
	if err != nil {
		return "", err
	}

	work := append([]jobs.WorkItem(nil), items...)
	id, err := c.store.Create(work)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	jobsSubmitted.Inc()
	c.logger.Info("Batch job submitted",
		"job_id", id,
		"items", len(work),
		"concurrency", resolved.concurrency,
		"language", resolved.ocr.Language)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(id, work, resolved)
	}()
	return id, nil
}

// Wait blocks until every submitted job has finished or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) progressFor(id string) ProgressCallback {
	if c.cfg.Progress == nil {
		return NoOpProgressCallback{}
	}
	if cb := c.cfg.Progress(id); cb != nil {
		return cb
	}
	return NoOpProgressCallback{}
}

func (c *Coordinator) run(id string, items []jobs.WorkItem, opts resolvedOptions) {
	activeJobs.Inc()
	defer activeJobs.Dec()

	if err := c.store.SetStatus(id, jobs.StatusRunning); err != nil {
		c.logger.Error("Failed to start job", "job_id", id, "error", err)
		return
	}

	progress := newOrderedProgress(c.progressFor(id))
	progress.OnStart(len(items))

	queue := make(chan jobs.WorkItem, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	workers := min(opts.concurrency, len(items))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(id, queue, opts, progress)
		}()
	}
	wg.Wait()

	final, err := c.store.Get(id)
	if err != nil {
		c.logger.Error("Finished job disappeared", "job_id", id, "error", err)
		return
	}
	summary := final.Summary()
	jobsFinished.WithLabelValues(string(summary.Status)).Inc()
	progress.OnComplete(summary)
	c.logger.Info("Batch job finished",
		"job_id", id,
		"status", summary.Status,
		"succeeded", summary.SuccessCount,
		"failed", summary.FailureCount)
}

func (c *Coordinator) worker(id string, queue <-chan jobs.WorkItem, opts resolvedOptions, progress ProgressCallback) {
	for item := range queue {
		if err := c.store.Start(id, item); err != nil {
			c.logger.Warn("Failed to mark item in flight", "job_id", id, "item", item.Label(), "error", err)
		}

		result := c.process(item, opts.ocr)

		summary, err := c.store.AppendResult(id, result)
		if err != nil {
			c.logger.Error("Failed to record result", "job_id", id, "item", item.Label(), "error", err)
			continue
		}
		if !result.Success {
			progress.OnItemError(item, errors.New(result.Error))
		}
		progress.OnProgress(summary.CompletedCount, summary.Total)
	}
}

// process runs one OCR call and always produces a result; failures of any kind
// become a failed result.
func (c *Coordinator) process(item jobs.WorkItem, opts ocr.Options) jobs.Result {
	start := time.Now()
	rec, err := c.recognize(item, opts)
	elapsed := time.Since(start).Seconds()
	ocrCallDuration.Observe(elapsed)

	result := jobs.Result{Item: item, ProcessingTime: elapsed}
	switch {
	case err != nil:
		result.Error = err.Error()
	case rec == nil:
		result.Error = (&ocr.ServiceError{ImageRef: item.ImageRef, Err: errors.New("empty response")}).Error()
	case !rec.Success:
		result.Error = rec.Error
		if result.Error == "" {
			result.Error = "recognition failed"
		}
	default:
		result.Success = true
		result.Text = rec.Text
		result.Lines = rec.Lines
		if result.Lines == nil {
			result.Lines = []ocr.Line{}
		}
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
		c.logger.Warn("OCR failed", "item", item.Label(), "image_reference", item.ImageRef, "error", result.Error)
	}
	itemsProcessed.WithLabelValues(outcome).Inc()
	return result
}

type recognizeOutcome struct {
	rec *ocr.Recognition
	err error
}

// recognize bounds the call by the configured timeout even when the
// recognizer ignores its context, and turns panics into errors.
func (c *Coordinator) recognize(item jobs.WorkItem, opts ocr.Options) (*ocr.Recognition, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.OCRTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.cfg.OCRTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	done := make(chan recognizeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- recognizeOutcome{err: fmt.Errorf("recognizer panic: %v", r)}
			}
		}()
		rec, err := c.recognizer.Recognize(ctx, item.ImageRef, opts)
		done <- recognizeOutcome{rec: rec, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, asServiceError(item, out.err)
		}
		return out.rec, nil
	case <-ctx.Done():
		return nil, &ocr.ServiceError{
			ImageRef: item.ImageRef,
			Err:      fmt.Errorf("ocr call timed out after %s: %w", c.cfg.OCRTimeout, ctx.Err()),
		}
	}
}

func asServiceError(item jobs.WorkItem, err error) error {
	var svcErr *ocr.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &ocr.ServiceError{ImageRef: item.ImageRef, Err: err}
}
