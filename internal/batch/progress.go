package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// ProgressCallback receives progress of one batch job. Calls may come from
// several workers at once.
type ProgressCallback interface {
	// OnStart is called once when the job starts running.
	OnStart(total int)

	// OnProgress is called after every recorded result.
	OnProgress(completed, total int)

	// OnItemError is called for every failed item.
	OnItemError(item jobs.WorkItem, err error)

	// OnComplete is called with the terminal job summary.
	OnComplete(job jobs.Job)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                      {}
func (NoOpProgressCallback) OnProgress(int, int)              {}
func (NoOpProgressCallback) OnItemError(jobs.WorkItem, error) {}
func (NoOpProgressCallback) OnComplete(jobs.Job)              {}

// orderedProgress serializes OnProgress and drops counts at or below the
// highest one already delivered. Workers record results under the store lock
// but report afterwards, so their reports can arrive out of order.
type orderedProgress struct {
	ProgressCallback
	mu   sync.Mutex
	last int
}

func newOrderedProgress(cb ProgressCallback) *orderedProgress {
	return &orderedProgress{ProgressCallback: cb}
}

func (o *orderedProgress) OnProgress(completed, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if completed <= o.last {
		return
	}
	o.last = completed
	o.ProgressCallback.OnProgress(completed, total)
}

// ConsoleProgressCallback displays a progress bar on the console.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	lastUpdate     time.Time
	updateInterval time.Duration
	mutex          sync.Mutex
	startTime      time.Time
	showETA        bool
}

// NewConsoleProgressCallback creates a new console progress reporter.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
		showETA:        true,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

// WithUpdateInterval sets how frequently the progress bar updates.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

// WithETA toggles the remaining-time estimate.
func (c *ConsoleProgressCallback) WithETA(show bool) *ConsoleProgressCallback {
	c.showETA = show
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d (0.0%%)\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(completed, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && completed < total {
		return
	}
	c.lastUpdate = now
	c.drawProgressBar(completed, total, now)
}

func (c *ConsoleProgressCallback) OnItemError(item jobs.WorkItem, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%sFailed %s: %v\n", c.prefix, item.Label(), err)
}

func (c *ConsoleProgressCallback) OnComplete(job jobs.Job) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "\n%s%s in %v: %d succeeded, %d failed\n",
		c.prefix, job.Status, elapsed.Round(time.Millisecond), job.SuccessCount, job.FailureCount)
}

func (c *ConsoleProgressCallback) drawProgressBar(completed, total int, now time.Time) {
	if total == 0 {
		return
	}

	percent := float64(completed) / float64(total) * 100.0
	filled := c.width * completed / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d (%.1f%%)", c.prefix, bar, completed, total, percent)

	elapsed := now.Sub(c.startTime)
	if c.showETA && completed > 0 && completed < total && elapsed > 0 {
		eta := time.Duration(float64(elapsed) * float64(total-completed) / float64(completed))
		status += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}
	_, _ = fmt.Fprint(c.writer, status)
}

// LogProgressCallback logs progress updates using slog.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	interval  int
	mutex     sync.Mutex
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback creates a log-based progress reporter. Every
// attribute is logged alongside the given logger's own attributes, so pass a
// logger already carrying the job id.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{
		logger:   logger,
		level:    level,
		interval: 10,
	}
}

// WithInterval sets how frequently to log progress (every N items).
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	if interval > 0 {
		l.interval = interval
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mutex.Lock()
	l.startTime = time.Now()
	l.lastLog = 0
	l.mutex.Unlock()
	l.logger.Log(context.Background(), l.level, "Batch job started", "total", total)
}

func (l *LogProgressCallback) OnProgress(completed, total int) {
	l.mutex.Lock()
	if completed-l.lastLog < l.interval && completed != total {
		l.mutex.Unlock()
		return
	}
	l.lastLog = completed
	elapsed := time.Since(l.startTime)
	l.mutex.Unlock()

	l.logger.Log(context.Background(), l.level, "Batch progress",
		"completed", completed,
		"total", total,
		"percent", fmt.Sprintf("%.1f", float64(completed)/float64(total)*100.0),
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnItemError(item jobs.WorkItem, err error) {
	l.logger.Log(context.Background(), slog.LevelWarn, "Batch item failed",
		"item", item.Label(), "image_reference", item.ImageRef, "error", err)
}

func (l *LogProgressCallback) OnComplete(job jobs.Job) {
	l.mutex.Lock()
	elapsed := time.Since(l.startTime)
	l.mutex.Unlock()
	l.logger.Log(context.Background(), l.level, "Batch job completed",
		"status", job.Status,
		"succeeded", job.SuccessCount,
		"failed", job.FailureCount,
		"elapsed", elapsed.Round(time.Millisecond))
}

// MultiProgressCallback combines multiple progress callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback creates a progress callback that reports to multiple callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	return &MultiProgressCallback{callbacks: callbacks}
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnProgress(completed, total int) {
	for _, cb := range m.callbacks {
		cb.OnProgress(completed, total)
	}
}

func (m *MultiProgressCallback) OnItemError(item jobs.WorkItem, err error) {
	for _, cb := range m.callbacks {
		cb.OnItemError(item, err)
	}
}

func (m *MultiProgressCallback) OnComplete(job jobs.Job) {
	for _, cb := range m.callbacks {
		cb.OnComplete(job)
	}
}
