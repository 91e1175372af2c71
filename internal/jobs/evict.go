package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultEvictSchedule runs eviction every ten minutes.
const DefaultEvictSchedule = "@every 10m"

// Evictor periodically drops finished jobs from a Store.
type Evictor struct {
	store     *Store
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
	timeout   time.Duration
}

// NewEvictor validates the schedule and prepares an evictor. A non-positive
// retention disables eviction entirely; Start then does nothing.
func NewEvictor(store *Store, schedule string, retention time.Duration, logger *slog.Logger) (*Evictor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultEvictSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid evict schedule %q: %w", schedule, err)
	}

	e := &Evictor{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		timeout:   time.Minute,
		cron:      cron.New(cron.WithParser(parser)),
	}
	if _, err := e.cron.AddFunc(schedule, func() { e.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule eviction: %w", err)
	}
	return e, nil
}

// Start begins running eviction on the schedule.
func (e *Evictor) Start() {
	if e.retention <= 0 {
		e.logger.Info("Job eviction disabled")
		return
	}
	e.logger.Info("Job eviction scheduled", "schedule", e.schedule, "retention", e.retention)
	e.cron.Start()
}

// Stop halts the scheduler and waits for a running eviction to finish.
func (e *Evictor) Stop() {
	<-e.cron.Stop().Done()
}

// RunOnce evicts expired jobs immediately and returns how many were removed.
func (e *Evictor) RunOnce(ctx context.Context) int {
	if e.retention <= 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	n, err := e.store.Evict(ctx, e.retention)
	if err != nil {
		e.logger.Warn("Job eviction incomplete", "evicted", n, "error", err)
	}
	if n > 0 {
		e.logger.Info("Evicted finished jobs", "count", n, "remaining", e.store.Len())
	}
	return n
}
