package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrEmptyBatch is returned when a job is created without work items.
	ErrEmptyBatch = errors.New("batch has no work items")
	// ErrJobComplete is returned when a result is appended to a finished job.
	ErrJobComplete = errors.New("job already has all results")
	// ErrInvalidTransition is returned for status changes that would regress a job.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobActive is returned when deleting a job that has not finished.
	ErrJobActive = errors.New("job is still active")
)

// Archive persists finished job snapshots beyond the in-memory store.
type Archive interface {
	Save(ctx context.Context, job Job) error
	Load(ctx context.Context, id string) (Job, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type entry struct {
	mu       sync.Mutex
	job      Job
	inFlight []WorkItem
}

// Store is a concurrency-safe, process-lifetime registry of jobs. Mutations of
// one job are serialized by that job's lock.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	archive Archive
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithArchive makes finished jobs survive eviction.
func WithArchive(a Archive) StoreOption {
	return func(s *Store) { s.archive = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:   make(map[string]*entry),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a pending job for the given items and returns its id.
func (s *Store) Create(items []WorkItem) (string, error) {
	if len(items) == 0 {
		return "", ErrEmptyBatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for _, exists := s.jobs[id]; exists; _, exists = s.jobs[id] {
		id = s.newID()
	}
	s.jobs[id] = &entry{
		job: Job{
			ID:        id,
			Status:    StatusPending,
			Total:     len(items),
			Results:   make([]Result, 0, len(items)),
			CreatedAt: s.now(),
		},
	}
	return id, nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a consistent deep copy of the job.
func (s *Store) Get(id string) (Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), nil
}

// Snapshot is Get with a fallback to the archive for evicted jobs.
func (s *Store) Snapshot(ctx context.Context, id string) (Job, error) {
	job, err := s.Get(id)
	if err == nil || !errors.Is(err, ErrNotFound) || s.archive == nil {
		return job, err
	}
	return s.archive.Load(ctx, id)
}

// SetStatus moves a job forward. Terminal states are only accepted once every
// result is in; AppendResult normally performs that transition itself.
func (s *Store) SetStatus(id string, status Status) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.job.Status
	if from == status {
		return nil
	}
	switch {
	case from == StatusPending && status == StatusRunning:
		now := s.now()
		e.job.StartedAt = &now
	case from == StatusRunning && status.Terminal() && e.job.CompletedCount == e.job.Total:
		now := s.now()
		e.job.FinishedAt = &now
		e.job.Current = nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}
	e.job.Status = status
	return nil
}

// Start records that a worker picked up item; it becomes the job's current item.
func (s *Store) Start(id string, item WorkItem) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.Terminal() {
		return ErrJobComplete
	}
	e.inFlight = append(e.inFlight, item)
	label := item.Label()
	e.job.Current = &label
	return nil
}

// AppendResult atomically appends a result, advances the counters and, when
// the last result arrives, moves the job to completed, or to failed if every
// item failed. It returns a summary of the updated job.
func (s *Store) AppendResult(id string, r Result) (Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	j := &e.job
	if j.Status.Terminal() || j.CompletedCount >= j.Total {
		return Job{}, ErrJobComplete
	}
	if j.Status == StatusPending {
		now := s.now()
		j.StartedAt = &now
		j.Status = StatusRunning
	}

	j.Results = append(j.Results, r)
	j.CompletedCount++
	if r.Success {
		j.SuccessCount++
	} else {
		j.FailureCount++
	}

	e.finishItem(r.Item)

	if j.CompletedCount == j.Total {
		now := s.now()
		j.FinishedAt = &now
		j.Current = nil
		if j.FailureCount == j.Total {
			j.Status = StatusFailed
		} else {
			j.Status = StatusCompleted
		}
	}
	return j.summary(), nil
}

// finishItem drops item from the in-flight list and points current at the
// most recently started item still running.
func (e *entry) finishItem(item WorkItem) {
	for i, w := range e.inFlight {
		if w == item {
			e.inFlight = append(e.inFlight[:i], e.inFlight[i+1:]...)
			break
		}
	}
	if n := len(e.inFlight); n > 0 {
		label := e.inFlight[n-1].Label()
		e.job.Current = &label
		return
	}
	e.job.Current = nil
}

// List returns summaries of all jobs, newest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.job.summary())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a finished job from memory and from the archive.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if ok {
		e.mu.Lock()
		active := !e.job.Status.Terminal()
		e.mu.Unlock()
		if active {
			s.mu.Unlock()
			return ErrJobActive
		}
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if s.archive == nil {
		if !ok {
			return ErrNotFound
		}
		return nil
	}
	err := s.archive.Delete(ctx, id)
	if ok && errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Evict removes finished jobs older than retention, archiving them first when
// an archive is configured. Jobs that fail to archive stay in memory.
func (s *Store) Evict(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	s.mu.RLock()
	var candidates []*entry
	for _, e := range s.jobs {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	var errs []error
	evicted := 0
	for _, e := range candidates {
		e.mu.Lock()
		expired := e.job.Status.Terminal() && e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff)
		snapshot := e.job.clone()
		e.mu.Unlock()
		if !expired {
			continue
		}

		if s.archive != nil {
			if err := s.archive.Save(ctx, snapshot); err != nil {
				errs = append(errs, fmt.Errorf("archive job %s: %w", snapshot.ID, err))
				continue
			}
		}

		s.mu.Lock()
		delete(s.jobs, snapshot.ID)
		s.mu.Unlock()
		evicted++
		s.logger.Debug("Evicted job", "job_id", snapshot.ID, "status", snapshot.Status)
	}
	return evicted, errors.Join(errs...)
}

// Len returns the number of jobs held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
