package batch

import (
	"context"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// DefaultPollInterval is the recommended interval between snapshot fetches.
const DefaultPollInterval = time.Second

// SnapshotFetcher returns the current snapshot of a job. It is implemented by
// the in-process job store and by the HTTP client.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, id string) (jobs.Job, error)
}

// Poll fetches the job immediately and then every interval until it reaches a
// terminal status, which it returns. onSnapshot, when non-nil, sees every
// snapshot including the last. Fetch errors such as jobs.ErrNotFound end the
// poll and are returned as-is.
func Poll(ctx context.Context, fetcher SnapshotFetcher, id string, interval time.Duration,
	onSnapshot func(jobs.Job)) (jobs.Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := fetcher.Snapshot(ctx, id)
		if err != nil {
			return jobs.Job{}, err
		}
		if onSnapshot != nil {
			onSnapshot(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
