package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := OpenSQLiteArchive(filepath.Join(t.TempDir(), "archive.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSQLiteArchive_SaveLoadDelete(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	finished := time.Date(2025, 12, 10, 10, 52, 53, 0, time.UTC)
	job := Job{
		ID:             "job-1",
		Status:         StatusCompleted,
		Total:          1,
		CompletedCount: 1,
		SuccessCount:   1,
		Results: []Result{{
			Item:    WorkItem{ImageRef: "cine-1", PatientID: "00012345"},
			Success: true,
			Text:    "39.7 Gy·cm2",
			Lines:   []ocr.Line{{Text: "39.7 Gy·cm2", Confidence: 0.92}},
		}},
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}
	require.NoError(t, a.Save(ctx, job))
	require.NoError(t, a.Save(ctx, job))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Results, got.Results)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	require.NoError(t, a.Delete(ctx, "job-1"))
	_, err = a.Load(ctx, "job-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, a.Delete(ctx, "job-1"), ErrNotFound)
}

func TestSQLiteArchive_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()

	a, err := OpenSQLiteArchive(path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, Job{ID: "keep", Status: StatusFailed, Total: 1, CreatedAt: time.Now()}))
	require.NoError(t, a.Close())

	b, err := OpenSQLiteArchive(path, quietLogger())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	job, err := b.Load(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestStore_WithSQLiteArchive(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now), WithArchive(openTestArchive(t)))
	ctx := context.Background()

	work := items(1)
	id, _ := s.Create(work)
	_, err := s.AppendResult(id, okResult(work[0]))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	n, err := s.Evict(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.SuccessCount)
}
