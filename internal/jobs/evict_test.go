package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEvictor_Schedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{name: "default", schedule: ""},
		{name: "descriptor", schedule: "@every 1m"},
		{name: "five fields", schedule: "*/5 * * * *"},
		{name: "garbage", schedule: "every now and then", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvictor(NewStore(), tt.schedule, time.Hour, quietLogger())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEvictor_RunOnce(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	work := items(1)
	id, _ := s.Create(work)
	_, err := s.AppendResult(id, okResult(work[0]))
	require.NoError(t, err)

	e, err := NewEvictor(s, "@every 1h", 30*time.Minute, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 0, e.RunOnce(context.Background()))
	clock.Advance(time.Hour)
	assert.Equal(t, 1, e.RunOnce(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestEvictor_DisabledRetention(t *testing.T) {
	s := NewStore()
	e, err := NewEvictor(s, "", 0, quietLogger())
	require.NoError(t, err)

	e.Start()
	defer e.Stop()
	assert.Equal(t, 0, e.RunOnce(context.Background()))
}

func TestEvictor_StartStop(t *testing.T) {
	e, err := NewEvictor(NewStore(), "@every 1h", time.Hour, quietLogger())
	require.NoError(t, err)
	e.Start()
	e.Stop()
}
