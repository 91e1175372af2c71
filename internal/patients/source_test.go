package patients

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(map[string]extract.PatientMeta{" 00012345 ": {Gender: "M"}})
	src.Put("00067890", extract.PatientMeta{Gender: "F", StudyDate: "2025-12-10"})

	meta, ok, err := src.Lookup(context.Background(), "00012345")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "M", meta.Gender)

	_, ok, err = src.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, src.Len())
}

func TestLoadFile(t *testing.T) {
	dir := testutil.CreateTempDir(t)

	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{
			name: "yaml mapping",
			file: "patients.yaml",
			content: `"00012345":
  gender: 남
  study_date: "10:52:53 2025-12-10"
`,
		},
		{
			name: "yaml list",
			file: "list.yaml",
			content: `- patient_id: "00012345"
  gender: 남
  study_date: "10:52:53 2025-12-10"
`,
		},
		{
			name:    "json mapping",
			file:    "patients.json",
			content: `{"00012345": {"gender": "남", "study_date": "10:52:53 2025-12-10"}}`,
		},
		{
			name:    "list entry without id",
			file:    "bad.yaml",
			content: "- gender: M\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			file:    "broken.yaml",
			content: "{unclosed",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := LoadFile(testutil.WriteFile(t, dir, tt.file, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			meta, ok, err := src.Lookup(context.Background(), "00012345")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, extract.PatientMeta{Gender: "남", StudyDate: "10:52:53 2025-12-10"}, meta)
		})
	}

	_, err := LoadFile("/nonexistent/patients.yaml")
	require.Error(t, err)
}

type failingSource struct{ err error }

func (f failingSource) Lookup(context.Context, string) (extract.PatientMeta, bool, error) {
	return extract.PatientMeta{}, false, f.err
}

func TestChain(t *testing.T) {
	boom := errors.New("archive offline")
	first := NewMemorySource(map[string]extract.PatientMeta{"1": {Gender: "M"}})
	second := NewMemorySource(map[string]extract.PatientMeta{"1": {Gender: "F"}, "2": {Gender: "F"}})
	chain := Chain{first, failingSource{boom}, nil, second}
	ctx := context.Background()

	meta, ok, err := chain.Lookup(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "M", meta.Gender)

	meta, ok, err = chain.Lookup(ctx, "2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "F", meta.Gender)

	_, ok, err = chain.Lookup(ctx, "3")
	assert.False(t, ok)
	require.ErrorIs(t, err, boom)
}

func TestResolve(t *testing.T) {
	src := NewMemorySource(map[string]extract.PatientMeta{"1": {Gender: "M"}})

	got, err := Resolve(context.Background(), src, []string{"1", "1", "", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]extract.PatientMeta{"1": {Gender: "M"}}, got)

	got, err = Resolve(context.Background(), nil, []string{"1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Resolve(context.Background(), failingSource{errors.New("down")}, []string{"9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patient 9")
}
