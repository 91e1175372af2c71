package batch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/doseocr/internal/testutil"
)

func TestLoadManifest_YAML(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	testutil.WriteFile(t, dir, "reports/00011111_KIM.png", "x")
	path := testutil.WriteFile(t, dir, "batch.yaml", `
concurrency: 2
language: en
confidence_threshold: 0.5
reference_date: "2025-12-10"
items:
  - image_reference: cine-67170
    patient_id: "00012345"
    patient_name: HONG GILDONG
patients:
  "00012345":
    gender: 남
    study_date: "10:52:53 2025-12-10"
sources:
  - reports
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Concurrency)
	assert.Equal(t, "en", m.Language)
	require.NotNil(t, m.ConfidenceThreshold)
	assert.InDelta(t, 0.5, *m.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "2025-12-10", m.ReferenceDate)
	assert.Equal(t, "남", m.Patients["00012345"].Gender)
	assert.Equal(t, []string{filepath.Join(dir, "reports")}, m.Sources)

	items, err := m.WorkItems()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "cine-67170", items[0].ImageRef)
	assert.Equal(t, "00011111", items[1].PatientID)
	assert.Equal(t, "KIM", items[1].PatientName)
}

func TestLoadManifest_JSON(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := testutil.WriteFile(t, dir, "batch.json",
		`{"concurrency": 4, "items": [{"image_reference": "cine-1", "patient_id": "1"}]}`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Concurrency)
	assert.Nil(t, m.ConfidenceThreshold)

	items, err := m.WorkItems()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestLoadManifest_Errors(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	dir := testutil.CreateTempDir(t)
	bad := testutil.WriteFile(t, dir, "bad.yaml", "items: [unclosed")
	_, err = LoadManifest(bad)
	require.Error(t, err)

	empty := testutil.WriteFile(t, dir, "empty.yaml", "concurrency: 1\n")
	m, err := LoadManifest(empty)
	require.NoError(t, err)
	_, err = m.WorkItems()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}
