package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// Manifest describes a batch for the CLI. JSON manifests parse too, since
// JSON is valid YAML.
type Manifest struct {
	Options       `yaml:",inline"`
	ReferenceDate string                         `yaml:"reference_date"`
	Items         []jobs.WorkItem                `yaml:"items"`
	Patients      map[string]extract.PatientMeta `yaml:"patients"`

	// Sources are report files or directories turned into items by file name.
	Sources   []string `yaml:"sources"`
	Recursive bool     `yaml:"recursive"`
	Include   []string `yaml:"include"`
	Exclude   []string `yaml:"exclude"`
}

// LoadManifest reads a YAML or JSON manifest. Relative source paths are
// resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifest path is user input by design
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, src := range m.Sources {
		if !filepath.IsAbs(src) {
			m.Sources[i] = filepath.Join(base, src)
		}
	}
	return &m, nil
}

// WorkItems returns the explicit items followed by the discovered ones.
func (m *Manifest) WorkItems() ([]jobs.WorkItem, error) {
	items := append([]jobs.WorkItem(nil), m.Items...)
	if len(m.Sources) > 0 {
		found, err := DiscoverItems(m.Sources, m.Recursive, m.Include, m.Exclude)
		if err != nil {
			return nil, fmt.Errorf("failed to discover report files: %w", err)
		}
		items = append(items, found...)
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "manifest lists no items or report files"}
	}
	return items, nil
}
