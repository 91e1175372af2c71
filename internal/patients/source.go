// Package patients resolves optional patient metadata (gender, study date)
// used when building dose-report records.
package patients

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/doseocr/internal/extract"
)

// Source looks up metadata by patient id. A missing patient is not an error.
type Source interface {
	Lookup(ctx context.Context, patientID string) (extract.PatientMeta, bool, error)
}

// MemorySource is a concurrency-safe in-memory Source.
type MemorySource struct {
	mu   sync.RWMutex
	meta map[string]extract.PatientMeta
}

// NewMemorySource creates a source holding a copy of m.
func NewMemorySource(m map[string]extract.PatientMeta) *MemorySource {
	s := &MemorySource{meta: make(map[string]extract.PatientMeta, len(m))}
	for id, meta := range m {
		s.meta[strings.TrimSpace(id)] = meta
	}
	return s
}

// Put stores or replaces metadata for a patient.
func (s *MemorySource) Put(patientID string, meta extract.PatientMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[strings.TrimSpace(patientID)] = meta
}

// Lookup implements Source.
func (s *MemorySource) Lookup(_ context.Context, patientID string) (extract.PatientMeta, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[strings.TrimSpace(patientID)]
	return meta, ok, nil
}

// Len returns the number of patients held.
func (s *MemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meta)
}

type fileEntry struct {
	PatientID string `yaml:"patient_id"`
	Gender    string `yaml:"gender"`
	StudyDate string `yaml:"study_date"`
}

// LoadFile reads patient metadata from a YAML or JSON file. Both a mapping of
// patient id to metadata and a list of entries carrying patient_id are
// accepted.
func LoadFile(path string) (*MemorySource, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read patient file: %w", err)
	}

	var byID map[string]extract.PatientMeta
	if err := yaml.Unmarshal(data, &byID); err == nil {
		return NewMemorySource(byID), nil
	}

	var list []fileEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse patient file %s: %w", path, err)
	}
	src := NewMemorySource(nil)
	for i, e := range list {
		if strings.TrimSpace(e.PatientID) == "" {
			return nil, fmt.Errorf("patient file %s: entry %d has no patient_id", path, i)
		}
		src.Put(e.PatientID, extract.PatientMeta{Gender: e.Gender, StudyDate: e.StudyDate})
	}
	return src, nil
}

// Chain queries sources in order and returns the first hit. Errors from a
// source are collected and only returned when no source has the patient.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(ctx context.Context, patientID string) (extract.PatientMeta, bool, error) {
	var errs []error
	for _, s := range c {
		if s == nil {
			continue
		}
		meta, ok, err := s.Lookup(ctx, patientID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return meta, true, nil
		}
	}
	return extract.PatientMeta{}, false, errors.Join(errs...)
}

// Resolve looks up every id once and returns the hits. Lookup errors are
// joined; hits found before an error are still returned.
func Resolve(ctx context.Context, src Source, ids []string) (map[string]extract.PatientMeta, error) {
	out := make(map[string]extract.PatientMeta)
	if src == nil {
		return out, nil
	}
	var errs []error
	for _, id := range ids {
		if _, done := out[id]; done || id == "" {
			continue
		}
		meta, ok, err := src.Lookup(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("patient %s: %w", id, err))
			continue
		}
		if ok {
			out[id] = meta
		}
	}
	return out, errors.Join(errs...)
}
