package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
)

// extractHandler runs the field extractor over OCR results, either posted
// directly or taken from a stored job.
func (s *Server) extractHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExtractRequest
	if err := s.readBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	results := req.Results
	if req.JobID != "" {
		job, err := s.store.Snapshot(r.Context(), req.JobID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		results = job.Results
	} else if len(results) == 0 {
		s.writeError(w, &batch.ValidationError{Field: "results", Reason: "provide results or job_id"})
		return
	}

	records := s.records(r.Context(), results, req.Patients, req.ReferenceDate)
	recordsExtracted.Add(float64(len(records)))
	s.writeJSON(w, http.StatusOK, ExtractResponse{Success: true, Records: records, Count: len(records)})
}

// exportHandler serializes records in the format named by the route suffix.
// Records come from the request body or, with ?job_id=, from a stored job.
func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format, err := export.ParseFormat(strings.TrimPrefix(path.Ext(r.URL.Path), "."))
	if err != nil {
		s.writeError(w, &batch.ValidationError{Field: "format", Reason: err.Error()})
		return
	}

	jobID := r.URL.Query().Get("job_id")
	var records []extract.Record
	switch {
	case jobID != "":
		job, err := s.store.Snapshot(r.Context(), jobID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		records = s.records(r.Context(), job.Results, nil, "")
	case r.Method == http.MethodPost:
		var req ExportRequest
		if err := s.readBody(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		records = req.Records
	default:
		s.writeError(w, &batch.ValidationError{Field: "job_id", Reason: "required for GET exports"})
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		s.writeError(w, fmt.Errorf("export %s: %w", format, err))
		return
	}
	exportsTotal.WithLabelValues(string(format)).Inc()

	name := "dose_report_" + time.Now().Format("20060102")
	if jobID != "" {
		name = "dose_report_" + jobID
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("Failed to write export", "format", format, "error", err)
	}
}

// records extracts one record per successful result. Metadata passed with
// the request wins over metadata stored with the submission or found in the
// configured patient sources.
func (s *Server) records(ctx context.Context, results []jobs.Result, meta map[string]extract.PatientMeta,
	referenceDate string) []extract.Record {
	if referenceDate == "" {
		referenceDate = s.referenceDate
	}
	ex := extract.New(extract.WithReferenceDate(referenceDate))

	var missing []string
	for _, r := range results {
		if _, ok := meta[r.Item.PatientID]; r.Success && !ok && r.Item.PatientID != "" {
			missing = append(missing, r.Item.PatientID)
		}
	}
	resolved, err := patients.Resolve(ctx, s.patients, missing)
	if err != nil {
		// Metadata is optional; records fall back to empty gender and date.
		s.logger.Warn("Patient metadata lookup failed", "error", err)
	}
	for id, m := range meta {
		resolved[id] = m
	}
	return export.Records(results, ex, export.MetaMap(resolved))
}
