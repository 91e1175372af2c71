package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// jobsHandler serves the job collection: GET lists, POST submits.
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobsHandler(w, r)
	case http.MethodPost:
		s.rateLimitMiddleware(s.submitJobHandler)(w, r)
	default:
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// jobHandler serves a single job: GET returns its snapshot, DELETE removes it.
func (s *Server) jobHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getJobHandler(w, r)
	case http.MethodDelete:
		s.deleteJobHandler(w, r)
	default:
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// submitJobHandler validates a batch and hands it to the coordinator. The
// response is sent as soon as the job exists; OCR runs in the background.
func (s *Server) submitJobHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(len(body)))

	if err := s.validateJobRequest(body); err != nil {
		jobRequestsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, err)
		return
	}

	var req SubmitJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		jobRequestsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, &batch.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	id, err := s.coordinator.Submit(req.Items, batch.Options{
		Concurrency:         req.Concurrency,
		Language:            req.Language,
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		jobRequestsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, err)
		return
	}
	for patientID, meta := range req.Patients {
		s.submitted.Put(patientID, meta)
	}
	jobRequestsTotal.WithLabelValues("accepted").Inc()

	s.writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		Success: true,
		JobID:   id,
		Message: fmt.Sprintf("Batch job started for %d items", len(req.Items)),
	})
}

func (s *Server) listJobsHandler(w http.ResponseWriter, _ *http.Request) {
	list := s.store.List()
	s.writeJSON(w, http.StatusOK, JobListResponse{Success: true, Jobs: list, Count: len(list)})
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, JobResponse{Success: true, Job: job})
}

func (s *Server) deleteJobHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, jobs.ErrJobActive) {
			s.writeErrorResponse(w, "Job is still running", http.StatusConflict)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job deleted"})
}

// Wait blocks until every job submitted through the server has finished.
func (s *Server) Wait(ctx context.Context) error {
	return s.coordinator.Wait(ctx)
}
