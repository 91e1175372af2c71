package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
	"github.com/MeKo-Tech/doseocr/internal/patients"
)

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().Format(time.RFC3339),
	})
}

// languagesHandler lists the OCR languages a submission may request.
func (s *Server) languagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := LanguagesResponse{Default: ocr.DefaultLanguage}
	for _, l := range ocr.Languages {
		resp.Languages = append(resp.Languages, LanguageInfo{Code: l.Code, Name: l.Name})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// patientsHandler proxies the imaging archive's patient list.
func (s *Server) patientsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		s.writeErrorResponse(w, "Patient archive not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	list, err := s.archive.ListPatients(r.Context(), patients.ListQuery{
		Modality:    q.Get("modality"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
		PatientID:   q.Get("patient_id"),
		PatientName: q.Get("patient_name"),
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, patients.ErrArchiveAuth) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("Patient list failed", "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("Patient list failed: %v", err), status)
		return
	}
	if list == nil {
		list = []patients.Patient{}
	}
	s.writeJSON(w, http.StatusOK, PatientsResponse{Success: true, Patients: list, Count: len(list)})
}

// readBody reads a request body bounded by the configured size limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return &batch.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var validation *batch.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobActive):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status derived from its type.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	s.writeErrorResponse(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log error, but can't send another response
		fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error:   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Log error, but can't send another response
		fmt.Fprintf(os.Stderr, "Error writing error response: %v\n", err)
	}
}
