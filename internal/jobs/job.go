// Package jobs holds the registry of batch OCR jobs.
package jobs

import (
	"strings"
	"time"

	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WorkItem is one unit of OCR work. It is immutable once submitted.
type WorkItem struct {
	ImageRef    string `json:"image_reference" yaml:"image_reference"`
	PatientID   string `json:"patient_id" yaml:"patient_id"`
	PatientName string `json:"patient_name,omitempty" yaml:"patient_name,omitempty"`
}

// Label is the display text used for the job's current item.
func (w WorkItem) Label() string {
	label := strings.TrimSpace(w.PatientID + " " + w.PatientName)
	if w.PatientID == "" || label == "" {
		return w.ImageRef
	}
	return label
}

// Result is the outcome of one OCR call.
type Result struct {
	Item           WorkItem   `json:"work_item"`
	Success        bool       `json:"success"`
	Text           string     `json:"text,omitempty"`
	Lines          []ocr.Line `json:"lines,omitempty"`
	Error          string     `json:"error,omitempty"`
	ProcessingTime float64    `json:"processing_time"`
}

// Job is a snapshot of a batch job.
type Job struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	Total          int        `json:"total"`
	CompletedCount int        `json:"completed_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	Current        *string    `json:"current"`
	Results        []Result   `json:"results"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Summary drops the per-item results, for listings.
func (j Job) Summary() Job {
	j.Results = nil
	return j
}

// Successful returns the results that carry recognized text.
func (j Job) Successful() []Result {
	out := make([]Result, 0, j.SuccessCount)
	for _, r := range j.Results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// summary copies the job without its results.
func (j *Job) summary() Job {
	c := *j
	c.Results = nil
	if j.Current != nil {
		cur := *j.Current
		c.Current = &cur
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// clone copies everything a caller could mutate.
func (j *Job) clone() Job {
	c := j.summary()
	c.Results = make([]Result, len(j.Results))
	for i, r := range j.Results {
		if r.Lines != nil {
			r.Lines = append([]ocr.Line(nil), r.Lines...)
		}
		c.Results[i] = r
	}
	return c
}
