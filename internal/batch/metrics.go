package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doseocr_batch_jobs_submitted_total",
			Help: "Total number of batch jobs submitted",
		},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doseocr_batch_jobs_finished_total",
			Help: "Total number of batch jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doseocr_batch_items_total",
			Help: "Total number of work items processed",
		},
		[]string{"outcome"},
	)

	ocrCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doseocr_ocr_call_duration_seconds",
			Help:    "Duration of external OCR calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doseocr_batch_active_jobs",
			Help: "Number of batch jobs currently running",
		},
	)
)
