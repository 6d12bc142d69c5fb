// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesAnalyzed counts frames that went through the frame pipeline.
	FramesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vqd_frames_analyzed_total",
		Help: "Total frames analyzed by the frame pipeline",
	})

	// DetectorDuration tracks per-detector wall time.
	DetectorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vqd_detector_duration_seconds",
		Help:    "Wall time per detector invocation",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"detector"})

	// DetectorFailures counts dropped detector invocations.
	DetectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vqd_detector_failures_total",
		Help: "Detector invocations dropped due to error or timeout",
	}, []string{"detector", "reason"})

	// AbnormalDiagnoses counts diagnoses by primary issue.
	AbnormalDiagnoses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vqd_abnormal_diagnoses_total",
		Help: "Abnormal diagnoses by primary issue type",
	}, []string{"issue"})

	// ActiveStreams gauges currently running stream ingestors.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vqd_active_streams",
		Help: "Stream ingestors currently running",
	})

	// StreamReconnects counts stream reconnect attempts.
	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vqd_stream_reconnects_total",
		Help: "Reconnect attempts across all stream ingestors",
	})

	// SchedulerRuns counts task executions by terminal status.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vqd_scheduler_runs_total",
		Help: "Scheduled task executions by status",
	}, []string{"status"})
)
