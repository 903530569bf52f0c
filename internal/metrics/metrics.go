// Package metrics provides the Prometheus collectors for the scan pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload results.
const (
	UploadAccepted = "accepted"
	UploadRejected = "rejected"
	UploadError    = "error"
)

// Detection outcomes.
const (
	DetectionCompleted = "completed"
	DetectionFailed    = "failed"
	DetectionDuplicate = "duplicate"
	DetectionRetry     = "retry"
)

// ScanMetrics contains the counters and histograms for intake, detection and
// status reads. A nil *ScanMetrics is valid and records nothing.
type ScanMetrics struct {
	Uploads           *prometheus.CounterVec
	Detections        *prometheus.CounterVec
	DetectionDuration prometheus.Histogram
	CatsFound         prometheus.Counter
	StatusReads       *prometheus.CounterVec
}

// NewScanMetrics creates the collectors and registers them with registry.
func NewScanMetrics(registry prometheus.Registerer) (*ScanMetrics, error) {
	m := &ScanMetrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catscan_uploads_total",
			Help: "Upload requests by result.",
		}, []string{"variant", "result"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catscan_detections_total",
			Help: "Detection handler invocations by outcome.",
		}, []string{"outcome"}),
		DetectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catscan_detection_duration_seconds",
			Help:    "Time spent calling the label detector.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		CatsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catscan_cats_found_total",
			Help: "Completed scans that contained at least one cat.",
		}),
		StatusReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catscan_status_reads_total",
			Help: "Status lookups by projected status.",
		}, []string{"status"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register scan metrics: %w", err)
	}
	return m, nil
}

// ObserveUpload counts one upload request.
func (m *ScanMetrics) ObserveUpload(variant, result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(variant, result).Inc()
}

// ObserveDetection counts one detection invocation.
func (m *ScanMetrics) ObserveDetection(outcome string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(outcome).Inc()
}

// ObserveDetectionDuration records a label detector call in seconds.
func (m *ScanMetrics) ObserveDetectionDuration(seconds float64) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(seconds)
}

// IncrementCatsFound counts a completed scan with cats.
func (m *ScanMetrics) IncrementCatsFound() {
	if m == nil {
		return
	}
	m.CatsFound.Inc()
}

// ObserveStatusRead counts one status lookup.
func (m *ScanMetrics) ObserveStatusRead(status string) {
	if m == nil {
		return
	}
	m.StatusReads.WithLabelValues(status).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ScanMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Uploads.Collect(ch)
	m.Detections.Collect(ch)
	ch <- m.DetectionDuration
	ch <- m.CatsFound
	m.StatusReads.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *ScanMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Uploads.Describe(ch)
	m.Detections.Describe(ch)
	ch <- m.DetectionDuration.Desc()
	ch <- m.CatsFound.Desc()
	m.StatusReads.Describe(ch)
}
