// Package metrics exposes Prometheus collectors for the scan service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanPagesTotal       *prometheus.CounterVec
	scanDurationSeconds  prometheus.Histogram
	scanJobsTotal        *prometheus.CounterVec
	quotaRejectionsTotal *prometheus.CounterVec
	teasersTotal         *prometheus.CounterVec
	activeScans          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a11y_scan_pages_total",
				Help: "Total number of pages scanned, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scanDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "a11y_scan_duration_seconds",
				Help:    "Histogram of whole-scan wall-clock durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		scanJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a11y_scan_jobs_total",
				Help: "Total number of async scan jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		quotaRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a11y_quota_rejections_total",
				Help: "Total admission rejections, labeled by tier and reason.",
			},
			[]string{"tier", "reason"},
		)

		teasersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a11y_teasers_total",
				Help: "Total teaser generation attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "a11y_active_scans",
				Help: "Number of scans currently in flight.",
			},
		)
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one scanned page by outcome ("ok" or "failed").
func ObservePage(outcome string) {
	if scanPagesTotal != nil {
		scanPagesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveScanDuration records the wall-clock duration of a whole scan.
func ObserveScanDuration(d time.Duration) {
	if scanDurationSeconds != nil {
		scanDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveJob counts one processed job by terminal status.
func ObserveJob(status string) {
	if scanJobsTotal != nil {
		scanJobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveQuotaRejection counts one admission rejection.
func ObserveQuotaRejection(tier, reason string) {
	if quotaRejectionsTotal != nil {
		quotaRejectionsTotal.WithLabelValues(tier, reason).Inc()
	}
}

// ObserveTeaser counts one teaser attempt by outcome ("generated",
// "skipped" or "upload_failed").
func ObserveTeaser(outcome string) {
	if teasersTotal != nil {
		teasersTotal.WithLabelValues(outcome).Inc()
	}
}

// ScanStarted increments the in-flight scan gauge.
func ScanStarted() {
	if activeScans != nil {
		activeScans.Inc()
	}
}

// ScanFinished decrements the in-flight scan gauge.
func ScanFinished() {
	if activeScans != nil {
		activeScans.Dec()
	}
}
