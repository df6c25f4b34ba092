// Package telemetry exposes Prometheus metrics for the ingestion pipeline.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	noticesSeenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_notices_seen_total",
			Help: "Total number of raw notices returned by search pages.",
		},
	)

	noticesInsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_notices_inserted_total",
			Help: "Total number of new notices persisted.",
		},
	)

	searchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_search_failures_total",
			Help: "Total number of failed search page fetches, labeled by document type.",
		},
		[]string{"document_type"},
	)

	childFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_child_fetch_failures_total",
			Help: "Total number of failed sub-resource fetches, labeled by resource.",
		},
		[]string{"resource"},
	)

	conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_conversions_total",
			Help: "Total number of document conversions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	backfillRepairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_backfill_repairs_total",
			Help: "Total number of notices repaired by the backfill scanner, labeled by resource.",
		},
		[]string{"resource"},
	)

	gateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_gate_wait_seconds",
			Help:    "Histogram of admission gate wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	downloadWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_download_wait_seconds",
			Help:    "Histogram of politeness waits before document downloads, labeled by host.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Histogram of API request durations, labeled by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// AddNoticesSeen counts raw search results.
func AddNoticesSeen(n int) {
	noticesSeenTotal.Add(float64(n))
}

// AddNoticesInserted counts accepted new notices.
func AddNoticesInserted(n int) {
	noticesInsertedTotal.Add(float64(n))
}

// IncSearchFailure counts one failed search page.
func IncSearchFailure(documentType string) {
	searchFailuresTotal.WithLabelValues(documentType).Inc()
}

// IncChildFetchFailure counts one failed items/files fetch.
func IncChildFetchFailure(resource string) {
	childFetchFailuresTotal.WithLabelValues(resource).Inc()
}

// IncConversion counts one conversion with outcome "ok" or "failed".
func IncConversion(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	conversionsTotal.WithLabelValues(outcome).Inc()
}

// IncBackfillRepair counts one repaired notice for "items" or "files".
func IncBackfillRepair(resource string) {
	backfillRepairsTotal.WithLabelValues(resource).Inc()
}

// ObserveGateWait records time spent waiting for an admission permit.
func ObserveGateWait(d time.Duration) {
	gateWaitSeconds.Observe(d.Seconds())
}

// ObserveDownloadWait records a politeness delay before a document download.
func ObserveDownloadWait(host string, d time.Duration) {
	downloadWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
