package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "linkpay"

var (
	// ClicksRecorded counts clicks appended to the log, labelled by uniqueness.
	ClicksRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clicks_recorded_total",
		Help:      "Clicks appended to the click log.",
	}, []string{"unique"})

	// ClickAppendFailures counts clicks that could not be appended.
	ClickAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "click_append_failures_total",
		Help:      "Clicks lost before reaching the click log.",
	})

	// AggregateFailures counts rollup writes that failed after the click was appended.
	AggregateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "click_aggregate_failures_total",
		Help:      "Aggregate updates that failed after a click was recorded.",
	}, []string{"stage"})

	// EarnedMicros sums the monetisation amount credited to clicks.
	EarnedMicros = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "earned_micros_total",
		Help:      "Earnings credited to clicks, in micro units.",
	})

	// CodeAllocations counts allocator outcomes.
	CodeAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_allocations_total",
		Help:      "Short code allocation outcomes.",
	}, []string{"outcome"})

	// GeoLookups counts geolocation outcomes.
	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_lookups_total",
		Help:      "Geolocation lookups by outcome.",
	}, []string{"outcome"})

	// AnalyticsDuration observes analytics read latency per period.
	AnalyticsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analytics_read_seconds",
		Help:      "Latency of analytics reads.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"period"})

	// Reconciliations counts reconciliation runs by result.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Link reconciliation runs.",
	}, []string{"result"})
)
