// Package metrics holds the Prometheus collectors of the listener service. They are served by promhttp when the
// service runs with -m.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movo_events_received_total",
		Help: "Contract logs added to the intake log.",
	}, []string{"listener", "event"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movo_events_processed_total",
		Help: "Intake events processed, by resulting status.",
	}, []string{"listener", "event", "status"})

	Duplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movo_duplicate_events_total",
		Help: "Events or histories skipped because they were already recorded.",
	}, []string{"kind"})

	CreditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movo_credits_applied_total",
		Help: "Balance increments applied, by target document.",
	}, []string{"target"})

	LookupMiss = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movo_lookup_miss_total",
		Help: "Events whose user, group or receiver could not be found.",
	}, []string{"kind"})

	CursorBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "movo_cursor_block",
		Help: "Last block fully added to the intake log.",
	}, []string{"listener"})

	ChainRead = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movo_chain_read_seconds",
		Help:    "Latency of chain reads.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// ObserveChainRead records the latency of a chain read started at t0.
func ObserveChainRead(op string, t0 time.Time) {
	ChainRead.WithLabelValues(op).Observe(time.Since(t0).Seconds())
}
