// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item outcome labels
const (
	ItemAdded   = "added"
	ItemUpdated = "updated"
	ItemFailed  = "failed"
)

// Metrics holds the worker's collectors. A nil *Metrics is valid and records
// nothing, so tests can pass nil.
type Metrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	itemsTotal    *prometheus.CounterVec
	rateLimitHits prometheus.Counter
	detailFetches prometheus.Counter
	hiddenTotal   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "Sync runs by mode and final status.",
		}, []string{"mode", "status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_sync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_sync_items_total",
			Help: "Items processed by outcome.",
		}, []string{"outcome"}),
		rateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_rate_limit_exhaustions_total",
			Help: "Runs aborted because the marketplace retry budget ran out.",
		}),
		detailFetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_detail_fetches_total",
			Help: "Per-item detail-level backfill calls.",
		}),
		hiddenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_sync_items_hidden_total",
			Help: "Catalog records hidden because the marketplace deactivated them.",
		}),
	}
}

func (m *Metrics) ObserveRun(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(mode, status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) AddItems(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}

func (m *Metrics) IncDetailFetch() {
	if m == nil {
		return
	}
	m.detailFetches.Inc()
}

func (m *Metrics) AddHidden(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.hiddenTotal.Add(float64(n))
}
