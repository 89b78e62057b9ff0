// Package metrics provides Prometheus instrumentation for the vault engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rename transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeCritical   = "critical"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Index
	RebuildDuration prometheus.Histogram
	PagesTotal      prometheus.Gauge
	BrokenLinks     prometheus.Gauge
	ParseFailures   prometheus.Counter

	// Watcher pipeline
	WatcherEvents *prometheus.CounterVec
	WatcherErrors prometheus.Counter
	BatchSize     prometheus.Histogram
	LaggedEvents  prometheus.Counter

	// Writer
	RenameTransactions *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicler_index_rebuild_duration_seconds",
			Help:    "Duration of full relation rebuilds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		PagesTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "chronicler_index_pages",
			Help: "Number of indexed pages",
		}),
		BrokenLinks: f.NewGauge(prometheus.GaugeOpts{
			Name: "chronicler_index_broken_link_targets",
			Help: "Number of distinct link targets that resolve to no page",
		}),
		ParseFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chronicler_index_parse_failures_total",
			Help: "Files indexed as stubs because they could not be parsed",
		}),
		WatcherEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicler_watcher_events_total",
			Help: "File events published by the watcher",
		}, []string{"kind"}),
		WatcherErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chronicler_watcher_errors_total",
			Help: "Errors reported by the OS notification backend",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicler_world_batch_size",
			Help:    "Events applied per watcher batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		LaggedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "chronicler_world_lagged_events_total",
			Help: "Watcher events dropped because the consumer lagged",
		}),
		RenameTransactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicler_writer_rename_transactions_total",
			Help: "Rename and move transactions by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRebuild(d time.Duration, pages, broken int) {
	if m == nil {
		return
	}
	m.RebuildDuration.Observe(d.Seconds())
	m.PagesTotal.Set(float64(pages))
	m.BrokenLinks.Set(float64(broken))
}

func (m *Metrics) IncParseFailure() {
	if m == nil {
		return
	}
	m.ParseFailures.Inc()
}

func (m *Metrics) IncWatcherEvent(kind string) {
	if m == nil {
		return
	}
	m.WatcherEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncWatcherError() {
	if m == nil {
		return
	}
	m.WatcherErrors.Inc()
}

func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}

func (m *Metrics) AddLagged(n uint64) {
	if m == nil {
		return
	}
	m.LaggedEvents.Add(float64(n))
}

func (m *Metrics) IncRename(outcome string) {
	if m == nil {
		return
	}
	m.RenameTransactions.WithLabelValues(outcome).Inc()
}
