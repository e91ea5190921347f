package store

// metrics.go mirrors the teacher's pkg/metrics.go: a thin abstraction over
// Prometheus so the store works with or without metrics. When the caller
// passes a *prometheus.Registry via WithMetrics, labelled counters and
// gauges are created; otherwise a no-op sink is used and the hot path does
// not pay for metric updates.
//
// © msm-tis authors.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting the concrete backend
// (Prometheus vs noop). Storage and ObjectStore only know these methods.
type metricsSink interface {
	incSave(store string)
	incLoad(store string)
	incCacheHit(store string)
	incCacheMiss(store string)
	incEviction(store string)
	setCacheSize(store string, strong, weak int)
}

/* -------------------------------------------------------------------------
   No-op implementation
   ------------------------------------------------------------------------- */

type noopMetrics struct{}

func (noopMetrics) incSave(string)                {}
func (noopMetrics) incLoad(string)                {}
func (noopMetrics) incCacheHit(string)            {}
func (noopMetrics) incCacheMiss(string)           {}
func (noopMetrics) incEviction(string)            {}
func (noopMetrics) setCacheSize(string, int, int) {}

/* -------------------------------------------------------------------------
   Prometheus implementation
   ------------------------------------------------------------------------- */

type promMetrics struct {
	saves     *prometheus.CounterVec
	loads     *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	cacheMiss *prometheus.CounterVec
	evictions *prometheus.CounterVec
	cacheSize *prometheus.GaugeVec
	cacheWeak *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"store"}
	pm := &promMetrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msm_tis_store", Name: "saves_total",
			Help: "Number of objects saved, per sub-store.",
		}, label),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msm_tis_store", Name: "loads_total",
			Help: "Number of objects loaded from the backend, per sub-store.",
		}, label),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msm_tis_store", Name: "cache_hits_total",
			Help: "Number of cache hits, per sub-store.",
		}, label),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msm_tis_store", Name: "cache_misses_total",
			Help: "Number of cache misses, per sub-store.",
		}, label),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msm_tis_store", Name: "cache_evictions_total",
			Help: "Number of cache evictions, per sub-store.",
		}, label),
		cacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "msm_tis_store", Name: "cache_strong_entries",
			Help: "Live strongly-referenced cache entries, per sub-store.",
		}, label),
		cacheWeak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "msm_tis_store", Name: "cache_weak_entries",
			Help: "Live weakly-referenced cache entries, per sub-store.",
		}, label),
	}
	reg.MustRegister(pm.saves, pm.loads, pm.cacheHits, pm.cacheMiss, pm.evictions, pm.cacheSize, pm.cacheWeak)
	return pm
}

func (m *promMetrics) incSave(s string)      { m.saves.WithLabelValues(s).Inc() }
func (m *promMetrics) incLoad(s string)      { m.loads.WithLabelValues(s).Inc() }
func (m *promMetrics) incCacheHit(s string)  { m.cacheHits.WithLabelValues(s).Inc() }
func (m *promMetrics) incCacheMiss(s string) { m.cacheMiss.WithLabelValues(s).Inc() }
func (m *promMetrics) incEviction(s string)  { m.evictions.WithLabelValues(s).Inc() }
func (m *promMetrics) setCacheSize(s string, strong, weak int) {
	m.cacheSize.WithLabelValues(s).Set(float64(strong))
	m.cacheWeak.WithLabelValues(s).Set(float64(weak))
}

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
