// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes Prometheus instrumentation for the module
// (SPEC_FULL.md §2/§4: gas consumed, rent charged, deletion-queue depth,
// code-cache hit rate), grounded on the teacher's own prometheus/
// client_golang usage pattern (DESIGN.md). None of this package sits on
// the deterministic dispatch path's correctness: module.Module treats a nil
// Deps.Metrics as "observe nothing", so tests can run a bare module.Module
// without ever constructing a Collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wasmchain/contracts/core/codecache"
)

// Collector bundles every metric this module emits. It implements
// gas.Recorder so it can be handed directly to a gas.Meter via
// SetRecorder.
type Collector struct {
	registry *prometheus.Registry

	gasChargedByToken *prometheus.CounterVec
	rentCharged       prometheus.Counter
	rentEvicted       prometheus.Counter
	rentTombstoned    prometheus.Counter
	deletionDepth     prometheus.Gauge
	deletionWeight    prometheus.Counter
	codeCacheHits     prometheus.Counter
	codeCacheMisses   prometheus.Counter
	codeCacheSize     prometheus.Gauge
}

// New registers a fresh set of collectors against a private registry (so
// multiple Modules in the same process, e.g. in tests, never collide on
// global metric names).
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		gasChargedByToken: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "gas_charged_total",
			Help:      "Gas charged, partitioned by Schedule token label.",
		}, []string{"token"}),
		rentCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "rent_charged_total",
			Help: "Cumulative rent debited across all contracts.",
		}),
		rentEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "rent_evicted_total",
			Help: "Count of contracts evicted by the rent engine.",
		}),
		rentTombstoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "rent_tombstoned_total",
			Help: "Count of evictions that left a tombstone behind.",
		}),
		deletionDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contracts", Name: "deletion_queue_depth",
			Help: "Current length of the lazy sub-trie deletion queue.",
		}),
		deletionWeight: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "deletion_weight_consumed_total",
			Help: "Cumulative weight spent draining the deletion queue.",
		}),
		codeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "codecache_hits_total",
			Help: "load() calls served without reinstrumentation.",
		}),
		codeCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contracts", Name: "codecache_misses_total",
			Help: "load() calls that had to reinstrument a stale module.",
		}),
		codeCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contracts", Name: "codecache_entries",
			Help: "Distinct code_hash entries currently cached.",
		}),
	}
	reg.MustRegister(
		c.gasChargedByToken, c.rentCharged, c.rentEvicted, c.rentTombstoned,
		c.deletionDepth, c.deletionWeight, c.codeCacheHits, c.codeCacheMisses,
		c.codeCacheSize,
	)
	return c
}

// RecordCharge implements gas.Recorder.
func (c *Collector) RecordCharge(token string, amount uint64) {
	c.gasChargedByToken.WithLabelValues(token).Add(float64(amount))
}

// RecordRent records one rent.Outcome's worth of activity.
func (c *Collector) RecordRent(paidWei float64, evicted, tombstoned bool) {
	c.rentCharged.Add(paidWei)
	if evicted {
		c.rentEvicted.Inc()
	}
	if tombstoned {
		c.rentTombstoned.Inc()
	}
}

// RecordDeletionBatch records one on_initialize tick's contribution.
func (c *Collector) RecordDeletionBatch(depthAfter int, weightConsumed uint64) {
	c.deletionDepth.Set(float64(depthAfter))
	c.deletionWeight.Add(float64(weightConsumed))
}

// RecordCodeCache records one CodeCache.Load outcome (spec.md §4.1: hit vs
// lazy-reinstrument-on-stale-version), or, when removed is non-nil, one
// DecRef removal, which only updates the live-entry gauge.
func (c *Collector) RecordCodeCache(removed *codecache.Removed, reinstrumented bool, liveEntries int) {
	if removed == nil {
		if reinstrumented {
			c.codeCacheMisses.Inc()
		} else {
			c.codeCacheHits.Inc()
		}
	}
	c.codeCacheSize.Set(float64(liveEntries))
}

// Handler returns the /metrics HTTP handler for this Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
