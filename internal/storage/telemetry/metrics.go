package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the storage engine core
// updates. NewMetrics(nil) returns a Metrics whose counters still count
// but are registered nowhere, so unit tests never need to wire a
// registry.
type Metrics struct {
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	DirtyWriteBacks prometheus.Counter

	BTreeSplits prometheus.Counter
	BTreeMerges prometheus.Counter
	BTreeBorrows prometheus.Counter

	TableInserts prometheus.Counter
	TableRemoves prometheus.Counter
}

// NewMetrics registers the storage engine's counters against reg. If reg
// is nil, every instrument is a freestanding (unregistered) counter, so
// callers that don't care about metrics never touch the global default
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_page_cache_hits_total",
			Help: "Number of page cache lookups served from the buffer pool.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_page_cache_misses_total",
			Help: "Number of page cache lookups that required a disk read.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_page_cache_evictions_total",
			Help: "Number of LRU evictions from the page cache buffer pool.",
		}),
		DirtyWriteBacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_page_cache_writebacks_total",
			Help: "Number of dirty pages written back to disk.",
		}),
		BTreeSplits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_btree_splits_total",
			Help: "Number of B+-tree node splits performed.",
		}),
		BTreeMerges: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_btree_merges_total",
			Help: "Number of B+-tree node merges performed.",
		}),
		BTreeBorrows: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_btree_borrows_total",
			Help: "Number of B+-tree sibling borrows performed.",
		}),
		TableInserts: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_table_inserts_total",
			Help: "Number of records inserted across all tables.",
		}),
		TableRemoves: factory.NewCounter(prometheus.CounterOpts{
			Name: "dbcore_table_removes_total",
			Help: "Number of records removed across all tables.",
		}),
	}
}
