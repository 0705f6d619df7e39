package caching

import (
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
)

var promRegisterOnce sync.Once

// promauto builds a collector exposing the ristretto hit/miss ratio and
// eviction counters.
func promauto(cache *ristretto.Cache) prometheus.Collector {
	return &ristrettoCollector{
		cache: cache,
		hits: prometheus.NewDesc(
			"muchopper_cache_hits_total",
			"Number of cache lookups that found an entry.",
			nil, nil,
		),
		misses: prometheus.NewDesc(
			"muchopper_cache_misses_total",
			"Number of cache lookups that found nothing.",
			nil, nil,
		),
		evictions: prometheus.NewDesc(
			"muchopper_cache_evictions_total",
			"Number of cache entries evicted by cost pressure.",
			nil, nil,
		),
	}
}

type ristrettoCollector struct {
	cache     *ristretto.Cache
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
}

func (c *ristrettoCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
}

func (c *ristrettoCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.cache.Metrics
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(m.Hits()))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses()))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(m.KeysEvicted()))
}
