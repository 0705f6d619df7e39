package caching

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/horazont/muchopper/types"
)

const (
	addressMetadataCache byte = iota + 1
	spokenToCache
)

const (
	// The negative result cache holds one entry per probed address. The
	// entries are tiny so the cost model just counts entries.
	maxMetadataEntries = 8192
	maxSpokenToEntries = 1024

	// SpokenToTTL bounds how often the interaction handler re-sends its
	// canned reply to the same address.
	SpokenToTTL = time.Hour
)

// NewRistrettoCache creates the shared in-memory caches. enablePrometheus
// registers the hit/miss counters with the default registry.
func NewRistrettoCache(enablePrometheus bool) *Caches {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: (maxMetadataEntries + maxSpokenToEntries) * 10,
		MaxCost:     maxMetadataEntries + maxSpokenToEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		panic(err)
	}
	if enablePrometheus {
		promRegisterOnce.Do(func() {
			prometheus.MustRegister(promauto(cache))
		})
	}
	return &Caches{
		AddressMetadata: &RistrettoCachePartition[string, types.AddressMetadata]{
			cache:  cache,
			Prefix: addressMetadataCache,
			MaxAge: types.CacheTTLBanned,
		},
		SpokenTo: &RistrettoCachePartition[string, struct{}]{
			cache:  cache,
			Prefix: spokenToCache,
			MaxAge: SpokenToTTL,
		},
	}
}

// RistrettoCachePartition carves a keyspace out of a shared ristretto
// cache by prefixing every key with a partition byte.
type RistrettoCachePartition[K ~string, V any] struct {
	cache  *ristretto.Cache
	Prefix byte
	MaxAge time.Duration
}

func (c *RistrettoCachePartition[K, V]) key(key K) string {
	return fmt.Sprintf("%c%s", c.Prefix, key)
}

// Set stores the value with the partition default TTL.
func (c *RistrettoCachePartition[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.MaxAge)
}

// SetWithTTL stores the value with an explicit TTL. The call waits for
// the ristretto buffers to drain so that a subsequent Get observes the
// entry; the store relies on that for negative-result caching.
func (c *RistrettoCachePartition[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.cache.SetWithTTL(c.key(key), value, 1, ttl)
	c.cache.Wait()
}

func (c *RistrettoCachePartition[K, V]) Unset(key K) {
	c.cache.Del(c.key(key))
}

func (c *RistrettoCachePartition[K, V]) Get(key K) (value V, ok bool) {
	v, ok := c.cache.Get(c.key(key))
	if !ok {
		return value, false
	}
	value, ok = v.(V)
	return value, ok
}
