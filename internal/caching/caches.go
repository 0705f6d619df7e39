// Package caching holds the in-memory caches shared between the crawler
// components. The address metadata partition implements the negative
// result cache: probe failures are remembered here with a TTL so that
// unreachable or uninteresting addresses are not re-probed on every
// pass, while positive knowledge lives in the database.
package caching

import (
	"time"

	"github.com/horazont/muchopper/types"
)

type Caches struct {
	AddressMetadata *RistrettoCachePartition[string, types.AddressMetadata]
	SpokenTo        *RistrettoCachePartition[string, struct{}]
}

// StoreAddressMetadata caches a probe result under the address with a
// TTL derived from the kind of failure.
func (c *Caches) StoreAddressMetadata(addr types.Address, meta types.AddressMetadata, ttl time.Duration) {
	c.AddressMetadata.SetWithTTL(addr.String(), meta, ttl)
}

// GetAddressMetadata returns the cached probe result for the address,
// if any.
func (c *Caches) GetAddressMetadata(addr types.Address) (types.AddressMetadata, bool) {
	return c.AddressMetadata.Get(addr.String())
}

// MarkSpokenTo records that the interaction handler has replied to the
// address recently. It reports whether the address was already marked.
func (c *Caches) MarkSpokenTo(addr types.Address) bool {
	key := addr.String()
	if _, ok := c.SpokenTo.Get(key); ok {
		return true
	}
	c.SpokenTo.Set(key, struct{}{})
	return false
}
