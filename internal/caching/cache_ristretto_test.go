package caching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/types"
)

func TestCaches_StoreAddressMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	caches := NewRistrettoCache(false)
	addr := types.MustParseAddress("room@muc.example.net")

	caches.StoreAddressMetadata(addr, types.AddressMetadata{
		IsReachable:   true,
		IsChatService: true,
	}, time.Hour)

	meta, ok := caches.GetAddressMetadata(addr)
	require.True(t, ok)
	assert.True(t, meta.IsReachable)
	assert.True(t, meta.IsChatService)
	assert.False(t, meta.IsBanned)
}

func TestCaches_GetAddressMetadata_MissingReturnsFalse(t *testing.T) {
	t.Parallel()

	caches := NewRistrettoCache(false)

	_, ok := caches.GetAddressMetadata(types.MustParseAddress("nobody@example.net"))
	assert.False(t, ok)
}

func TestCaches_AddressMetadata_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	caches := NewRistrettoCache(false)
	addr := types.MustParseAddress("gone.example.net")

	caches.StoreAddressMetadata(addr, types.AddressMetadata{}, 50*time.Millisecond)

	_, ok := caches.GetAddressMetadata(addr)
	require.True(t, ok, "entry should be present immediately after store")

	require.Eventually(t, func() bool {
		_, found := caches.GetAddressMetadata(addr)
		return !found
	}, 2*time.Second, 10*time.Millisecond, "entry should expire after its TTL")
}

func TestCaches_PartitionsAreIsolated(t *testing.T) {
	t.Parallel()

	caches := NewRistrettoCache(false)
	addr := types.MustParseAddress("overlap.example.net")

	caches.MarkSpokenTo(addr)

	_, ok := caches.GetAddressMetadata(addr)
	assert.False(t, ok, "spoken-to mark must not leak into the metadata partition")
}

func TestCaches_MarkSpokenTo_Deduplicates(t *testing.T) {
	t.Parallel()

	caches := NewRistrettoCache(false)
	addr := types.MustParseAddress("user@example.net/client")

	assert.False(t, caches.MarkSpokenTo(addr), "first contact should not be marked yet")
	assert.True(t, caches.MarkSpokenTo(addr), "second contact should be deduplicated")
}
