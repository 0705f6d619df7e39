// Package storage opens the room catalogue database.
package storage

import (
	"context"
	"time"

	"github.com/horazont/muchopper/storage/shared"
	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
)

// Database is the store the crawler components and the search service
// work against.
type Database interface {
	// Signals exposes the post-commit change notifications.
	Signals() *shared.Signals

	RequireDomain(ctx context.Context, domain string, seen bool) error
	RequireDomainSeenAt(ctx context.Context, domain string, lastSeen time.Time) error
	UpdateDomain(ctx context.Context, domain string, upd *types.DomainUpdate) error
	ExpireDomains(ctx context.Context, threshold time.Time) error
	GetScannableDomains(ctx context.Context) ([]tables.ScannableDomain, error)

	UpdateRoomMetadata(ctx context.Context, addr types.Address, upd *types.RoomUpdate) error
	UpdateRoomAvatar(ctx context.Context, addr types.Address, data []byte, mimeType string) error
	GetAvatar(ctx context.Context, addr types.Address) (*tables.AvatarRow, error)
	StoreReferral(ctx context.Context, from, to types.Address, ts time.Time) error
	DeleteAllRoomData(ctx context.Context, addr types.Address) error
	ExpireRooms(ctx context.Context, threshold time.Time) error

	// Occupancy bookkeeping for the room observer.
	MarkActive(addr types.Address)
	MarkInactive(addr types.Address)
	IsActive(addr types.Address) bool
	GetAllKnownInactiveRooms(ctx context.Context) ([]types.Address, error)
	GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int64) ([]tables.JoinableRoom, error)

	// Probe result bookkeeping. GetAddressMetadata returns nil when the
	// address needs probing.
	GetAddressMetadata(ctx context.Context, addr types.Address) (*types.AddressMetadata, error)
	CacheAddressMetadata(ctx context.Context, addr types.Address, meta types.AddressMetadata, ttl time.Duration) error

	// Listing queries.
	GetPublicRooms(ctx context.Context, filter *tables.SearchFilter, after *tables.PageKey, limit int) ([]tables.PublicRoomView, error)
	GetPublicRoomView(ctx context.Context, addr types.Address) (*tables.PublicRoomView, error)
	GetPublicRoomAddresses(ctx context.Context) ([]string, error)
	CountPublicRooms(ctx context.Context) (int64, error)
}
