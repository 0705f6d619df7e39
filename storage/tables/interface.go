// Package tables defines the row types and per-table interfaces shared
// between the PostgreSQL and SQLite backends.
package tables

import (
	"context"
	"database/sql"
	"time"
)

// DomainRow mirrors one row of the domain table.
type DomainRow struct {
	ID              int64
	Domain          string
	LastSeen        sql.NullTime
	SoftwareName    sql.NullString
	SoftwareVersion sql.NullString
	SoftwareOS      sql.NullString
	Delisted        bool
}

// ScannableDomain is one entry of the scanner work list.
type ScannableDomain struct {
	Domain string
	// LastSeen is nil for seeded domains that were never probed.
	LastSeen *time.Time
	// IsChatService reports whether a conference identity is on record
	// for the domain.
	IsChatService bool
}

type Domains interface {
	SelectDomainByName(ctx context.Context, txn *sql.Tx, domain string) (*DomainRow, error)
	InsertDomain(ctx context.Context, txn *sql.Tx, domain string, lastSeen *time.Time) (int64, error)
	UpdateLastSeen(ctx context.Context, txn *sql.Tx, id int64, lastSeen time.Time) error
	UpdateSoftware(ctx context.Context, txn *sql.Tx, id int64, name, version, os *string) error
	SelectScannableDomains(ctx context.Context, txn *sql.Tx) ([]ScannableDomain, error)
	DeleteExpiredDomains(ctx context.Context, txn *sql.Tx, threshold time.Time) ([]string, error)
}

type DomainIdentities interface {
	ReplaceIdentities(ctx context.Context, txn *sql.Tx, domainID int64, identities [][2]string) error
}

type DomainContacts interface {
	ReplaceContacts(ctx context.Context, txn *sql.Tx, domainID int64, role string, addresses []string) error
	SelectContacts(ctx context.Context, txn *sql.Tx, domainID int64, role string) ([]string, error)
}

// RoomRow mirrors one row of the muc table.
type RoomRow struct {
	Address                 string
	DomainID                int64
	LastSeen                sql.NullTime
	NUsers                  sql.NullInt64
	NUsersMovingAverage     sql.NullFloat64
	MovingAverageLastUpdate sql.NullTime
	IsOpen                  bool
	IsHidden                bool
	WasKicked               bool
	AnonymityMode           sql.NullString
}

// JoinableRoom is one candidate for occupation by the room observer.
type JoinableRoom struct {
	Address string
	NUsers  int64
}

type Rooms interface {
	SelectRoom(ctx context.Context, txn *sql.Tx, address string) (*RoomRow, error)
	InsertRoom(ctx context.Context, txn *sql.Tx, row *RoomRow) error
	UpdateRoom(ctx context.Context, txn *sql.Tx, row *RoomRow) error
	SelectAllRoomAddresses(ctx context.Context, txn *sql.Tx) ([]string, error)
	SelectJoinableRooms(ctx context.Context, txn *sql.Tx, minUsers int64) ([]JoinableRoom, error)
	DeleteRoom(ctx context.Context, txn *sql.Tx, address string) (bool, error)
	DeleteExpiredRooms(ctx context.Context, txn *sql.Tx, threshold time.Time) ([]string, error)
}

// PublicRoomRow mirrors one row of the public_muc table.
type PublicRoomRow struct {
	Address       string
	Subject       sql.NullString
	Name          sql.NullString
	Description   sql.NullString
	Language      sql.NullString
	HTTPLogsURL   sql.NullString
	WebChatURL    sql.NullString
	LastMessageTS sql.NullTime
}

// PublicRoomView is one row of the listing queries, joining the room
// and its public metadata.
type PublicRoomView struct {
	Address             string
	NUsersMovingAverage sql.NullFloat64
	IsOpen              bool
	AnonymityMode       sql.NullString
	Name                sql.NullString
	Description         sql.NullString
	Language            sql.NullString
	HTTPLogsURL         sql.NullString
	WebChatURL          sql.NullString
	HasAvatar           bool
}

// SearchFilter controls the listing queries. A zero MinUsers together
// with no keywords lists everything public.
type SearchFilter struct {
	Keywords          []string
	SearchAddress     bool
	SearchDescription bool
	SearchName        bool
	MinUsers          float64
	IncludeClosed     bool
	// OrderByAddress switches the listing from activity order to plain
	// address order; the pagination cursor then only uses the address.
	OrderByAddress bool
}

// PageKey is the keyed pagination cursor of the listing queries. Pages
// are ordered by descending activity and ascending address. An empty
// Address degrades the activity cursor to a strict comparison on the
// activity alone, which is all the search protocol can express.
type PageKey struct {
	Activity float64
	Address  string
}

type PublicRooms interface {
	SelectPublicRoom(ctx context.Context, txn *sql.Tx, address string) (*PublicRoomRow, error)
	InsertPublicRoom(ctx context.Context, txn *sql.Tx, row *PublicRoomRow) error
	UpdatePublicRoom(ctx context.Context, txn *sql.Tx, row *PublicRoomRow) error
	DeletePublicRoom(ctx context.Context, txn *sql.Tx, address string) (bool, error)
	SearchPublicRooms(ctx context.Context, txn *sql.Tx, filter *SearchFilter, after *PageKey, limit int) ([]PublicRoomView, error)
	SelectPublicRoomAddresses(ctx context.Context, txn *sql.Tx) ([]string, error)
	CountPublicRooms(ctx context.Context, txn *sql.Tx) (int64, error)
}

// AvatarRow mirrors one row of the avatar table.
type AvatarRow struct {
	Address     string
	LastUpdated time.Time
	MIMEType    string
	Data        []byte
	Hash        string
}

type Avatars interface {
	SelectAvatarHash(ctx context.Context, txn *sql.Tx, address string) (string, error)
	SelectAvatar(ctx context.Context, txn *sql.Tx, address string) (*AvatarRow, error)
	UpsertAvatar(ctx context.Context, txn *sql.Tx, row *AvatarRow) error
	DeleteAvatar(ctx context.Context, txn *sql.Tx, address string) error
}

type Tags interface {
	ReplaceRoomTags(ctx context.Context, txn *sql.Tx, address string, tags []string) error
	SelectRoomTags(ctx context.Context, txn *sql.Tx, address string) ([]string, error)
}

type Referrals interface {
	UpsertReferral(ctx context.Context, txn *sql.Tx, fromAddress, toAddress string, ts time.Time) error
	SelectReferralCount(ctx context.Context, txn *sql.Tx, fromAddress, toAddress string) (int64, error)
}
