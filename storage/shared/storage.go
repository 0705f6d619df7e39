// Package shared implements the store logic common to both database
// backends: partial room updates, the user count moving average, the
// reachability cache and the change signals.
package shared

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/internal/thumbnailer"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
)

const (
	// The moving average decays with this factor per update; after 24
	// updates roughly 1% of the original value remains.
	movingAverageFactor = 0.82
	// Updates closer together than this leave the moving average
	// untouched so that frequent probes of busy rooms do not dominate it.
	movingAverageInterval = time.Duration(0.95 * float64(time.Hour))
)

type Database struct {
	DB     *sql.DB
	Writer sqlutil.Writer
	Limits config.Limits

	// Caches holds the negative result cache. Optional; a nil Caches
	// disables negative caching.
	Caches *caching.Caches

	Domains          tables.Domains
	DomainIdentities tables.DomainIdentities
	DomainContacts   tables.DomainContacts
	Rooms            tables.Rooms
	PublicRooms      tables.PublicRooms
	Avatars          tables.Avatars
	Tags             tables.Tags
	Referrals        tables.Referrals

	// TimeSource is replaceable for tests.
	TimeSource func() time.Time

	signals Signals

	activeMu sync.Mutex
	active   map[string]struct{}
}

// Init fills in the runtime fields after the backend constructor has
// assigned the tables.
func (d *Database) Init() {
	if d.TimeSource == nil {
		d.TimeSource = time.Now
	}
	if d.active == nil {
		d.active = make(map[string]struct{})
	}
}

func (d *Database) Signals() *Signals {
	return &d.signals
}

// MarkActive records that a component currently occupies the address.
func (d *Database) MarkActive(addr types.Address) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	d.active[addr.String()] = struct{}{}
}

func (d *Database) MarkInactive(addr types.Address) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	delete(d.active, addr.String())
}

func (d *Database) IsActive(addr types.Address) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	_, ok := d.active[addr.String()]
	return ok
}

// RequireDomain makes sure the domain exists, stamping last_seen when
// seen is true. Seeded domains are inserted unseen so the scanner picks
// them up immediately.
func (d *Database) RequireDomain(ctx context.Context, domain string, seen bool) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		var lastSeen *time.Time
		if seen {
			now := d.TimeSource().UTC()
			lastSeen = &now
		}
		_, err := d.Domains.InsertDomain(ctx, txn, domain, lastSeen)
		return err
	})
}

// RequireDomainSeenAt makes sure the domain exists with the given
// last_seen stamp. The scanner backdates domains discovered on
// non-chat services so they are not probed again right away.
func (d *Database) RequireDomainSeenAt(ctx context.Context, domain string, lastSeen time.Time) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		lastSeen = lastSeen.UTC()
		_, err := d.Domains.InsertDomain(ctx, txn, domain, &lastSeen)
		return err
	})
}

// UpdateDomain stamps the domain as seen and applies the partial
// update.
func (d *Database) UpdateDomain(ctx context.Context, domain string, upd *types.DomainUpdate) error {
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		now := d.TimeSource().UTC()
		id, err := d.Domains.InsertDomain(ctx, txn, domain, &now)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}
		if upd.Identities != nil {
			if err = d.DomainIdentities.ReplaceIdentities(ctx, txn, id, upd.Identities); err != nil {
				return err
			}
		}
		if upd.AbuseContacts != nil {
			if err = d.DomainContacts.ReplaceContacts(ctx, txn, id, "abuse", upd.AbuseContacts); err != nil {
				return err
			}
		}
		if upd.Software != nil {
			name, version, os := optString(upd.Software.Name), optString(upd.Software.Version), optString(upd.Software.OS)
			if err = d.Domains.UpdateSoftware(ctx, txn, id, name, version, os); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.signals.emitDomainChanged(domain)
	return nil
}

// ExpireDomains removes domains not seen since the threshold. Delisted
// domains are kept.
func (d *Database) ExpireDomains(ctx context.Context, threshold time.Time) error {
	var deleted []string
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) (err error) {
		deleted, err = d.Domains.DeleteExpiredDomains(ctx, txn, threshold)
		return
	})
	if err != nil {
		return err
	}
	for _, domain := range deleted {
		d.signals.emitDomainDeleted(domain)
	}
	return nil
}

// ExpireRooms removes rooms not seen since the threshold.
func (d *Database) ExpireRooms(ctx context.Context, threshold time.Time) error {
	var deleted []string
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) (err error) {
		deleted, err = d.Rooms.DeleteExpiredRooms(ctx, txn, threshold)
		return
	})
	if err != nil {
		return err
	}
	for _, address := range deleted {
		if addr, parseErr := types.ParseAddress(address); parseErr == nil {
			d.signals.emitRoomDeleted(addr)
		}
	}
	return nil
}

func (d *Database) GetScannableDomains(ctx context.Context) ([]tables.ScannableDomain, error) {
	return d.Domains.SelectScannableDomains(ctx, nil)
}

// GetAllKnownInactiveRooms lists rooms nobody currently occupies.
func (d *Database) GetAllKnownInactiveRooms(ctx context.Context) ([]types.Address, error) {
	addresses, err := d.Rooms.SelectAllRoomAddresses(ctx, nil)
	if err != nil {
		return nil, err
	}
	var result []types.Address
	for _, address := range addresses {
		addr, err := types.ParseAddress(address)
		if err != nil {
			continue
		}
		if !d.IsActive(addr) {
			result = append(result, addr)
		}
	}
	return result, nil
}

// GetJoinableRoomsWithUserCount lists open rooms with at least minUsers
// occupants, skipping addresses the negative cache flags as
// unreachable, banned or otherwise useless.
func (d *Database) GetJoinableRoomsWithUserCount(ctx context.Context, minUsers int64) ([]tables.JoinableRoom, error) {
	rooms, err := d.Rooms.SelectJoinableRooms(ctx, nil, minUsers)
	if err != nil {
		return nil, err
	}
	if d.Caches == nil {
		return rooms, nil
	}
	result := rooms[:0]
	for _, room := range rooms {
		addr, err := types.ParseAddress(room.Address)
		if err != nil {
			continue
		}
		if meta, ok := d.Caches.GetAddressMetadata(addr); ok {
			if !meta.IsReachable || !meta.IsChatService || !meta.IsJoinable || meta.IsBanned {
				continue
			}
		}
		result = append(result, room)
	}
	return result, nil
}

// GetAddressMetadata reports what is known about an address. Database
// knowledge is authoritative for positive results; the cache is only
// consulted for addresses the database does not know. nil means the
// address must be probed.
func (d *Database) GetAddressMetadata(ctx context.Context, addr types.Address) (*types.AddressMetadata, error) {
	row, err := d.Rooms.SelectRoom(ctx, nil, addr.String())
	if err != nil {
		return nil, err
	}
	if row != nil {
		public, err := d.PublicRooms.SelectPublicRoom(ctx, nil, addr.String())
		if err != nil {
			return nil, err
		}
		return &types.AddressMetadata{
			IsReachable:   true,
			IsChatService: true,
			IsJoinable:    row.IsOpen,
			IsIndexable:   public != nil,
		}, nil
	}
	if d.Caches != nil {
		if meta, ok := d.Caches.GetAddressMetadata(addr); ok {
			return &meta, nil
		}
	}
	return nil, nil
}

// CacheAddressMetadata records a probe result. Useful rooms go into the
// database; reachable non-rooms have any stale room state removed;
// everything else lands in the negative cache with the given TTL.
func (d *Database) CacheAddressMetadata(ctx context.Context, addr types.Address, meta types.AddressMetadata, ttl time.Duration) error {
	if meta.IsJoinable || meta.IsIndexable {
		isOpen := meta.IsJoinable
		isPublic := meta.IsIndexable
		return d.UpdateRoomMetadata(ctx, addr, &types.RoomUpdate{
			IsOpen:   &isOpen,
			IsPublic: &isPublic,
		})
	}
	if meta.IsReachable {
		if err := d.DeleteAllRoomData(ctx, addr); err != nil {
			return err
		}
	}
	if d.Caches != nil {
		d.Caches.StoreAddressMetadata(addr, meta, ttl)
	}
	return nil
}

// UpdateRoomMetadata applies a partial update to a room, creating it
// (and its domain) if needed. A change signal fires only if something
// observable changed.
func (d *Database) UpdateRoomMetadata(ctx context.Context, addr types.Address, upd *types.RoomUpdate) error {
	if d.Caches != nil {
		d.Caches.AddressMetadata.Unset(addr.String())
	}
	if upd.IsSaveable != nil && !*upd.IsSaveable {
		return d.DeleteAllRoomData(ctx, addr)
	}

	description := prepareText(upd.Description, d.Limits.MaxDescriptionLength)
	// the name may use the description's length budget while no
	// description is stored; the UI shows it in that slot instead
	nameLimit := d.Limits.MaxDescriptionLength
	if description != nil && *description != "" {
		nameLimit = d.Limits.MaxNameLength
	}
	name := prepareText(upd.Name, nameLimit)
	subject := prepareText(upd.Subject, d.Limits.MaxSubjectLength)
	language := upd.Language
	if language != nil {
		if runes := []rune(*language); len(runes) > d.Limits.MaxLanguageLength {
			truncated := string(runes[:d.Limits.MaxLanguageLength])
			language = &truncated
		}
	}

	changed := false
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		now := d.TimeSource().UTC()
		address := addr.String()
		row, err := d.Rooms.SelectRoom(ctx, txn, address)
		if err != nil {
			return err
		}
		created := false
		if row == nil {
			domainID, err := d.Domains.InsertDomain(ctx, txn, addr.Domain, &now)
			if err != nil {
				return err
			}
			row = &tables.RoomRow{Address: address, DomainID: domainID}
			created = true
			changed = true
		}
		row.LastSeen = sql.NullTime{Time: now, Valid: true}
		if upd.IsOpen != nil && row.IsOpen != *upd.IsOpen {
			row.IsOpen = *upd.IsOpen
			changed = true
		}
		if upd.AnonymityMode != nil {
			mode := string(*upd.AnonymityMode)
			if !row.AnonymityMode.Valid || row.AnonymityMode.String != mode {
				row.AnonymityMode = sql.NullString{String: mode, Valid: true}
				changed = true
			}
		}
		if upd.WasKicked != nil && *upd.WasKicked {
			row.WasKicked = true
		}
		if upd.NUsers != nil {
			n := int64(*upd.NUsers)
			if !row.NUsers.Valid || row.NUsers.Int64 != n {
				row.NUsers = sql.NullInt64{Int64: n, Valid: true}
				changed = true
			}
		}
		if !row.NUsersMovingAverage.Valid && row.NUsers.Valid {
			row.NUsersMovingAverage = sql.NullFloat64{Float64: float64(row.NUsers.Int64), Valid: true}
			row.MovingAverageLastUpdate = sql.NullTime{Time: now, Valid: true}
		} else if upd.NUsers != nil && row.MovingAverageLastUpdate.Valid &&
			row.MovingAverageLastUpdate.Time.Add(movingAverageInterval).Before(now) {
			row.NUsersMovingAverage = sql.NullFloat64{
				Float64: row.NUsersMovingAverage.Float64*movingAverageFactor +
					float64(*upd.NUsers)*(1-movingAverageFactor),
				Valid: true,
			}
			row.MovingAverageLastUpdate = sql.NullTime{Time: now, Valid: true}
		}
		if created {
			err = d.Rooms.InsertRoom(ctx, txn, row)
		} else {
			err = d.Rooms.UpdateRoom(ctx, txn, row)
		}
		if err != nil {
			return err
		}

		makePublic := upd.IsPublic != nil && *upd.IsPublic
		impliedPublic := upd.IsPublic == nil &&
			(nonEmpty(subject) || nonEmpty(name) || nonEmpty(description))
		switch {
		case makePublic || impliedPublic:
			public, err := d.PublicRooms.SelectPublicRoom(ctx, txn, address)
			if err != nil {
				return err
			}
			createdPublic := false
			if public == nil {
				public = &tables.PublicRoomRow{Address: address}
				createdPublic = true
				changed = true
			}
			changed = mergeNullString(&public.Subject, subject) || changed
			changed = mergeNullString(&public.Name, name) || changed
			changed = mergeNullString(&public.Description, description) || changed
			changed = mergeNullString(&public.Language, language) || changed
			changed = mergeNullString(&public.HTTPLogsURL, upd.HTTPLogsURL) || changed
			changed = mergeNullString(&public.WebChatURL, upd.WebChatURL) || changed
			if upd.LastMessageTS != nil {
				public.LastMessageTS = sql.NullTime{Time: upd.LastMessageTS.UTC(), Valid: true}
			}
			if createdPublic {
				err = d.PublicRooms.InsertPublicRoom(ctx, txn, public)
			} else {
				err = d.PublicRooms.UpdatePublicRoom(ctx, txn, public)
			}
			if err != nil {
				return err
			}
			if upd.Tags != nil {
				current, err := d.Tags.SelectRoomTags(ctx, txn, address)
				if err != nil {
					return err
				}
				if !equalStrings(current, upd.Tags) {
					if err = d.Tags.ReplaceRoomTags(ctx, txn, address, upd.Tags); err != nil {
						return err
					}
					changed = true
				}
			}
		case upd.IsPublic != nil && !*upd.IsPublic:
			existed, err := d.PublicRooms.DeletePublicRoom(ctx, txn, address)
			if err != nil {
				return err
			}
			changed = existed || changed
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		d.signals.emitRoomChanged(addr)
	}
	return nil
}

// UpdateRoomAvatar stores a processed avatar for a publicly listed
// room, or deletes the stored one when data is nil. Unchanged avatars
// are detected by hash and skipped before any image processing.
func (d *Database) UpdateRoomAvatar(ctx context.Context, addr types.Address, data []byte, mimeType string) error {
	address := addr.String()
	if data == nil {
		return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
			return d.Avatars.DeleteAvatar(ctx, txn, address)
		})
	}

	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])
	existingHash, err := d.Avatars.SelectAvatarHash(ctx, nil, address)
	if err != nil {
		return err
	}
	if existingHash == newHash {
		logrus.WithField("address", address).Debug("Avatar unchanged, skipping update")
		return nil
	}

	avatar, err := thumbnailer.Process(data, mimeType)
	if err != nil {
		logrus.WithError(err).WithField("address", address).Warn("Dropping unusable avatar")
		return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
			return d.Avatars.DeleteAvatar(ctx, txn, address)
		})
	}

	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		public, err := d.PublicRooms.SelectPublicRoom(ctx, txn, address)
		if err != nil {
			return err
		}
		if public == nil {
			// not publicly listed, nothing to attach the avatar to
			return nil
		}
		return d.Avatars.UpsertAvatar(ctx, txn, &tables.AvatarRow{
			Address:     address,
			LastUpdated: d.TimeSource().UTC().Truncate(time.Second),
			MIMEType:    avatar.MIMEType,
			Data:        avatar.Data,
			Hash:        newHash,
		})
	})
}

// GetAvatar returns the stored avatar for the address, or nil.
func (d *Database) GetAvatar(ctx context.Context, addr types.Address) (*tables.AvatarRow, error) {
	return d.Avatars.SelectAvatar(ctx, nil, addr.String())
}

// StoreReferral counts a mention of one public room inside another.
// Referrals involving unlisted rooms are dropped.
func (d *Database) StoreReferral(ctx context.Context, from, to types.Address, ts time.Time) error {
	return d.Writer.Do(d.DB, nil, func(txn *sql.Tx) error {
		fromPublic, err := d.PublicRooms.SelectPublicRoom(ctx, txn, from.String())
		if err != nil || fromPublic == nil {
			return err
		}
		toPublic, err := d.PublicRooms.SelectPublicRoom(ctx, txn, to.String())
		if err != nil || toPublic == nil {
			return err
		}
		return d.Referrals.UpsertReferral(ctx, txn, from.String(), to.String(), ts.UTC())
	})
}

// DeleteAllRoomData forgets the room entirely. Dependent rows go with
// it via the schema's cascades.
func (d *Database) DeleteAllRoomData(ctx context.Context, addr types.Address) error {
	existed := false
	err := d.Writer.Do(d.DB, nil, func(txn *sql.Tx) (err error) {
		existed, err = d.Rooms.DeleteRoom(ctx, txn, addr.String())
		return
	})
	if err != nil {
		return err
	}
	if existed {
		d.signals.emitRoomDeleted(addr)
	}
	return nil
}

// GetPublicRooms returns one page of the public room listing.
func (d *Database) GetPublicRooms(ctx context.Context, filter *tables.SearchFilter, after *tables.PageKey, limit int) ([]tables.PublicRoomView, error) {
	return d.PublicRooms.SearchPublicRooms(ctx, nil, filter, after, limit)
}

func (d *Database) GetPublicRoomAddresses(ctx context.Context) ([]string, error) {
	return d.PublicRooms.SelectPublicRoomAddresses(ctx, nil)
}

func (d *Database) CountPublicRooms(ctx context.Context) (int64, error) {
	return d.PublicRooms.CountPublicRooms(ctx, nil)
}

// GetPublicRoomView returns the listing row of a single room, or nil
// if the room is not listed.
func (d *Database) GetPublicRoomView(ctx context.Context, addr types.Address) (*tables.PublicRoomView, error) {
	room, err := d.Rooms.SelectRoom(ctx, nil, addr.String())
	if err != nil || room == nil {
		return nil, err
	}
	public, err := d.PublicRooms.SelectPublicRoom(ctx, nil, addr.String())
	if err != nil || public == nil {
		return nil, err
	}
	hash, err := d.Avatars.SelectAvatarHash(ctx, nil, addr.String())
	if err != nil {
		return nil, err
	}
	return &tables.PublicRoomView{
		Address:             room.Address,
		NUsersMovingAverage: room.NUsersMovingAverage,
		IsOpen:              room.IsOpen,
		AnonymityMode:       room.AnonymityMode,
		Name:                public.Name,
		Description:         public.Description,
		Language:            public.Language,
		HTTPLogsURL:         public.HTTPLogsURL,
		WebChatURL:          public.WebChatURL,
		HasAvatar:           hash != "",
	}, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// mergeNullString applies an optional text update to a nullable column
// and reports whether the stored value changed. An empty update clears
// the column.
func mergeNullString(dst *sql.NullString, src *string) bool {
	if src == nil {
		return false
	}
	if *src == "" {
		if !dst.Valid {
			return false
		}
		*dst = sql.NullString{}
		return true
	}
	if dst.Valid && dst.String == *src {
		return false
	}
	*dst = sql.NullString{String: *src, Valid: true}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
