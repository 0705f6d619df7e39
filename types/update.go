package types

import "time"

// RoomUpdate is a partial update of a room's stored state. Nil fields
// leave the stored value untouched, which lets independent observers
// (the directory scan, the occupancy probe, the room occupant) each
// write only what they learned.
type RoomUpdate struct {
	NUsers     *int
	IsOpen     *bool
	IsPublic   *bool
	WasKicked  *bool
	IsSaveable *bool

	Subject     *string
	Name        *string
	Description *string
	Language    *string
	HTTPLogsURL *string
	WebChatURL  *string

	AnonymityMode *AnonymityMode
	LastMessageTS *time.Time

	// Tags replaces the room's tag set when non-nil.
	Tags []string
}

// SoftwareInfo is the reported server software of a domain.
type SoftwareInfo struct {
	Name    string
	Version string
	OS      string
}

// DomainUpdate is a partial update of a domain's stored state.
type DomainUpdate struct {
	// Identities replaces the stored identity set when non-nil.
	// Each entry is a (category, type) pair.
	Identities [][2]string
	// AbuseContacts replaces the stored abuse contact set when non-nil.
	AbuseContacts []string
	Software      *SoftwareInfo
}
