package types

import "time"

// AddressMetadata is the result of classifying a remote address. Positive
// evidence (the address is a room we track) lives in the database; negative
// evidence is cached in memory with the TTLs below.
type AddressMetadata struct {
	IsReachable   bool
	IsChatService bool
	IsJoinable    bool
	IsIndexable   bool
	IsBanned      bool
}

// Cache TTLs for negative classification outcomes.
const (
	CacheTTLUnreachable = 5 * time.Minute
	CacheTTLClosed      = time.Hour
	CacheTTLNonService  = time.Hour
	CacheTTLBanned      = 24 * time.Hour
)

// AnonymityMode describes whether occupants' real addresses are visible
// inside a room.
type AnonymityMode string

const (
	AnonymityFull AnonymityMode = "full"
	AnonymitySemi AnonymityMode = "semi"
	AnonymityNone AnonymityMode = "none"
)

// Valid reports whether m is one of the known modes.
func (m AnonymityMode) Valid() bool {
	switch m {
	case AnonymityFull, AnonymitySemi, AnonymityNone:
		return true
	}
	return false
}
