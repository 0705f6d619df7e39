package xmpp

import (
	"github.com/horazont/muchopper/types"
)

// DeriveAddressMetadata classifies a disco#info result into the
// properties the crawler acts on. info being nil means the address did
// not answer at all.
func DeriveAddressMetadata(info *Info) types.AddressMetadata {
	if info == nil {
		return types.AddressMetadata{}
	}
	meta := types.AddressMetadata{IsReachable: true}
	isChat := info.HasIdentity("conference", "text") && info.HasFeature(FeatureMUC)
	if !isChat {
		return meta
	}
	meta.IsChatService = true
	meta.IsIndexable = info.HasFeature(FeatureMUCPublic) && info.HasFeature(FeatureMUCPersistent)
	meta.IsJoinable = info.HasFeature(FeatureMUCOpen) &&
		info.HasFeature(FeatureMUCPersistent) &&
		!info.HasFeature(FeatureMUCPasswordProtected)
	return meta
}

// AnonymityModeOf derives the occupant anonymity mode advertised by a
// room. Unknown if the room advertises neither feature.
func AnonymityModeOf(info *Info) types.AnonymityMode {
	switch {
	case info.HasFeature(FeatureMUCNonAnonymous):
		return types.AnonymityNone
	case info.HasFeature(FeatureMUCSemiAnonymous):
		return types.AnonymitySemi
	default:
		return ""
	}
}

// RoomInfo is the descriptive metadata extracted from a room's
// disco#info result.
type RoomInfo struct {
	// NUsers is the advertised occupant count; nil when the room does
	// not publish one.
	NUsers      *int
	Name        string
	Description string
	Subject     string
	Language    string
	HTTPLogsURL string
	WebChatURL  string
	Anonymity   types.AnonymityMode
}

// ExtractRoomInfo reads the room info form and identity of a disco#info
// result. The roomconfig description field serves as a fallback for
// services that publish the configuration var in the info form.
func ExtractRoomInfo(info *Info) RoomInfo {
	ri := RoomInfo{
		Name:      info.IdentityName("conference", "text"),
		Anonymity: AnonymityModeOf(info),
	}
	form := info.Form(FormTypeRoomInfo)
	if form == nil {
		return ri
	}
	if n, ok := form.IntValue(FieldRoomOccupants); ok && n >= 0 {
		ri.NUsers = &n
	}
	ri.Description = form.Value(FieldRoomDescription)
	if ri.Description == "" {
		ri.Description = form.Value(FieldRoomDescAlt)
	}
	ri.Subject = form.Value(FieldRoomSubject)
	ri.Language = form.Value(FieldRoomLanguage)
	ri.HTTPLogsURL = form.Value(FieldRoomLogs)
	ri.WebChatURL = form.Value(FieldRoomWebChat)
	return ri
}
