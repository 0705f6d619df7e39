package xmpp

import (
	"context"

	"github.com/horazont/muchopper/types"
)

// VersionInfo is the result of a software version query.
type VersionInfo struct {
	Name    string
	Version string
	OS      string
}

// MessageType distinguishes the delivery semantics of a message stanza.
type MessageType string

const (
	MessageNormal    MessageType = "normal"
	MessageChat      MessageType = "chat"
	MessageGroupchat MessageType = "groupchat"
	MessageError     MessageType = "error"
)

// Message is a message stanza received or sent by the crawler account.
type Message struct {
	ID   string
	Type MessageType
	From types.Address
	To   types.Address
	Body string

	// DirectInviteTo is set when the message carries a direct room
	// invitation, naming the invited-to room.
	DirectInviteTo *types.Address
	// MediatedInviteFrom is set when the message is a mediated
	// invitation sent through the room named in From.
	MediatedInviteFrom *types.Address
}

// Client is the crawler's view of an established chat session. A real
// implementation speaks the wire protocol; tests substitute fakes.
type Client interface {
	// DiscoInfo queries the identities, features and extension forms of
	// an address. fresh bypasses any response caching in the session.
	DiscoInfo(ctx context.Context, addr types.Address, fresh bool) (*Info, error)

	// DiscoItems fetches one page of the item list published at addr.
	// node may be empty. rsm may be nil for an unpaged request.
	DiscoItems(ctx context.Context, addr types.Address, node string, rsm *RSMRequest) (*ItemsPage, error)

	// Version queries the software version of an address.
	Version(ctx context.Context, addr types.Address) (*VersionInfo, error)

	// SetSoftwareVersion configures the software name and version the
	// session itself advertises to version queries.
	SetSoftwareVersion(name, version string)

	// JoinRoom occupies a room under the given nickname. The returned
	// Room reports occupancy events until Leave is called or the room
	// ejects us.
	JoinRoom(ctx context.Context, addr types.Address, nick string) (Room, error)

	// FetchAvatar retrieves the avatar published by addr, returning the
	// raw bytes and their MIME type.
	FetchAvatar(ctx context.Context, addr types.Address) (data []byte, mimeType string, err error)

	// SendMessage sends a message stanza.
	SendMessage(ctx context.Context, msg *Message) error

	// Messages delivers stanzas addressed to the crawler account. The
	// channel closes when the session ends.
	Messages() <-chan *Message

	// PubSub returns an interface to the pub/sub service at the given
	// address.
	PubSub(service types.Address) PubSub
}
