package xmpp

import (
	"context"
	"encoding/xml"
)

// PubSubItem is a published item on a node.
type PubSubItem struct {
	ID      string
	Payload []byte
}

// PubSubEventKind distinguishes node notifications.
type PubSubEventKind int

const (
	PubSubEventPublish PubSubEventKind = iota
	PubSubEventRetract
	PubSubEventNodeDeleted
	PubSubEventNodePurged
)

// PubSubEvent is a notification from a subscribed node.
type PubSubEvent struct {
	Kind PubSubEventKind
	Node string
	Item PubSubItem
}

// NodeConfig is the subset of node configuration options the mirror
// publisher manages.
type NodeConfig struct {
	AccessModel  string
	PersistItems bool
	MaxItems     int
}

// PubSub is a client of one pub/sub service.
type PubSub interface {
	// CreateNode creates a node. Returns a stanza error with condition
	// conflict if the node already exists.
	CreateNode(ctx context.Context, node string) error

	// ConfigureNode applies the node configuration.
	ConfigureNode(ctx context.Context, node string, cfg NodeConfig) error

	// DeleteNode removes the node and all its items.
	DeleteNode(ctx context.Context, node string) error

	// Subscribe starts delivery of node notifications on Events.
	Subscribe(ctx context.Context, node string) error

	// ItemIDs lists the IDs of all items currently on the node.
	ItemIDs(ctx context.Context, node string) ([]string, error)

	// ItemsByID fetches specific items from the node.
	ItemsByID(ctx context.Context, node string, ids []string) ([]PubSubItem, error)

	// Publish stores the payload under the given item ID, replacing any
	// previous item with that ID.
	Publish(ctx context.Context, node string, id string, payload interface{}) error

	// Retract removes the item with the given ID.
	Retract(ctx context.Context, node string, id string) error

	// Events delivers notifications for subscribed nodes. The channel
	// closes when the session ends.
	Events() <-chan *PubSubEvent
}

// MarshalPayload renders an item payload for Publish implementations
// that work with raw bytes.
func MarshalPayload(payload interface{}) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return xml.Marshal(payload)
}
