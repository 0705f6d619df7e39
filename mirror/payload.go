// Package mirror replicates the public room catalogue between
// instances over a pub/sub node: the server side republishes every
// change to its local catalogue, the client side applies the node's
// stream to a read-only instance.
package mirror

import (
	"encoding/xml"
	"fmt"

	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
)

// NodeMUCs is the pub/sub node carrying the room catalogue.
const NodeMUCs = "https://xmlns.zombofant.net/muclumbus/state-transfer/1.0#mucs"

// Bool01 marshals as "1"/"0", the boolean form used on the wire.
type Bool01 bool

func (b Bool01) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	value := "0"
	if b {
		value = "1"
	}
	return xml.Attr{Name: name, Value: value}, nil
}

func (b *Bool01) UnmarshalXMLAttr(attr xml.Attr) error {
	switch attr.Value {
	case "1", "true":
		*b = true
	case "0", "false":
		*b = false
	default:
		return fmt.Errorf("invalid boolean value %q", attr.Value)
	}
	return nil
}

// SyncItem is the payload of one room on the state transfer node. The
// item ID equals the room address; the payload repeats it so items are
// self-contained.
type SyncItem struct {
	XMLName       xml.Name `xml:"https://xmlns.zombofant.net/muclumbus/state-transfer/1.0#mucs sync-muc"`
	Address       string   `xml:"address,attr"`
	IsOpen        Bool01   `xml:"is_open,attr"`
	AnonymityMode string   `xml:"anonymity_mode,attr,omitempty"`
	NUsers        *float64 `xml:"nusers,omitempty"`
	Name          string   `xml:"name,omitempty"`
	Language      string   `xml:"language,omitempty"`
	Description   string   `xml:"description,omitempty"`
}

// SyncItemFromView renders a listing row into its wire form.
func SyncItemFromView(view *tables.PublicRoomView) *SyncItem {
	item := &SyncItem{
		Address:       view.Address,
		IsOpen:        Bool01(view.IsOpen),
		AnonymityMode: view.AnonymityMode.String,
		Name:          view.Name.String,
		Language:      view.Language.String,
		Description:   view.Description.String,
	}
	if view.NUsersMovingAverage.Valid {
		nusers := view.NUsersMovingAverage.Float64
		item.NUsers = &nusers
	}
	return item
}

// ParseSyncItem decodes a received payload.
func ParseSyncItem(payload []byte) (*SyncItem, error) {
	var item SyncItem
	if err := xml.Unmarshal(payload, &item); err != nil {
		return nil, err
	}
	if _, err := types.ParseAddress(item.Address); err != nil {
		return nil, err
	}
	return &item, nil
}
