package xmpp

import "encoding/xml"

// NSResultSetManagement is the namespace of result set paging elements.
const NSResultSetManagement = "http://jabber.org/protocol/rsm"

// RSMRequest asks for a page of a remote result set. First and Last
// are response-only elements; they are decoded here so a responder can
// reject queries that carry them.
type RSMRequest struct {
	XMLName xml.Name  `xml:"http://jabber.org/protocol/rsm set"`
	Max     *int      `xml:"max,omitempty"`
	After   string    `xml:"after,omitempty"`
	Before  *string   `xml:"before,omitempty"`
	Index   *int      `xml:"index,omitempty"`
	First   *RSMFirst `xml:"first,omitempty"`
	Last    *string   `xml:"last,omitempty"`
}

// RSMResponse describes the page that was returned.
type RSMResponse struct {
	XMLName xml.Name  `xml:"http://jabber.org/protocol/rsm set"`
	First   *RSMFirst `xml:"first,omitempty"`
	Last    string    `xml:"last,omitempty"`
	Count   *int      `xml:"count,omitempty"`
	Max     *int      `xml:"max,omitempty"`
}

type RSMFirst struct {
	Index *int   `xml:"index,attr,omitempty"`
	Value string `xml:",chardata"`
}

// ItemsPage is one page of a disco#items result set.
type ItemsPage struct {
	Items []Item
	RSM   *RSMResponse
}

// Complete reports whether this page ends the result set: either the
// remote sent no paging info at all, or the page came back empty.
func (p *ItemsPage) Complete() bool {
	return p.RSM == nil || len(p.Items) == 0 || p.RSM.Last == ""
}
