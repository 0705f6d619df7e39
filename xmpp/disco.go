package xmpp

import "github.com/horazont/muchopper/types"

// Feature and identity URIs used to classify discovered addresses.
const (
	FeatureMUC                  = "http://jabber.org/protocol/muc"
	FeatureMUCPublic            = "muc_public"
	FeatureMUCPersistent        = "muc_persistent"
	FeatureMUCOpen              = "muc_open"
	FeatureMUCPasswordProtected = "muc_passwordprotected"
	FeatureMUCSemiAnonymous     = "muc_semianonymous"
	FeatureMUCNonAnonymous      = "muc_nonanonymous"
	FeatureMUCHidden            = "muc_hidden"
	FeatureMUCMembersOnly       = "muc_membersonly"
)

// Identity is a single disco#info identity.
type Identity struct {
	Category string
	Type     string
	Name     string
}

// Info is the parsed result of a disco#info query.
type Info struct {
	Identities []Identity
	Features   []string
	Forms      []Form
}

// HasFeature reports whether the feature var appears in the result.
func (i *Info) HasFeature(feature string) bool {
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasIdentity reports whether an identity with the given category and
// type appears in the result.
func (i *Info) HasIdentity(category, typ string) bool {
	for _, identity := range i.Identities {
		if identity.Category == category && identity.Type == typ {
			return true
		}
	}
	return false
}

// IdentityName returns the name of the first identity matching the
// category and type.
func (i *Info) IdentityName(category, typ string) string {
	for _, identity := range i.Identities {
		if identity.Category == category && identity.Type == typ {
			return identity.Name
		}
	}
	return ""
}

// Form locates the extension form with the given FORM_TYPE.
func (i *Info) Form(formType string) *Form {
	for idx := range i.Forms {
		if i.Forms[idx].Type() == formType {
			return &i.Forms[idx]
		}
	}
	return nil
}

// Item is a single disco#items entry.
type Item struct {
	Address types.Address
	Node    string
	Name    string
}
