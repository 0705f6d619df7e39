package xmpp

import "strconv"

// FormType values of the data forms the crawler reads and emits.
const (
	FormTypeRoomInfo     = "http://jabber.org/protocol/muc#roominfo"
	FormTypeSearchParams = "https://xmlns.zombofant.net/muclumbus/search/1.0#params"
	FormTypeServerInfo   = "http://jabber.org/network/serverinfo"
)

// Server info form fields.
const (
	FieldAbuseAddresses = "abuse-addresses"
)

// Room info form fields.
const (
	FieldRoomOccupants   = "muc#roominfo_occupants"
	FieldRoomDescription = "muc#roominfo_description"
	FieldRoomDescAlt     = "muc#roomconfig_roomdesc"
	FieldRoomSubject     = "muc#roominfo_subject"
	FieldRoomLanguage    = "muc#roominfo_lang"
	FieldRoomLogs        = "muc#roominfo_logs"
	FieldRoomWebChat     = "muc#roominfo_webchat_url"
)

// FormField is a single field of a data form.
type FormField struct {
	Var    string
	Type   string
	Label  string
	Values []string
}

// Form is a data form, either received as a disco#info extension or
// submitted as search parameters.
type Form struct {
	FormType string // "form", "submit" or "result"
	Fields   []FormField
}

// Type returns the FORM_TYPE field value, identifying the form.
func (f *Form) Type() string {
	return f.Value("FORM_TYPE")
}

// Field returns the field with the given var, or nil.
func (f *Form) Field(name string) *FormField {
	for i := range f.Fields {
		if f.Fields[i].Var == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// Value returns the first value of the named field, or "".
func (f *Form) Value(name string) string {
	field := f.Field(name)
	if field == nil || len(field.Values) == 0 {
		return ""
	}
	return field.Values[0]
}

// ValuesOf returns all values of the named field.
func (f *Form) ValuesOf(name string) []string {
	field := f.Field(name)
	if field == nil {
		return nil
	}
	return field.Values
}

// IntValue returns the first value of the named field parsed as an
// integer. ok is false if the field is absent or not numeric.
func (f *Form) IntValue(name string) (value int, ok bool) {
	raw := f.Value(name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	return value, err == nil
}

// BoolValue interprets the first value of the named field as a data
// form boolean.
func (f *Form) BoolValue(name string) (value, ok bool) {
	switch f.Value(name) {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	}
	return false, false
}
