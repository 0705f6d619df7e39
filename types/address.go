package types

import (
	"fmt"
	"strings"
)

// Address is the canonical identifier of a chat entity, composed of an
// optional localpart, a domain and an optional resource. All parts are
// case-folded, so two addresses compare equal iff their canonical string
// forms are byte-identical.
type Address struct {
	Localpart string
	Domain    string
	Resource  string
}

// ParseAddress parses and canonicalises an address of the form
// [localpart@]domain[/resource].
func ParseAddress(s string) (Address, error) {
	var a Address
	rest := s
	if idx := strings.Index(rest, "/"); idx >= 0 {
		a.Resource = rest[idx+1:]
		rest = rest[:idx]
	}
	if idx := strings.Index(rest, "@"); idx >= 0 {
		a.Localpart = rest[:idx]
		rest = rest[idx+1:]
		if a.Localpart == "" {
			return Address{}, fmt.Errorf("address %q has an empty localpart", s)
		}
	}
	a.Domain = rest
	if a.Domain == "" {
		return Address{}, fmt.Errorf("address %q has an empty domain", s)
	}
	if strings.ContainsAny(a.Domain, "@/ \t\r\n") || strings.ContainsAny(a.Localpart, "@/ \t\r\n") {
		return Address{}, fmt.Errorf("address %q contains forbidden characters", s)
	}
	a.Localpart = strings.ToLower(a.Localpart)
	a.Domain = strings.ToLower(strings.TrimSuffix(a.Domain, "."))
	if a.Domain == "" {
		return Address{}, fmt.Errorf("address %q has an empty domain", s)
	}
	return a, nil
}

// MustParseAddress is a test helper; it panics on invalid input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// DomainAddress returns the bare address of a domain.
func DomainAddress(domain string) Address {
	return Address{Domain: strings.ToLower(domain)}
}

func (a Address) String() string {
	var b strings.Builder
	if a.Localpart != "" {
		b.WriteString(a.Localpart)
		b.WriteByte('@')
	}
	b.WriteString(a.Domain)
	if a.Resource != "" {
		b.WriteByte('/')
		b.WriteString(a.Resource)
	}
	return b.String()
}

// Bare strips the resource.
func (a Address) Bare() Address {
	a.Resource = ""
	return a
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a.Domain == ""
}

// IsBareDomain reports whether the address consists of a domain only.
func (a Address) IsBareDomain() bool {
	return a.Localpart == "" && a.Resource == ""
}

// Less orders addresses by their canonical string form.
func (a Address) Less(b Address) bool {
	return a.String() < b.String()
}
