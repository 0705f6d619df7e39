package types_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/types"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want types.Address
	}{
		{"room@muc.example.org", types.Address{Localpart: "room", Domain: "muc.example.org"}},
		{"muc.example.org", types.Address{Domain: "muc.example.org"}},
		{"Room@MUC.Example.ORG", types.Address{Localpart: "room", Domain: "muc.example.org"}},
		{"room@muc.example.org/nick", types.Address{Localpart: "room", Domain: "muc.example.org", Resource: "nick"}},
		{"muc.example.org.", types.Address{Domain: "muc.example.org"}},
	}
	for _, tc := range tests {
		got, err := types.ParseAddress(tc.in)
		require.NoError(t, err, "ParseAddress(%q)", tc.in)
		assert.Equal(t, tc.want, got, "ParseAddress(%q)", tc.in)
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "@example.org", "a b@example.org", "room@", "room@ex ample.org"} {
		_, err := types.ParseAddress(in)
		assert.Error(t, err, "ParseAddress(%q)", in)
	}
}

func TestAddressStringRoundtrip(t *testing.T) {
	for _, in := range []string{"room@muc.example.org", "muc.example.org", "room@muc.example.org/nick"} {
		a, err := types.ParseAddress(in)
		require.NoError(t, err)
		assert.Equal(t, in, a.String())
	}
}

func TestAddressBare(t *testing.T) {
	a := types.MustParseAddress("room@muc.example.org/nick")
	assert.Equal(t, "room@muc.example.org", a.Bare().String())
	assert.False(t, a.IsBareDomain())
	assert.True(t, types.DomainAddress("Example.ORG").IsBareDomain())
}

func TestAddressOrdering(t *testing.T) {
	addrs := []types.Address{
		types.MustParseAddress("b@x.example"),
		types.MustParseAddress("a@y.example"),
		types.MustParseAddress("a@x.example"),
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	assert.Equal(t, "a@x.example", addrs[0].String())
	assert.Equal(t, "a@y.example", addrs[1].String())
	assert.Equal(t, "b@x.example", addrs[2].String())
}
