package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/types"
)

func TestExtractCandidateAddresses_FullURI(t *testing.T) {
	out := ExtractCandidateAddresses("join us at xmpp:room@muc.example.net?join please")
	require.Len(t, out, 1)
	assert.Equal(t, types.MustParseAddress("room@muc.example.net"), out[0].Address)
	assert.Equal(t, 3, out[0].Score)
}

func TestExtractCandidateAddresses_BareAddress(t *testing.T) {
	out := ExtractCandidateAddresses("try room@muc.example.net sometime")
	require.Len(t, out, 1)
	assert.Equal(t, types.MustParseAddress("room@muc.example.net"), out[0].Address)
	assert.Equal(t, 1, out[0].Score)
}

func TestExtractCandidateAddresses_ProseIgnored(t *testing.T) {
	assert.Empty(t, ExtractCandidateAddresses("nothing to see here, move along"))
}

func TestExtractCandidateAddresses_WebURLIgnored(t *testing.T) {
	// a URL has no localpart, scheme or join query in our sense
	assert.Empty(t, ExtractCandidateAddresses("see https://example.net/rooms for details"))
}

func TestExtractCandidateAddresses_PercentEncoded(t *testing.T) {
	out := ExtractCandidateAddresses("xmpp:caf%C3%A9@muc.example.net?join")
	require.Len(t, out, 1)
	assert.Equal(t, "café@muc.example.net", out[0].Address.String())
	assert.Equal(t, 3, out[0].Score)
}

func TestExtractCandidateAddresses_Multiple(t *testing.T) {
	out := ExtractCandidateAddresses("a@x.example or xmpp:b@y.example?join")
	require.Len(t, out, 2)
	assert.Equal(t, "a@x.example", out[0].Address.String())
	assert.Equal(t, "b@y.example", out[1].Address.String())
	assert.Greater(t, out[1].Score, out[0].Score)
}
