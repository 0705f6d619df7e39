package crawler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

func newTestInteraction(t *testing.T, client *fakeClient) *InteractionHandler {
	t.Helper()
	db := newTestDatabase(t)
	watcher := NewWatcher(db, client, nil)
	analyser := NewAnalyser(db, client, watcher)
	t.Cleanup(func() {
		analyser.Close()
		watcher.pool.Close(true)
	})
	privileged := []types.Address{types.MustParseAddress("admin@example.net")}
	return NewInteractionHandler(client, analyser, caching.NewRistrettoCache(false), privileged)
}

func TestInteraction_DirectChatAnsweredOnce(t *testing.T) {
	client := newFakeClient()
	h := newTestInteraction(t, client)
	peer := types.MustParseAddress("curious@example.net/phone")

	msg := &xmpp.Message{Type: xmpp.MessageChat, From: peer, Body: "what are you?"}
	h.handle(context.Background(), msg)
	h.handle(context.Background(), msg)

	sent := client.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, peer, sent[0].To)
	assert.Equal(t, xmpp.MessageChat, sent[0].Type)
	assert.True(t, strings.Contains(sent[0].Body, "Privacy Policy"))
	assert.NotEmpty(t, sent[0].ID)
}

func TestInteraction_DirectInviteAcknowledged(t *testing.T) {
	client := newFakeClient()
	h := newTestInteraction(t, client)
	room := types.MustParseAddress("suggested@muc.example.net")
	client.infos[room.String()] = roomInfo("Suggested", 2)

	invited := room
	h.handle(context.Background(), &xmpp.Message{
		Type:           xmpp.MessageNormal,
		From:           types.MustParseAddress("friend@example.net/laptop"),
		DirectInviteTo: &invited,
	})

	sent := client.sentMessages()
	require.Len(t, sent, 1)
	assert.True(t, strings.Contains(sent[0].Body, "thank you for your invite"))
}

func TestInteraction_MediatedInviteSilent(t *testing.T) {
	client := newFakeClient()
	h := newTestInteraction(t, client)
	room := types.MustParseAddress("origin@muc.example.net")
	client.infos[room.String()] = roomInfo("Origin", 2)

	origin := room
	h.handle(context.Background(), &xmpp.Message{
		Type:               xmpp.MessageNormal,
		From:               room,
		MediatedInviteFrom: &origin,
	})

	assert.Empty(t, client.sentMessages())
}

func TestInteraction_ErrorAndGroupchatIgnored(t *testing.T) {
	client := newFakeClient()
	h := newTestInteraction(t, client)
	peer := types.MustParseAddress("someone@example.net")

	h.handle(context.Background(), &xmpp.Message{Type: xmpp.MessageError, From: peer, Body: "boom"})
	h.handle(context.Background(), &xmpp.Message{Type: xmpp.MessageGroupchat, From: peer, Body: "hello all"})

	assert.Empty(t, client.sentMessages())
}

func TestInteraction_EmptyBodyIgnored(t *testing.T) {
	client := newFakeClient()
	h := newTestInteraction(t, client)

	h.handle(context.Background(), &xmpp.Message{
		Type: xmpp.MessageChat,
		From: types.MustParseAddress("typing@example.net"),
	})
	assert.Empty(t, client.sentMessages())
}
