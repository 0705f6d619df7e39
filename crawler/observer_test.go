package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/storage/shared"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

type fakeRoom struct {
	addr    types.Address
	events  chan *xmpp.RoomEvent
	mu      sync.Mutex
	members int
	left    bool
}

func newFakeRoom(addr types.Address, members int) *fakeRoom {
	return &fakeRoom{
		addr:    addr,
		events:  make(chan *xmpp.RoomEvent, 16),
		members: members,
	}
}

func (r *fakeRoom) Address() types.Address           { return r.addr }
func (r *fakeRoom) Events() <-chan *xmpp.RoomEvent   { return r.events }
func (r *fakeRoom) MemberCount() int                 { r.mu.Lock(); defer r.mu.Unlock(); return r.members }
func (r *fakeRoom) setMemberCount(n int)             { r.mu.Lock(); defer r.mu.Unlock(); r.members = n }
func (r *fakeRoom) emit(ev *xmpp.RoomEvent)          { r.events <- ev }
func (r *fakeRoom) Leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.left {
		r.left = true
		close(r.events)
	}
}

func newTestObserver(t *testing.T, client *fakeClient) *InsideObserver {
	t.Helper()
	db := newTestDatabase(t)
	watcher := NewWatcher(db, client, nil)
	analyser := NewAnalyser(db, client, watcher)
	t.Cleanup(func() {
		analyser.Close()
		watcher.pool.Close(true)
	})
	o := NewInsideObserver(db, client, analyser, "muchopper")
	o.UpdateDelay = 50 * time.Millisecond
	return o
}

func track(o *InsideObserver, room *fakeRoom) *roomHandler {
	handler := newRoomHandler(o, room)
	o.mu.Lock()
	o.joined[room.addr.String()] = handler
	o.mu.Unlock()
	o.db.MarkActive(room.addr)
	go handler.run()
	return handler
}

func TestRoomHandler_DebouncedOccupancyUpdates(t *testing.T) {
	client := newFakeClient()
	o := newTestObserver(t, client)
	addr := types.MustParseAddress("busy@muc.example.net")

	open := true
	require.NoError(t, o.db.UpdateRoomMetadata(context.Background(), addr, &types.RoomUpdate{
		IsOpen: &open, IsPublic: &open,
	}))

	room := newFakeRoom(addr, 4)
	track(o, room)

	// a burst of joins within the debounce window collapses to the
	// final count
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventJoin, Occupant: "alice"})
	room.setMemberCount(5)
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventJoin, Occupant: "bob"})
	room.setMemberCount(6)
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventJoin, Occupant: "carol"})

	assert.Eventually(t, func() bool {
		view, err := o.db.GetPublicRoomView(context.Background(), addr)
		return err == nil && view != nil && view.NUsersMovingAverage.Valid &&
			view.NUsersMovingAverage.Float64 == 5.0
	}, 5*time.Second, 20*time.Millisecond)

	room.Leave()
}

func TestRoomHandler_SubjectUpdate(t *testing.T) {
	client := newFakeClient()
	o := newTestObserver(t, client)
	addr := types.MustParseAddress("chatty@muc.example.net")

	open := true
	require.NoError(t, o.db.UpdateRoomMetadata(context.Background(), addr, &types.RoomUpdate{
		IsOpen: &open, IsPublic: &open,
	}))

	room := newFakeRoom(addr, 3)
	track(o, room)
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventSubject, Body: "today: release planning"})

	sdb := o.db.(*shared.Database)
	assert.Eventually(t, func() bool {
		row, err := sdb.PublicRooms.SelectPublicRoom(context.Background(), nil, addr.String())
		return err == nil && row != nil && row.Subject.String == "today: release planning"
	}, 5*time.Second, 20*time.Millisecond)

	room.Leave()
}

func TestRoomHandler_BannedExitErasesRoom(t *testing.T) {
	client := newFakeClient()
	o := newTestObserver(t, client)
	addr := types.MustParseAddress("hostile@muc.example.net")

	open := true
	require.NoError(t, o.db.UpdateRoomMetadata(context.Background(), addr, &types.RoomUpdate{
		IsOpen: &open, IsPublic: &open,
	}))

	room := newFakeRoom(addr, 3)
	track(o, room)
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventExit, Mode: xmpp.LeaveModeBanned})
	room.Leave()

	assert.Eventually(t, func() bool {
		meta, err := o.db.GetAddressMetadata(context.Background(), addr)
		return err == nil && meta != nil && meta.IsBanned
	}, 5*time.Second, 20*time.Millisecond)

	view, err := o.db.GetPublicRoomView(context.Background(), addr)
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.False(t, o.db.IsActive(addr))
}

func TestRoomHandler_KickedExitSticks(t *testing.T) {
	client := newFakeClient()
	o := newTestObserver(t, client)
	addr := types.MustParseAddress("strict@muc.example.net")

	open := true
	require.NoError(t, o.db.UpdateRoomMetadata(context.Background(), addr, &types.RoomUpdate{
		IsOpen: &open, IsPublic: &open,
	}))

	room := newFakeRoom(addr, 3)
	track(o, room)
	room.emit(&xmpp.RoomEvent{Kind: xmpp.RoomEventExit, Mode: xmpp.LeaveModeKicked})
	room.Leave()

	assert.Eventually(t, func() bool {
		view, err := o.db.GetPublicRoomView(context.Background(), addr)
		return err == nil && view != nil
	}, 5*time.Second, 20*time.Millisecond)
	// the room stays listed; only the kick marker is recorded
}

func TestRoomHandler_MessageCandidatesBecomeReferrals(t *testing.T) {
	client := newFakeClient()
	o := newTestObserver(t, client)
	source := types.MustParseAddress("origin@muc.example.net")
	dest := types.MustParseAddress("target@muc.example.net")

	open := true
	name := "Origin"
	require.NoError(t, o.db.UpdateRoomMetadata(context.Background(), source, &types.RoomUpdate{
		IsOpen: &open, IsPublic: &open, Name: &name,
	}))
	client.infos[dest.String()] = roomInfo("Target", 6)

	room := newFakeRoom(source, 3)
	track(o, room)
	room.emit(&xmpp.RoomEvent{
		Kind:     xmpp.RoomEventMessage,
		Occupant: "alice",
		Body:     "you should all come to xmpp:target@muc.example.net?join",
	})

	// candidate -> analyser -> watcher makes the room public, and the
	// report callback then records the referral
	assert.Eventually(t, func() bool {
		view, err := o.db.GetPublicRoomView(context.Background(), dest)
		return err == nil && view != nil
	}, 10*time.Second, 50*time.Millisecond)

	room.Leave()
}
