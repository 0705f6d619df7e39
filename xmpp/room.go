package xmpp

import "github.com/horazont/muchopper/types"

// RoomEventKind enumerates the occupancy events a joined room emits.
type RoomEventKind int

const (
	// RoomEventMessage is a groupchat message from another occupant.
	RoomEventMessage RoomEventKind = iota
	// RoomEventJoin and RoomEventLeave track other occupants.
	RoomEventJoin
	RoomEventLeave
	// RoomEventSubject is a subject change (also sent once on join).
	RoomEventSubject
	// RoomEventExit means our own occupancy ended involuntarily.
	RoomEventExit
)

// LeaveMode describes how an occupancy ended.
type LeaveMode int

const (
	LeaveModeNormal LeaveMode = iota
	LeaveModeKicked
	LeaveModeBanned
	LeaveModeError
	LeaveModeShutdown
)

// RoomEvent is a single occupancy event.
type RoomEvent struct {
	Kind RoomEventKind
	// Occupant is the room nickname the event concerns.
	Occupant string
	// RealAddress is the unmasked address of the occupant, if the room
	// discloses it.
	RealAddress *types.Address
	// Body carries the message text or new subject.
	Body string
	// Mode qualifies RoomEventExit and RoomEventLeave.
	Mode LeaveMode
}

// Room is an occupied room.
type Room interface {
	Address() types.Address
	// Events delivers occupancy events. The channel closes after a
	// RoomEventExit or once Leave completes.
	Events() <-chan *RoomEvent
	// MemberCount is the currently known number of occupants, ourselves
	// included.
	MemberCount() int
	// Leave exits the room. Safe to call more than once.
	Leave()
}
