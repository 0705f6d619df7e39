package crawler

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const (
	defaultRoomBudget      = 500
	defaultFixedShare      = 0.4
	defaultObserverMin     = 2
	defaultShuffleInterval = 3 * time.Hour
	defaultLeaveTimeout    = 120 * time.Second
	defaultUpdateDelay     = 30 * time.Second
)

// The InsideObserver occupies a rotating set of rooms and watches the
// message flow: occupancy counts and subjects come in as events rather
// than probes, message timestamps feed the activity column, and
// addresses dropped in conversation become crawl candidates.
//
// The set is re-drawn every shuffle interval: a fixed share goes to
// the busiest rooms, the remaining slots are filled uniformly at
// random so that small rooms get observed too.
type InsideObserver struct {
	db       storage.Database
	client   xmpp.Client
	analyser *Analyser
	logger   *logrus.Entry

	Nickname        string
	RoomBudget      int
	FixedShare      float64
	MinUsers        int64
	ShuffleInterval time.Duration
	LeaveTimeout    time.Duration
	UpdateDelay     time.Duration

	mu     sync.Mutex
	joined map[string]*roomHandler
}

func NewInsideObserver(db storage.Database, client xmpp.Client, analyser *Analyser, nickname string) *InsideObserver {
	return &InsideObserver{
		db:              db,
		client:          client,
		analyser:        analyser,
		logger:          logrus.WithField("component", "observer"),
		Nickname:        nickname,
		RoomBudget:      defaultRoomBudget,
		FixedShare:      defaultFixedShare,
		MinUsers:        defaultObserverMin,
		ShuffleInterval: defaultShuffleInterval,
		LeaveTimeout:    defaultLeaveTimeout,
		UpdateDelay:     defaultUpdateDelay,
		joined:          make(map[string]*roomHandler),
	}
}

// Run re-shuffles the joined set once per interval until ctx is
// cancelled, then leaves all rooms.
func (o *InsideObserver) Run(ctx context.Context) {
	for {
		o.shuffle(ctx)
		if !sleepCtx(ctx, o.ShuffleInterval) {
			o.leaveAll()
			return
		}
	}
}

func (o *InsideObserver) shuffle(ctx context.Context) {
	o.logger.Info("Re-shuffling joined rooms")
	rooms, err := o.db.GetJoinableRoomsWithUserCount(ctx, o.MinUsers)
	if err != nil {
		o.logger.WithError(err).Error("Failed to list joinable rooms")
		return
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].NUsers > rooms[j].NUsers
	})

	nfixed := int(math.Round(o.FixedShare * float64(o.RoomBudget)))
	if nfixed > len(rooms) {
		nfixed = len(rooms)
	}
	next := make(map[string]bool, o.RoomBudget)
	for _, room := range rooms[:nfixed] {
		// fixed slots only go to rooms that are actually busy
		if room.NUsers > 2 {
			next[room.Address] = true
		}
	}
	rest := rooms[nfixed:]
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	for i := 0; i < len(rest) && len(next) < o.RoomBudget; i++ {
		next[rest[i].Address] = true
	}

	o.mu.Lock()
	var toJoin []string
	for address := range next {
		if _, ok := o.joined[address]; !ok {
			toJoin = append(toJoin, address)
		}
	}
	var toLeave []*roomHandler
	for address, handler := range o.joined {
		if !next[address] {
			toLeave = append(toLeave, handler)
		}
	}
	o.mu.Unlock()
	o.logger.WithFields(logrus.Fields{
		"join": len(toJoin), "leave": len(toLeave),
	}).Debug("Computed shuffle delta")

	for _, address := range toJoin {
		if ctx.Err() != nil {
			return
		}
		addr, err := types.ParseAddress(address)
		if err != nil {
			continue
		}
		room, err := o.client.JoinRoom(ctx, addr, o.Nickname)
		if err != nil {
			o.handleJoinFailure(ctx, addr, err)
			continue
		}
		handler := newRoomHandler(o, room)
		o.mu.Lock()
		o.joined[address] = handler
		count := len(o.joined)
		o.mu.Unlock()
		joinedRooms.Set(float64(count))
		o.db.MarkActive(addr)
		go handler.run()
	}

	for _, handler := range toLeave {
		handler.room.Leave()
	}
	timer := time.NewTimer(o.LeaveTimeout)
	defer timer.Stop()
	for _, handler := range toLeave {
		select {
		case <-handler.done:
		case <-timer.C:
			o.logger.Debug("Not all leave operations finished in time, continuing in background")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *InsideObserver) leaveAll() {
	o.mu.Lock()
	handlers := make([]*roomHandler, 0, len(o.joined))
	for _, handler := range o.joined {
		handlers = append(handlers, handler)
	}
	o.mu.Unlock()
	for _, handler := range handlers {
		handler.room.Leave()
	}
	timer := time.NewTimer(o.LeaveTimeout)
	defer timer.Stop()
	for _, handler := range handlers {
		select {
		case <-handler.done:
		case <-timer.C:
			return
		}
	}
}

// handleJoinFailure mirrors the exit handling: a denied join counts as
// a ban, everything else as temporarily unreachable.
func (o *InsideObserver) handleJoinFailure(ctx context.Context, addr types.Address, err error) {
	logger := o.logger.WithField("address", addr.String())
	if xmpp.IsAccessDenied(err) {
		logger.WithError(err).Warn("Banned from room, deleting all data")
		meta := types.AddressMetadata{
			IsReachable:   true,
			IsChatService: true,
			IsBanned:      true,
		}
		if err := o.db.CacheAddressMetadata(ctx, addr, meta, types.CacheTTLBanned); err != nil {
			logger.WithError(err).Error("Failed to cache ban")
		}
		if err := o.db.DeleteAllRoomData(ctx, addr); err != nil {
			logger.WithError(err).Error("Failed to delete room data")
		}
		return
	}
	logger.WithError(err).Info("Failed to join room")
	if err := o.db.CacheAddressMetadata(ctx, addr, types.AddressMetadata{}, types.CacheTTLUnreachable); err != nil {
		logger.WithError(err).Error("Failed to cache failure")
	}
}

// handlerStopped runs once a room handler's event stream has ended,
// voluntarily or not.
func (o *InsideObserver) handlerStopped(addr types.Address, mode xmpp.LeaveMode) {
	o.mu.Lock()
	delete(o.joined, addr.String())
	count := len(o.joined)
	o.mu.Unlock()
	joinedRooms.Set(float64(count))
	o.db.MarkInactive(addr)

	logger := o.logger.WithField("address", addr.String())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch mode {
	case xmpp.LeaveModeBanned:
		logger.Warn("Banned from room, deleting all data")
		meta := types.AddressMetadata{
			IsReachable:   true,
			IsChatService: true,
			IsBanned:      true,
		}
		if err := o.db.CacheAddressMetadata(ctx, addr, meta, types.CacheTTLBanned); err != nil {
			logger.WithError(err).Error("Failed to cache ban")
		}
		if err := o.db.DeleteAllRoomData(ctx, addr); err != nil {
			logger.WithError(err).Error("Failed to delete room data")
		}
	case xmpp.LeaveModeKicked:
		logger.Info("Kicked from room")
		kicked := true
		if err := o.db.UpdateRoomMetadata(ctx, addr, &types.RoomUpdate{WasKicked: &kicked}); err != nil {
			logger.WithError(err).Error("Failed to record kick")
		}
	case xmpp.LeaveModeError:
		logger.Info("Lost room due to an error")
		if err := o.db.CacheAddressMetadata(ctx, addr, types.AddressMetadata{}, types.CacheTTLUnreachable); err != nil {
			logger.WithError(err).Error("Failed to cache failure")
		}
	default:
		// left on our own initiative; the next shuffle may rejoin
	}
}

// A roomHandler consumes the event stream of one occupied room. Field
// updates are batched in a debounce window so that a burst of joins
// and leaves causes a single database write.
type roomHandler struct {
	observer *InsideObserver
	room     xmpp.Room
	logger   *logrus.Entry
	done     chan struct{}

	mu              sync.Mutex
	pending         *types.RoomUpdate
	lastMessageHour time.Time
}

func newRoomHandler(o *InsideObserver, room xmpp.Room) *roomHandler {
	return &roomHandler{
		observer: o,
		room:     room,
		logger:   o.logger.WithField("room", room.Address().String()),
		done:     make(chan struct{}),
	}
}

func (h *roomHandler) run() {
	defer close(h.done)
	exitMode := xmpp.LeaveModeNormal
	for ev := range h.room.Events() {
		switch ev.Kind {
		case xmpp.RoomEventJoin, xmpp.RoomEventLeave:
			n := h.room.MemberCount() - 1 // not counting ourselves
			if n < 0 {
				n = 0
			}
			h.queueUpdate(func(u *types.RoomUpdate) { u.NUsers = &n })
		case xmpp.RoomEventSubject:
			subject := ev.Body
			h.queueUpdate(func(u *types.RoomUpdate) { u.Subject = &subject })
		case xmpp.RoomEventMessage:
			h.handleMessage(ev)
		case xmpp.RoomEventExit:
			exitMode = ev.Mode
		}
	}
	h.flush()
	h.observer.handlerStopped(h.room.Address(), exitMode)
}

func (h *roomHandler) queueUpdate(apply func(*types.RoomUpdate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending == nil {
		h.pending = &types.RoomUpdate{}
		time.AfterFunc(h.observer.UpdateDelay, h.flush)
	}
	apply(h.pending)
}

func (h *roomHandler) flush() {
	h.mu.Lock()
	upd := h.pending
	h.pending = nil
	h.mu.Unlock()
	if upd == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.observer.db.UpdateRoomMetadata(ctx, h.room.Address(), upd); err != nil {
		h.logger.WithError(err).Error("Failed to flush room update")
	}
}

func (h *roomHandler) handleMessage(ev *xmpp.RoomEvent) {
	if ev.Body == "" {
		return
	}
	now := time.Now().UTC()
	hour := now.Truncate(time.Hour)

	h.mu.Lock()
	newHour := !hour.Equal(h.lastMessageHour)
	if newHour {
		h.lastMessageHour = hour
	}
	h.mu.Unlock()
	if newHour {
		h.queueUpdate(func(u *types.RoomUpdate) { u.LastMessageTS = &hour })
	}

	source := h.room.Address()
	for _, candidate := range ExtractCandidateAddresses(ev.Body) {
		h.observer.analyser.SuggestNowait(Candidate{
			Address: candidate.Address,
			Report: func(addr types.Address, meta types.AddressMetadata) {
				if !meta.IsIndexable {
					return
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := h.observer.db.StoreReferral(ctx, source, addr, now); err != nil {
					h.logger.WithError(err).Error("Failed to store referral")
				}
			},
		})
	}
}
