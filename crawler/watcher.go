package crawler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/workerpool"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const (
	watcherWorkers  = 8
	watcherInterval = time.Hour
	watcherTimeout  = 60 * time.Second
	watcherDelay    = 50 * time.Millisecond

	// Rooms drop out of the index when no probe has succeeded for this
	// long.
	roomExpireAfter = 2 * 24 * time.Hour
)

// The Watcher keeps the metadata of inactive rooms fresh. Inactive
// rooms are those the inside observer is not currently joined to; it
// probes each of them once per pass and additionally accepts ad-hoc
// requests from the analyser.
type Watcher struct {
	db     storage.Database
	client xmpp.Client
	logger *logrus.Entry
	pool   *workerpool.Pool[types.Address]

	// AvatarWhitelist lists room and service addresses whose avatars
	// are fetched and stored.
	AvatarWhitelist map[string]bool
}

func NewWatcher(db storage.Database, client xmpp.Client, avatarWhitelist []types.Address) *Watcher {
	w := &Watcher{
		db:              db,
		client:          client,
		logger:          logrus.WithField("component", "watcher"),
		AvatarWhitelist: make(map[string]bool, len(avatarWhitelist)),
	}
	for _, addr := range avatarWhitelist {
		w.AvatarWhitelist[addr.String()] = true
	}
	w.pool = workerpool.New(workerpool.Config{
		Workers:   watcherWorkers,
		QueueSize: watcherWorkers,
		Timeout:   watcherTimeout,
		Delay:     watcherDelay,
		Name:      "watcher",
		Logger:    w.logger,
	}, w.processRoom)
	return w
}

// QueueRequest asks the watcher to probe a single address out of band,
// blocking while the queue is full.
func (w *Watcher) QueueRequest(ctx context.Context, addr types.Address) error {
	return w.pool.Enqueue(ctx, addr, nil)
}

// Run probes all inactive rooms once per interval until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.pool.Close(false)
	runPeriodically(ctx, w.logger, "watcher", watcherInterval, w.pass)
}

func (w *Watcher) pass(ctx context.Context) error {
	rooms, err := w.db.GetAllKnownInactiveRooms(ctx)
	if err != nil {
		return err
	}
	rand.Shuffle(len(rooms), func(i, j int) {
		rooms[i], rooms[j] = rooms[j], rooms[i]
	})
	w.logger.WithField("rooms", len(rooms)).Debug("Starting pass")

	// Enqueue tracks each queued item on the batch itself
	var batch sync.WaitGroup
	for _, addr := range rooms {
		if err := w.pool.Enqueue(ctx, addr, &batch); err != nil {
			return err
		}
	}
	batch.Wait()

	threshold := time.Now().UTC().Add(-roomExpireAfter)
	return w.db.ExpireRooms(ctx, threshold)
}

func (w *Watcher) processRoom(ctx context.Context, addr types.Address) error {
	logger := w.logger.WithField("address", addr.String())

	info, err := w.client.DiscoInfo(ctx, addr, true)
	if err != nil {
		if xmpp.IsAddressGone(err) {
			logger.Info("Room no longer exists, erasing")
			roomsScannedTotal.WithLabelValues("gone").Inc()
			return w.db.DeleteAllRoomData(ctx, addr)
		}
		roomsScannedTotal.WithLabelValues("failed").Inc()
		return err
	}
	roomsScannedTotal.WithLabelValues("success").Inc()

	meta := xmpp.DeriveAddressMetadata(info)
	ri := xmpp.ExtractRoomInfo(info)

	saveable := info.HasFeature(xmpp.FeatureMUCPersistent)
	upd := &types.RoomUpdate{
		NUsers:      ri.NUsers,
		IsOpen:      &meta.IsJoinable,
		IsPublic:    &meta.IsIndexable,
		IsSaveable:  &saveable,
		Name:        &ri.Name,
		Description: &ri.Description,
		Subject:     &ri.Subject,
		Language:    &ri.Language,
		HTTPLogsURL: &ri.HTTPLogsURL,
		WebChatURL:  &ri.WebChatURL,
	}
	if ri.Anonymity != "" {
		upd.AnonymityMode = &ri.Anonymity
	}
	if err := w.db.UpdateRoomMetadata(ctx, addr, upd); err != nil {
		return err
	}

	if meta.IsIndexable && w.avatarWhitelisted(addr) {
		w.refreshAvatar(ctx, logger, addr)
	}
	return nil
}

func (w *Watcher) avatarWhitelisted(addr types.Address) bool {
	return w.AvatarWhitelist[addr.String()] ||
		w.AvatarWhitelist[types.DomainAddress(addr.Domain).String()]
}

// refreshAvatar is best-effort: fetch failures leave the stored avatar
// untouched.
func (w *Watcher) refreshAvatar(ctx context.Context, logger *logrus.Entry, addr types.Address) {
	data, mimeType, err := w.client.FetchAvatar(ctx, addr)
	if err != nil {
		logger.WithError(err).Info("Failed to fetch avatar")
		return
	}
	if err := w.db.UpdateRoomAvatar(ctx, addr, data, mimeType); err != nil {
		logger.WithError(err).Warn("Failed to store avatar")
	}
}
