package mirror

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/workerpool"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const (
	transferWorkers = 32
	transferQueue   = 64
)

// The Client follows a remote catalogue node and mirrors it into the
// local store. It claims exclusive write access: no crawling component
// may run in the same instance.
type Client struct {
	db     storage.Database
	pubsub xmpp.PubSub
	logger *logrus.Entry
}

func NewClient(db storage.Database, client xmpp.Client, service types.Address) *Client {
	return &Client{
		db:     db,
		pubsub: client.PubSub(service),
		logger: logrus.WithField("component", "mirror-client"),
	}
}

// Run subscribes to the node, performs the initial transfer and then
// applies push notifications until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.pubsub.Subscribe(ctx, NodeMUCs); err != nil {
		if condition, ok := xmpp.ConditionOf(err); !ok || condition != xmpp.ConditionConflict {
			return err
		}
		c.logger.Debug("Already subscribed")
	}

	if err := c.initialTransfer(ctx); err != nil {
		return err
	}

	events := c.pubsub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(ctx, ev)
		}
	}
}

// initialTransfer downloads the full node contents in parallel and
// afterwards deletes every local room the remote does not know,
// repairing retractions lost while disconnected.
func (c *Client) initialTransfer(ctx context.Context) error {
	ids, err := c.pubsub.ItemIDs(ctx, NodeMUCs)
	if err != nil {
		return err
	}
	c.logger.WithField("items", len(ids)).Info("Starting initial transfer")

	var mu sync.Mutex
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	pool := workerpool.New(workerpool.Config{
		Workers:   transferWorkers,
		QueueSize: transferQueue,
		Name:      "mirror-transfer",
		Logger:    c.logger,
	}, func(ctx context.Context, id string) error {
		items, err := c.pubsub.ItemsByID(ctx, NodeMUCs, []string{id})
		if err != nil {
			if condition, ok := xmpp.ConditionOf(err); ok && condition == xmpp.ConditionItemNotFound {
				// vanished between listing and download; the sweep
				// below then deletes it locally
				mu.Lock()
				delete(keep, id)
				mu.Unlock()
				return nil
			}
			return err
		}
		for _, item := range items {
			if err := c.applyPayload(ctx, item.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	defer pool.Close(false)

	// Enqueue tracks each queued item on the batch itself
	var batch sync.WaitGroup
	for _, id := range ids {
		if err := pool.Enqueue(ctx, id, &batch); err != nil {
			return err
		}
	}
	batch.Wait()
	c.logger.Info("State download complete")

	local, err := c.db.GetPublicRoomAddresses(ctx)
	if err != nil {
		return err
	}
	for _, address := range local {
		mu.Lock()
		known := keep[address]
		mu.Unlock()
		if known {
			continue
		}
		addr, err := types.ParseAddress(address)
		if err != nil {
			continue
		}
		c.logger.WithField("address", address).Debug("Not on remote, deleting")
		if err := c.db.DeleteAllRoomData(ctx, addr); err != nil {
			return err
		}
	}
	c.logger.Info("State transfer complete")
	return nil
}

func (c *Client) handleEvent(ctx context.Context, ev *xmpp.PubSubEvent) {
	if ev.Node != NodeMUCs {
		return
	}
	switch ev.Kind {
	case xmpp.PubSubEventPublish:
		if err := c.applyPayload(ctx, ev.Item.Payload); err != nil {
			c.logger.WithError(err).WithField("item", ev.Item.ID).
				Warn("Failed to apply update")
		}
	case xmpp.PubSubEventRetract:
		addr, err := types.ParseAddress(ev.Item.ID)
		if err != nil {
			c.logger.WithError(err).Warn("Retraction with unparseable item ID")
			return
		}
		if err := c.db.DeleteAllRoomData(ctx, addr); err != nil {
			c.logger.WithError(err).WithField("address", addr.String()).
				Warn("Failed to apply retraction")
		}
	case xmpp.PubSubEventNodeDeleted, xmpp.PubSubEventNodePurged:
		c.logger.Warn("Source node was deleted or purged")
	}
}

func (c *Client) applyPayload(ctx context.Context, payload []byte) error {
	item, err := ParseSyncItem(payload)
	if err != nil {
		return err
	}
	addr, err := types.ParseAddress(item.Address)
	if err != nil {
		return err
	}

	isOpen := bool(item.IsOpen)
	saveable := true
	public := true
	upd := &types.RoomUpdate{
		IsOpen:      &isOpen,
		IsSaveable:  &saveable,
		IsPublic:    &public,
		Name:        &item.Name,
		Description: &item.Description,
		Language:    &item.Language,
	}
	if item.NUsers != nil {
		nusers := int(math.Round(*item.NUsers))
		upd.NUsers = &nusers
	}
	if item.AnonymityMode != "" {
		mode := types.AnonymityMode(item.AnonymityMode)
		upd.AnonymityMode = &mode
	}
	return c.db.UpdateRoomMetadata(ctx, addr, upd)
}
