package mirror

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/workerpool"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const (
	serverWorkers = 4
	serverQueue   = serverWorkers * 128
	serverDelay   = 40 * time.Millisecond
	serverTimeout = 60 * time.Second

	// effectively unbounded; the node holds one item per public room
	nodeMaxItems = 16777216
)

type task func(ctx context.Context) error

// The Server republishes the local public room catalogue on a pub/sub
// node, one item per room keyed by address. Store change signals feed
// the publication queue; a reconciliation pass on startup repairs
// whatever was lost while disconnected.
type Server struct {
	db     storage.Database
	pubsub xmpp.PubSub
	logger *logrus.Entry
	pool   *workerpool.Pool[task]
}

func NewServer(db storage.Database, client xmpp.Client, service types.Address) *Server {
	s := &Server{
		db:     db,
		pubsub: client.PubSub(service),
		logger: logrus.WithField("component", "mirror-server"),
	}
	s.pool = workerpool.New(workerpool.Config{
		Workers:   serverWorkers,
		QueueSize: serverQueue,
		Timeout:   serverTimeout,
		Delay:     serverDelay,
		Name:      "mirror-server",
		Logger:    s.logger,
	}, func(ctx context.Context, t task) error {
		return t(ctx)
	})
	db.Signals().OnRoomChanged(s.onRoomChanged)
	db.Signals().OnRoomDeleted(s.onRoomDeleted)
	return s
}

// Run prepares the node, reconciles it with the local catalogue and
// then serves queued publications until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.pool.Close(false)

	if err := s.setupNode(ctx); err != nil {
		return err
	}
	if err := s.initialSync(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Server) setupNode(ctx context.Context) error {
	if err := s.pubsub.CreateNode(ctx, NodeMUCs); err != nil {
		if condition, ok := xmpp.ConditionOf(err); !ok || condition != xmpp.ConditionConflict {
			return err
		}
		s.logger.Debug("Node exists already")
	}
	err := s.pubsub.ConfigureNode(ctx, NodeMUCs, xmpp.NodeConfig{
		AccessModel:  "open",
		PersistItems: true,
		MaxItems:     nodeMaxItems,
	})
	if err != nil {
		// tolerable: defaults usually work, worst case items expire
		s.logger.WithError(err).Warn("Failed to configure node")
	}
	return nil
}

// initialSync diffs the node against the local catalogue: locally
// unknown items are retracted, locally known but unpublished rooms are
// published. This repairs deletes lost while the stream was down.
func (s *Server) initialSync(ctx context.Context) error {
	ids, err := s.pubsub.ItemIDs(ctx, NodeMUCs)
	if err != nil {
		return err
	}
	remote := make(map[string]bool, len(ids))
	for _, id := range ids {
		remote[id] = true
	}

	local, err := s.db.GetPublicRoomAddresses(ctx)
	if err != nil {
		return err
	}

	var created, existing int
	for _, address := range local {
		if remote[address] {
			delete(remote, address)
			existing++
			continue
		}
		created++
		if err := s.pool.Enqueue(ctx, s.publishTask(address), nil); err != nil {
			return err
		}
	}
	for address := range remote {
		if err := s.pool.Enqueue(ctx, s.retractTask(address), nil); err != nil {
			return err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"creates": created, "deletes": len(remote), "existing": existing,
	}).Info("Initial synchronisation enqueued")
	return nil
}

func (s *Server) enqueue(t task) {
	if err := s.pool.EnqueueNowait(t); err != nil {
		// eventual reconciliation repairs lost updates
		s.logger.WithError(err).Warn("Lost update due to overloaded worker")
	}
}

func (s *Server) onRoomChanged(addr types.Address) {
	s.enqueue(s.publishTask(addr.String()))
}

func (s *Server) onRoomDeleted(addr types.Address) {
	s.enqueue(s.retractTask(addr.String()))
}

// publishTask re-reads the room at execution time: if it no longer
// qualifies as public the publication turns into a retraction.
func (s *Server) publishTask(address string) task {
	return func(ctx context.Context) error {
		addr, err := types.ParseAddress(address)
		if err != nil {
			return err
		}
		view, err := s.db.GetPublicRoomView(ctx, addr)
		if err != nil {
			return err
		}
		if view == nil {
			return s.retract(ctx, address)
		}
		return s.pubsub.Publish(ctx, NodeMUCs, address, SyncItemFromView(view))
	}
}

func (s *Server) retractTask(address string) task {
	return func(ctx context.Context) error {
		return s.retract(ctx, address)
	}
}

func (s *Server) retract(ctx context.Context, address string) error {
	err := s.pubsub.Retract(ctx, NodeMUCs, address)
	if err != nil {
		if condition, ok := xmpp.ConditionOf(err); ok && condition == xmpp.ConditionItemNotFound {
			return nil
		}
	}
	return err
}
