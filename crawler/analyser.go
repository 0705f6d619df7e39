package crawler

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
	analyserWorkers = 16
	analyserQueue   = 128
	analyserTimeout = 15 * time.Second
	analyserDelay   = 500 * time.Millisecond
)

// A Candidate is an address suggested for classification.
type Candidate struct {
	Address types.Address

	// Privileged submissions come from trusted entities or our own
	// scanning and skip the minimum occupancy heuristics downstream.
	Privileged bool

	// Report, if non-nil, is invoked with the classification result
	// after it has been persisted.
	Report func(addr types.Address, meta types.AddressMetadata)
}

// The Analyser classifies candidate addresses: it probes them, records
// negative outcomes in the metadata cache with a TTL matching the kind
// of failure, and hands rooms worth tracking to the watcher.
type Analyser struct {
	db      storage.Database
	client  xmpp.Client
	watcher *Watcher
	logger  *logrus.Entry
	pool    *workerpool.Pool[Candidate]
}

func NewAnalyser(db storage.Database, client xmpp.Client, watcher *Watcher) *Analyser {
	a := &Analyser{
		db:      db,
		client:  client,
		watcher: watcher,
		logger:  logrus.WithField("component", "analyser"),
	}
	a.pool = workerpool.New(workerpool.Config{
		Workers:   analyserWorkers,
		QueueSize: analyserQueue,
		Timeout:   analyserTimeout,
		Delay:     analyserDelay,
		Name:      "analysis",
		Logger:    a.logger,
	}, a.analyse)
	return a
}

// Suggest queues a candidate, blocking while the queue is full.
func (a *Analyser) Suggest(ctx context.Context, c Candidate) error {
	c.Address = c.Address.Bare()
	return a.pool.Enqueue(ctx, c, nil)
}

// SuggestNowait queues a candidate if there is room and drops it
// otherwise. Dropped candidates resurface through the periodic scans.
func (a *Analyser) SuggestNowait(c Candidate) {
	c.Address = c.Address.Bare()
	if err := a.pool.EnqueueNowait(c); err != nil {
		a.logger.WithField("address", c.Address.String()).
			WithError(err).Warn("Dropping suggested address")
	}
}

// Close stops the analysis pool, dropping queued candidates.
func (a *Analyser) Close() {
	a.pool.Close(false)
}

func (a *Analyser) analyse(ctx context.Context, c Candidate) error {
	logger := a.logger.WithField("address", c.Address.String())

	known, err := a.db.GetAddressMetadata(ctx, c.Address)
	if err != nil {
		return err
	}
	if known != nil {
		if known.IsBanned {
			logger.Debug("Skipping: banned there")
			candidatesAnalysedTotal.WithLabelValues("cached").Inc()
			return nil
		}
		if !known.IsJoinable {
			logger.Debug("Skipping: known not to be a joinable room")
			candidatesAnalysedTotal.WithLabelValues("cached").Inc()
			return nil
		}
	}

	info, err := a.client.DiscoInfo(ctx, c.Address, true)
	var meta types.AddressMetadata
	switch {
	case err == nil:
		meta = xmpp.DeriveAddressMetadata(info)
	case xmpp.IsAccessDenied(err):
		meta = types.AddressMetadata{
			IsReachable:   true,
			IsChatService: true,
			IsBanned:      true,
		}
	default:
		logger.WithError(err).Debug("Probe failed")
	}

	switch {
	case meta.IsBanned:
		candidatesAnalysedTotal.WithLabelValues("banned").Inc()
		err = a.db.CacheAddressMetadata(ctx, c.Address, meta, types.CacheTTLBanned)
	case !meta.IsReachable:
		candidatesAnalysedTotal.WithLabelValues("unreachable").Inc()
		err = a.db.CacheAddressMetadata(ctx, c.Address, meta, types.CacheTTLUnreachable)
	case !meta.IsChatService:
		candidatesAnalysedTotal.WithLabelValues("non_service").Inc()
		err = a.db.CacheAddressMetadata(ctx, c.Address, meta, types.CacheTTLNonService)
	case !meta.IsJoinable && !meta.IsIndexable:
		candidatesAnalysedTotal.WithLabelValues("closed").Inc()
		err = a.db.CacheAddressMetadata(ctx, c.Address, meta, types.CacheTTLClosed)
	default:
		candidatesAnalysedTotal.WithLabelValues("room").Inc()
	}
	if err != nil {
		return err
	}

	if c.Report != nil {
		c.Report(c.Address, meta)
	}

	if meta.IsJoinable || meta.IsIndexable {
		logger.Debug("Forwarding to watcher")
		return a.watcher.QueueRequest(ctx, c.Address)
	}
	return nil
}
