// Package workerpool provides a bounded pool of goroutines draining a
// shared queue of work items. All crawler components funnel their
// per-address work through pools of this kind so that the total number of
// in-flight network operations stays bounded regardless of how many
// addresses are queued.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned by EnqueueNowait when the queue has no room.
var ErrQueueFull = errors.New("workerpool: queue full")

// ErrClosed is returned when enqueueing into a closed pool.
var ErrClosed = errors.New("workerpool: pool closed")

// Config controls the shape of a pool.
type Config struct {
	// Workers is the number of goroutines draining the queue.
	Workers int
	// QueueSize is the capacity of the item queue.
	QueueSize int
	// Timeout bounds the execution of a single item; zero means no bound.
	Timeout time.Duration
	// Delay is slept by a worker after finishing each item, throttling
	// the aggregate request rate of the pool.
	Delay time.Duration
	// Name identifies the pool in log output.
	Name   string
	Logger *logrus.Entry
}

// A Pool runs a fixed function over queued items with bounded
// parallelism. Items carry an optional WaitGroup which is marked done
// once the item has been processed or dropped, so that producers can
// wait for a batch to drain.
type Pool[T any] struct {
	cfg    Config
	run    func(ctx context.Context, item T) error
	queue  chan queued[T]
	wg     sync.WaitGroup
	logger *logrus.Entry

	mu     sync.Mutex
	closed bool
}

type queued[T any] struct {
	item  T
	batch *sync.WaitGroup
}

// New creates and starts a pool running fn over enqueued items.
func New[T any](cfg Config, fn func(ctx context.Context, item T) error) *Pool[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("pool", cfg.Name)
	p := &Pool[T]{
		cfg:    cfg,
		run:    fn,
		queue:  make(chan queued[T], cfg.QueueSize),
		logger: logger,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Enqueue blocks until the item is queued or ctx is done. batch, if
// non-nil, has Done called on it after the item has been processed.
func (p *Pool[T]) Enqueue(ctx context.Context, item T, batch *sync.WaitGroup) error {
	if p.isClosed() {
		return ErrClosed
	}
	if batch != nil {
		batch.Add(1)
	}
	select {
	case p.queue <- queued[T]{item: item, batch: batch}:
		return nil
	case <-ctx.Done():
		if batch != nil {
			batch.Done()
		}
		return ctx.Err()
	}
}

// EnqueueNowait queues the item if there is room, returning ErrQueueFull
// otherwise. Producers driven by database signals use this so that a
// congested pool sheds load instead of stalling commits.
func (p *Pool[T]) EnqueueNowait(item T) error {
	if p.isClosed() {
		return ErrClosed
	}
	select {
	case p.queue <- queued[T]{item: item}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the pool. Remaining queued items are still processed
// unless force is set, in which case they are dropped (their batch
// WaitGroups are still released). Close waits for the workers to exit.
func (p *Pool[T]) Close(force bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	if force {
		for q := range p.queue {
			if q.batch != nil {
				q.batch.Done()
			}
		}
	}
	p.wg.Wait()
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[T]) worker(n int) {
	defer p.wg.Done()
	logger := p.logger.WithField("worker", n)
	for q := range p.queue {
		p.process(logger, q)
		if p.cfg.Delay > 0 {
			time.Sleep(p.cfg.Delay)
		}
	}
}

func (p *Pool[T]) process(logger *logrus.Entry, q queued[T]) {
	defer func() {
		if q.batch != nil {
			q.batch.Done()
		}
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			logger.WithField("panic", r).Error("Worker panicked while processing item")
		}
	}()
	ctx := context.Background()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	if err := p.run(ctx, q.item); err != nil {
		logger.WithError(err).Debug("Item processing failed")
	}
}
