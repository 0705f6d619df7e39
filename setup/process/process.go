// Package process tracks the lifecycle of the daemon's components: a
// shared context for cancellation and a wait group that delays process
// exit until every component has wound down.
package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

type ProcessContext struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	shutdown context.CancelFunc
	degraded map[string]struct{}
}

func NewProcessContext() *ProcessContext {
	ctx, shutdown := context.WithCancel(context.Background())
	return &ProcessContext{
		ctx:      ctx,
		shutdown: shutdown,
		degraded: map[string]struct{}{},
	}
}

// Context is cancelled when a graceful shutdown has been requested.
func (b *ProcessContext) Context() context.Context {
	return b.ctx
}

// ComponentStarted registers a component; every call must be paired
// with a ComponentFinished before the process can exit.
func (b *ProcessContext) ComponentStarted() {
	b.wg.Add(1)
}

func (b *ProcessContext) ComponentFinished() {
	b.wg.Done()
}

// ShutdownGracefully cancels the shared context. Safe to call more
// than once.
func (b *ProcessContext) ShutdownGracefully() {
	b.shutdown()
}

// WaitForShutdown returns a channel closed once shutdown is requested.
func (b *ProcessContext) WaitForShutdown() <-chan struct{} {
	return b.ctx.Done()
}

// WaitForComponentsToFinish blocks until every started component has
// called ComponentFinished.
func (b *ProcessContext) WaitForComponentsToFinish() {
	b.wg.Wait()
}

// Degraded records that a component hit a non-fatal error it could not
// recover from. The first report per component is forwarded to Sentry.
func (b *ProcessContext) Degraded(err error, component string) {
	logrus.WithError(err).WithField("component", component).
		Error("Degraded due to error")

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.degraded[component]; ok {
		return
	}
	b.degraded[component] = struct{}{}
	sentry.CaptureException(fmt.Errorf("component %s degraded: %w", component, err))
}

// IsDegraded reports whether any component reported degradation.
func (b *ProcessContext) IsDegraded() (bool, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.degraded) == 0 {
		return false, nil
	}
	components := make([]string, 0, len(b.degraded))
	for component := range b.degraded {
		components = append(components, component)
	}
	return true, components
}
