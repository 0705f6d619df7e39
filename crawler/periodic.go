// Package crawler contains the components that discover, probe and
// observe rooms: the scanner walks service domains, the watcher
// refreshes room metadata, the inside observer occupies a rotating set
// of rooms, and the analyser classifies candidate addresses feeding
// all of them.
package crawler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// passCooldown is slept before retrying after a failed pass, so that a
// persistently failing component does not busy-loop.
const passCooldown = time.Second

// runPeriodically runs pass at the given interval until ctx is
// cancelled. The interval is measured from the end of one pass to the
// start of the next.
func runPeriodically(ctx context.Context, logger *logrus.Entry, component string, interval time.Duration, pass func(ctx context.Context) error) {
	for {
		started := time.Now()
		err := pass(ctx)
		passDurationSeconds.WithLabelValues(component).Set(time.Since(started).Seconds())
		lastPassEndSeconds.WithLabelValues(component).Set(float64(time.Now().Unix()))

		wait := interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Pass failed")
			wait = passCooldown
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
