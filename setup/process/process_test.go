package process

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessContext_ShutdownCancelsContext(t *testing.T) {
	p := NewProcessContext()
	select {
	case <-p.WaitForShutdown():
		t.Fatal("shutdown before it was requested")
	default:
	}

	p.ShutdownGracefully()
	p.ShutdownGracefully() // idempotent

	select {
	case <-p.WaitForShutdown():
	case <-time.After(time.Second):
		t.Fatal("shutdown not observed")
	}
	require.Error(t, p.Context().Err())
}

func TestProcessContext_WaitsForComponents(t *testing.T) {
	p := NewProcessContext()
	done := make(chan struct{})

	p.ComponentStarted()
	go func() {
		<-p.WaitForShutdown()
		p.ComponentFinished()
	}()
	go func() {
		p.WaitForComponentsToFinish()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("finished while a component was still running")
	case <-time.After(50 * time.Millisecond):
	}

	p.ShutdownGracefully()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("components did not finish")
	}
}

func TestProcessContext_DegradedIsRecordedOncePerComponent(t *testing.T) {
	p := NewProcessContext()
	degraded, components := p.IsDegraded()
	assert.False(t, degraded)
	assert.Empty(t, components)

	p.Degraded(errors.New("boom"), "scanner")
	p.Degraded(errors.New("boom again"), "scanner")
	p.Degraded(errors.New("other"), "watcher")

	degraded, components = p.IsDegraded()
	assert.True(t, degraded)
	assert.Len(t, components, 2)
	assert.ElementsMatch(t, []string{"scanner", "watcher"}, components)
}
