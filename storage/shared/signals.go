package shared

import (
	"sync"

	"github.com/horazont/muchopper/types"
)

// Signals notifies subscribers of committed catalogue changes. The
// callbacks run synchronously on the goroutine that performed the
// write, after the transaction has committed, so subscribers observe
// the new state when they read back.
type Signals struct {
	mu            sync.RWMutex
	roomChanged   []func(types.Address)
	roomDeleted   []func(types.Address)
	domainChanged []func(string)
	domainDeleted []func(string)
}

func (s *Signals) OnRoomChanged(fn func(types.Address)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomChanged = append(s.roomChanged, fn)
}

func (s *Signals) OnRoomDeleted(fn func(types.Address)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomDeleted = append(s.roomDeleted, fn)
}

func (s *Signals) OnDomainChanged(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainChanged = append(s.domainChanged, fn)
}

func (s *Signals) OnDomainDeleted(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainDeleted = append(s.domainDeleted, fn)
}

func (s *Signals) emitRoomChanged(addr types.Address) {
	s.mu.RLock()
	subscribers := s.roomChanged
	s.mu.RUnlock()
	for _, fn := range subscribers {
		fn(addr)
	}
}

func (s *Signals) emitRoomDeleted(addr types.Address) {
	s.mu.RLock()
	subscribers := s.roomDeleted
	s.mu.RUnlock()
	for _, fn := range subscribers {
		fn(addr)
	}
}

func (s *Signals) emitDomainChanged(domain string) {
	s.mu.RLock()
	subscribers := s.domainChanged
	s.mu.RUnlock()
	for _, fn := range subscribers {
		fn(domain)
	}
}

func (s *Signals) emitDomainDeleted(domain string) {
	s.mu.RLock()
	subscribers := s.domainDeleted
	s.mu.RUnlock()
	for _, fn := range subscribers {
		fn(domain)
	}
}
