// Package network reports connectivity state and transition events to
// the sync engine.
package network

import (
	"sync"
)

// Monitor reports the current online/offline state and notifies
// subscribers on every transition.
type Monitor interface {
	Online() bool
	// Subscribe registers a callback invoked with the new state on each
	// transition. Callbacks run synchronously on the transition path and
	// must not block.
	Subscribe(fn func(online bool))
}

// Switchable is implemented by monitors whose state can be forced,
// used by the facade's network-change simulation hook.
type Switchable interface {
	SetOnline(online bool)
}

// state is the shared transition bookkeeping for monitor implementations.
type state struct {
	mu          sync.RWMutex
	online      bool
	subscribers []func(online bool)
}

func (s *state) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

func (s *state) Subscribe(fn func(online bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// set updates the state and notifies subscribers if it changed.
func (s *state) set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subscribers := append([]func(online bool){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(online)
	}
}

// SimulatedMonitor is a fully deterministic monitor for tests and
// embedded hosts that receive reachability signals from elsewhere.
type SimulatedMonitor struct {
	state
}

// NewSimulatedMonitor starts in the given state.
func NewSimulatedMonitor(online bool) *SimulatedMonitor {
	m := &SimulatedMonitor{}
	m.online = online
	return m
}

// SetOnline forces the state, firing subscribers on a transition.
func (m *SimulatedMonitor) SetOnline(online bool) {
	m.set(online)
}
