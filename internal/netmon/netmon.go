// Package netmon tracks network reachability for the delivery queue. It
// stands in for the platform connectivity events the mobile client reacted
// to: the queue skips processing while offline and kicks a pass the moment
// the link comes back.
package netmon

import (
	"context"
	"sync"
	"time"
)

// Monitor reports link state and state transitions.
type Monitor interface {
	// Online reports the current reachability.
	Online() bool
	// Subscribe returns a channel receiving the new state on every
	// transition, and an unsubscribe function.
	Subscribe() (<-chan bool, func())
}

// Manual is a Monitor whose state is set by its owner. Tests and the
// simulated backend drive it directly.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	next   int
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]chan bool),
	}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers on transitions.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe registers a transition listener.
func (m *Manual) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 4)
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe wraps Manual with a periodic reachability check. The probe func
// typically dials a well-known endpoint with a short timeout.
type Probe struct {
	*Manual
	probe    func(ctx context.Context) bool
	interval time.Duration
	cancel   context.CancelFunc
}

// NewProbe creates a probing monitor. The initial state is online; the
// first probe corrects it within one interval. A nil probe func disables
// probing entirely, leaving the monitor online until SetOnline is called.
func NewProbe(probe func(ctx context.Context) bool, interval time.Duration) *Probe {
	return &Probe{
		Manual:   NewManual(true),
		probe:    probe,
		interval: interval,
	}
}

// Start begins periodic probing. No-op when no probe func is configured.
func (p *Probe) Start(ctx context.Context) {
	if p.probe == nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.SetOnline(p.probe(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts probing.
func (p *Probe) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}
