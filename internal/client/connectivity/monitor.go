// Package connectivity watches the server's readiness probe and drives replay
// on the offline-to-online transition.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Replayer is what the monitor kicks when connectivity comes back. Satisfied
// by *queue.Queue.
type Replayer interface {
	Replay(ctx context.Context) error
}

// Monitor polls a probe on a fixed interval. Going from offline to online
// triggers one replay pass and then a resync broadcast; staying online does
// not. Probe results are the only source of truth, there is no OS-level
// network signal.
type Monitor struct {
	probe    func(ctx context.Context) bool
	interval time.Duration
	replayer Replayer
	log      *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []chan struct{}

	stop chan struct{}
	done chan struct{}
}

func New(probe func(ctx context.Context) bool, interval time.Duration, r Replayer, log *slog.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		replayer: r,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop. The first probe fires immediately so a
// client started online does not wait a full interval to sync.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		m.check(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) check(ctx context.Context) {
	up := m.probe(ctx)

	m.mu.Lock()
	was := m.online
	m.online = up
	m.mu.Unlock()

	switch {
	case up && !was:
		m.log.Info("connectivity restored, replaying queue")
		m.resync(ctx)
	case !up && was:
		m.log.Warn("connectivity lost")
	}
}

// resync replays the queue and then tells subscribers local state is settled.
// The broadcast happens even when replay fails partway: whatever did confirm
// should be rendered.
func (m *Monitor) resync(ctx context.Context) {
	if m.replayer != nil {
		if err := m.replayer.Replay(ctx); err != nil {
			m.log.Error("replay after reconnect failed", "error", err)
		}
	}

	m.mu.Lock()
	subs := make([]chan struct{}, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline forces the state and runs the transition logic, bypassing the
// probe. Used by tests and by a future manual "go online" toggle.
func (m *Monitor) SetOnline(ctx context.Context, up bool) {
	m.mu.Lock()
	was := m.online
	m.online = up
	m.mu.Unlock()

	if up && !was {
		m.resync(ctx)
	}
}

// SubscribeResync returns a channel that receives one signal after each
// reconnect replay completes. The channel is buffered; a slow consumer misses
// coalesced signals instead of blocking the monitor.
func (m *Monitor) SubscribeResync() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
