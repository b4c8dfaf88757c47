package push

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Transport delivers envelopes from the backend until ctx is done. It owns
// reconnection and reports every connect and disconnect through status.
type Transport interface {
	Run(ctx context.Context, deliver func(Envelope), status func(connected bool)) error
}

// Manager shares one transport between every attached view. The transport is
// started by the first Acquire and stopped when the last Handle is released.
type Manager struct {
	mu        sync.Mutex
	parent    context.Context
	transport Transport
	handles   map[uint64]*Handle
	nextID    uint64
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	logger    *zap.Logger
}

func NewManager(parent context.Context, t Transport, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		parent:    parent,
		transport: t,
		handles:   make(map[uint64]*Handle),
		logger:    logger.Named("push"),
	}
}

// handleBuffer is how many envelopes a handle may fall behind before new ones
// for it are dropped.
const handleBuffer = 256

// Handle is one view's claim on the push connection. Envelopes reach its sink
// in order on the handle's own goroutine, so a slow view never holds up
// delivery to the others.
type Handle struct {
	m       *Manager
	id      uint64
	matchID string
	sink    func(Envelope)
	status  func(bool)
	queue   chan Envelope
	stop    chan struct{}
	once    sync.Once
}

func (h *Handle) pump() {
	for {
		select {
		case <-h.stop:
			return
		case env := <-h.queue:
			h.sink(env)
		}
	}
}

// Acquire registers sink for envelopes addressed to matchID. status, when not
// nil, observes connection changes.
func (m *Manager) Acquire(matchID string, sink func(Envelope), status func(bool)) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	h := &Handle{
		m:       m,
		id:      m.nextID,
		matchID: matchID,
		sink:    sink,
		status:  status,
		queue:   make(chan Envelope, handleBuffer),
		stop:    make(chan struct{}),
	}
	m.handles[h.id] = h
	go h.pump()
	if len(m.handles) == 1 {
		m.startLocked()
	}
	return h
}

// Release drops the claim. Calling it more than once is harmless.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.m.release(h.id)
		close(h.stop)
	})
}

func (h *Handle) MatchID() string { return h.matchID }

func (m *Manager) release(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[id]; !ok {
		return
	}
	delete(m.handles, id)
	if len(m.handles) == 0 && m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.logger.Info("push transport released")
	}
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(m.parent)
	prev := m.done
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		m.logger.Info("push transport starting")
		if err := m.transport.Run(ctx, m.deliver, m.setStatus); err != nil && ctx.Err() == nil {
			m.logger.Error("push transport stopped", zap.Error(err))
		}
		m.setStatus(false)
	}()
}

// deliver routes env to the handles attached to its match. Team ids are
// shared across matches, so an envelope without a match id has no safe
// destination and is dropped.
func (m *Manager) deliver(env Envelope) {
	if env.MatchID == "" {
		envelopesDropped.WithLabelValues("no_match").Inc()
		m.logger.Info("dropped envelope without match id", zap.String("event", env.Event))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handles {
		if h.matchID != env.MatchID {
			continue
		}
		select {
		case h.queue <- env:
		default:
			envelopesDropped.WithLabelValues("backlog").Inc()
			m.logger.Warn("view is behind, dropped envelope",
				zap.String("match", h.matchID), zap.String("event", env.Event))
		}
	}
}

func (m *Manager) setStatus(connected bool) {
	if m.connected.Swap(connected) == connected {
		return
	}
	m.mu.Lock()
	var subs []func(bool)
	for _, h := range m.handles {
		if h.status != nil {
			subs = append(subs, h.status)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(connected)
	}
}

// Connected reports the last status seen from the transport.
func (m *Manager) Connected() bool { return m.connected.Load() }

// Refs returns the number of live handles.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Wait blocks until the most recently started transport has exited.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}
