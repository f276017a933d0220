package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brushcast/brushcast/internal/config"
	"github.com/brushcast/brushcast/internal/slogging"
	"github.com/brushcast/brushcast/pipeline"
	"github.com/brushcast/brushcast/wire"
)

// ErrServerFull is returned by Create when the configured session limit is
// reached.
var ErrServerFull = errors.New("server is full")

// ErrSessionNotFound is returned by Get and Delete for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionManager owns the registry of live sessions. Registry mutations go
// through one lock; everything inside a session is session-local.
type SessionManager struct {
	cfg     config.SessionConfig
	ws      config.WebSocketConfig
	pipe    pipeline.Pipeline
	metrics *Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty registry backed by the given pipeline.
func NewSessionManager(cfg config.SessionConfig, ws config.WebSocketConfig, pipe pipeline.Pipeline, metrics *Metrics) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		ws:       ws,
		pipe:     pipe,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for the mode and starts its consumer
// task. An empty id mints a fresh UUIDv4; a caller-supplied id (from the
// REST create endpoint) is reused so the WebSocket upgrade finds it.
func (m *SessionManager) Create(mode Mode, id string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrServerFull
	}

	filter := NewSimilarityFilter(
		m.cfg.Similarity.Enabled,
		m.cfg.Similarity.Threshold,
		m.cfg.Similarity.MaxSkipFrames,
	)
	queue := NewFrameQueue(DrainPolicyFor(mode), m.cfg.MaxQueueDepth)
	queue.SetOnClear(filter.Reset)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		Mode:         mode,
		CreatedAt:    time.Now().UTC(),
		queue:        queue,
		filter:       filter,
		pipe:         m.pipe,
		metrics:      m.metrics,
		maxFailures:  m.cfg.MaxConsecutiveFailures,
		writeTimeout: m.ws.WriteTimeout,
		pingInterval: m.ws.PingInterval,
		pongWait:     m.ws.PongWait,
		send:         make(chan outboundMessage, m.ws.SendBufferSize),
		results:      make(chan []byte, 4),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	s.setState(StateConnecting)
	s.Touch()
	s.removeSelf = func() { m.remove(s.ID) }

	m.sessions[id] = s
	m.metrics.SessionsCreated.WithLabelValues(string(mode)).Inc()
	m.metrics.SessionsActive.WithLabelValues(string(mode)).Inc()

	go s.runConsumer(ctx)

	slogging.Get().Info("session %s created (mode: %s, drain: %s)", id, mode, queue.Policy())
	return s, nil
}

// Get looks up a session by id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete closes a session and removes it from the registry. Closing
// cancels the consumer, unblocks any pending dequeue and shuts the socket.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.metrics.SessionsActive.WithLabelValues(string(s.Mode)).Dec()
	s.Close("session deleted")
	return nil
}

// remove drops an already-closed session from the registry. Used by the
// session's own escalation path, where Close has already run.
func (m *SessionManager) remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		m.metrics.SessionsActive.WithLabelValues(string(s.Mode)).Dec()
	}
}

// Count returns the number of registered sessions, optionally filtered by
// mode ("" counts all).
func (m *SessionManager) Count(mode Mode) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode == "" {
		return len(m.sessions)
	}
	n := 0
	for _, s := range m.sessions {
		if s.Mode == mode {
			n++
		}
	}
	return n
}

// StartReaper runs the idle sweep until ctx is cancelled. Sessions whose
// last activity exceeds the configured idle timeout are treated as
// abandoned clients and closed.
func (m *SessionManager) StartReaper(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (m *SessionManager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		slogging.Get().Info("reaping idle session %s (last activity %s)", s.ID, s.LastActivity().Format(time.RFC3339))
		m.metrics.SessionsActive.WithLabelValues(string(s.Mode)).Dec()
		m.metrics.SessionsReaped.Inc()
		s.CloseWithNotice(wire.StatusTimeout, "Your session has ended", "idle timeout")
	}
}

// CloseAll shuts down every session, for server shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.metrics.SessionsActive.WithLabelValues(string(s.Mode)).Dec()
		s.Close("server shutting down")
	}
}
