package client

import (
	"sync"
	"time"

	"github.com/brushcast/brushcast/internal/slogging"
)

// CaptureFunc produces the current frame bytes on demand. Returning nil
// skips the send.
type CaptureFunc func() []byte

// SendFunc delivers a captured frame to the connection.
type SendFunc func(image []byte) error

// SchedulerConfig controls debounce and throttle behavior.
type SchedulerConfig struct {
	// Debounce is the quiet window: a send fires only after this long
	// without a new change event.
	Debounce time.Duration
	// MinInterval throttles sends regardless of event cadence.
	MinInterval time.Duration
}

func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	cfg := *c
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	return cfg
}

// Scheduler coalesces bursts of source-change events into single frame
// sends. A burst of events inside the debounce window produces exactly one
// send; changes that arrive while a send is in flight set a flag that
// triggers one follow-up send when it completes.
type Scheduler struct {
	cfg     SchedulerConfig
	capture CaptureFunc
	send    SendFunc

	mu       sync.Mutex
	pending  *time.Timer
	sending  bool
	changed  bool
	lastSend time.Time
	closed   bool
}

// NewScheduler wires a capture source to a send sink.
func NewScheduler(cfg SchedulerConfig, capture CaptureFunc, send SendFunc) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), capture: capture, send: send}
}

// Notify records a source-change event and (re)arms the debounce timer. At
// most one timer is pending at a time.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.sending {
		s.changed = true
		return
	}
	if s.pending != nil {
		s.pending.Reset(s.cfg.Debounce)
		return
	}
	s.pending = time.AfterFunc(s.cfg.Debounce, s.fire)
}

// ForceSend captures and sends immediately, bypassing debounce and
// throttle. Used when the server explicitly requests a frame.
func (s *Scheduler) ForceSend() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	if s.sending {
		s.changed = true
		s.mu.Unlock()
		return
	}
	s.sending = true
	s.mu.Unlock()

	s.doSend()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	if s.sending {
		s.changed = true
		s.mu.Unlock()
		return
	}
	if s.cfg.MinInterval > 0 {
		if wait := s.cfg.MinInterval - time.Since(s.lastSend); wait > 0 {
			s.pending = time.AfterFunc(wait, s.fire)
			s.mu.Unlock()
			return
		}
	}
	s.sending = true
	s.mu.Unlock()

	s.doSend()
}

func (s *Scheduler) doSend() {
	image := s.capture()
	if image != nil {
		if err := s.send(image); err != nil {
			slogging.Get().Warn("scheduler: frame send failed: %v", err)
		}
	}

	s.mu.Lock()
	s.sending = false
	s.lastSend = time.Now()
	rearm := s.changed
	s.changed = false
	closed := s.closed
	s.mu.Unlock()

	// A change arrived mid-send: schedule exactly one follow-up.
	if rearm && !closed {
		s.Notify()
	}
}

// Close stops any pending timer; further events are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
