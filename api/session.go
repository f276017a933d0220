package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brushcast/brushcast/internal/slogging"
	"github.com/brushcast/brushcast/pipeline"
	"github.com/brushcast/brushcast/wire"
)

// Mode selects the session's drain policy and parameter defaults.
type Mode string

const (
	// ModeRealtime streams camera frames; only the newest frame matters.
	ModeRealtime Mode = "realtime"
	// ModeCanvas streams drawing strokes; every edit must be processed.
	ModeCanvas Mode = "canvas"
)

// ParseMode validates a mode path parameter.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeRealtime, ModeCanvas:
		return Mode(s), true
	}
	return "", false
}

// DrainPolicyFor maps a mode to its queue policy.
func DrainPolicyFor(mode Mode) DrainPolicy {
	if mode == ModeCanvas {
		return DrainAll
	}
	return DrainLatest
}

// SessionState tracks where a session is in its lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected
	StateAwaitingFrame
	StateProcessing
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAwaitingFrame:
		return "AWAITING_FRAME"
	case StateProcessing:
		return "PROCESSING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type outboundMessage struct {
	messageType int
	data        []byte
}

// Session is one generation conversation: it exclusively owns one socket,
// one frame queue and one consumer task, plus a reference to the external
// pipeline.
type Session struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time

	queue   *FrameQueue
	filter  *SimilarityFilter
	pipe    pipeline.Pipeline
	metrics *Metrics

	maxFailures  int
	writeTimeout time.Duration
	pingInterval time.Duration
	pongWait     time.Duration

	state        atomic.Int32
	lastActivity atomic.Int64

	mu   sync.Mutex
	conn *websocket.Conn
	// pumpStop/pumpExited belong to the current conn's write pump; a
	// superseding attach closes stop and waits on exited before the new
	// handshake goes out.
	pumpStop   chan struct{}
	pumpExited chan struct{}

	send    chan outboundMessage
	results chan []byte

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// removeSelf detaches the session from its manager's registry. Set by
	// the manager before the consumer starts.
	removeSelf func()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Touch records activity for the idle reaper.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent activity.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Queue returns the session's frame queue.
func (s *Session) Queue() *FrameQueue {
	return s.queue
}

// Results delivers generated frames to the MJPEG stream handler. Slow
// consumers see only recent frames; the channel never blocks the consumer
// task.
func (s *Session) Results() <-chan []byte {
	return s.results
}

// Done is closed when the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsConnected reports whether a socket is currently attached.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// sendControl queues a control message for the write pump. Messages sent
// before a socket attaches sit in the buffer and flush once the pump
// starts. A full buffer drops the message rather than stalling the
// consumer.
func (s *Session) sendControl(status, message string) {
	data, err := wire.EncodeControl(status, message)
	if err != nil {
		slogging.Get().Error("failed to encode control message: %v", err)
		return
	}
	select {
	case s.send <- outboundMessage{messageType: websocket.TextMessage, data: data}:
	default:
		slogging.Get().Warn("session %s outbound buffer full, dropping %s", s.ID, status)
	}
}

// publishResult hands a generated frame to the result channel, displacing
// the oldest pending frame if the stream consumer is behind.
func (s *Session) publishResult(img []byte) {
	for {
		select {
		case s.results <- img:
			return
		default:
		}
		select {
		case <-s.results:
		default:
		}
	}
}

// runConsumer is the session's consumer task: it drains the frame queue,
// applies the similarity filter, invokes the pipeline and paces the client
// with send_frame. Exactly one frame is in flight at a time.
func (s *Session) runConsumer(ctx context.Context) {
	logger := slogging.Get()
	failures := 0

	for {
		frame, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("session %s dequeue failed: %v", s.ID, err)
			return
		}

		s.setState(StateProcessing)
		s.Touch()

		if s.Mode == ModeRealtime && s.filter.ShouldSkip(frame.Image) {
			s.metrics.FramesSkipped.Inc()
			s.setState(StateAwaitingFrame)
			s.sendControl(wire.StatusSendFrame, "")
			continue
		}

		img, err := s.pipe.Generate(ctx, frame.Params, frame.Image)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.metrics.PipelineFailures.Inc()
			logger.Error("session %s pipeline error (%d consecutive): %v", s.ID, failures, err)
			s.sendControl(wire.StatusError, err.Error())

			if failures >= s.maxFailures {
				logger.Error("session %s exceeded %d consecutive pipeline failures, closing", s.ID, s.maxFailures)
				s.Close("pipeline failure threshold exceeded")
				if s.removeSelf != nil {
					s.removeSelf()
				}
				return
			}
			s.setState(StateAwaitingFrame)
			s.sendControl(wire.StatusSendFrame, "")
			continue
		}

		failures = 0
		s.metrics.FramesProcessed.WithLabelValues(string(s.Mode)).Inc()
		s.publishResult(img)

		s.setState(StateAwaitingFrame)
		s.sendControl(wire.StatusSendFrame, "")
	}
}

// detachConn takes ownership of the current socket away from the session,
// stopping its write pump. Returns nil if no socket is attached.
func (s *Session) detachConn() *websocket.Conn {
	s.mu.Lock()
	conn, stop, exited := s.conn, s.pumpStop, s.pumpExited
	s.conn = nil
	s.pumpStop = nil
	s.pumpExited = nil
	s.mu.Unlock()

	if conn != nil && stop != nil {
		close(stop)
		<-exited
	}
	return conn
}

// CloseWithNotice delivers a final control message synchronously on the
// socket before closing the session, so the client sees it ahead of the
// close frame. Used by the idle reaper.
func (s *Session) CloseWithNotice(status, message, reason string) {
	conn := s.detachConn()
	if conn != nil {
		if data, err := wire.EncodeControl(status, message); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.Close(reason)
}

// Close moves the session through CLOSING to CLOSED: it cancels the
// consumer, closes the queue, and shuts the socket with a close frame.
// Safe to call more than once.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.cancel()
		s.queue.Close()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}

		s.setState(StateClosed)
		close(s.done)
		slogging.Get().Info("session %s closed: %s", s.ID, reason)
	})
}
