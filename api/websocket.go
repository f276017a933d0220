package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/brushcast/brushcast/internal/slogging"
	"github.com/brushcast/brushcast/wire"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development; restrict in production
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWS upgrades the connection and runs the session's socket loops.
// The session is created on upgrade if the id is not yet registered, so
// clients may skip the explicit REST create call.
func (srv *Server) HandleWS(c *gin.Context) {
	mode, ok := ParseMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown mode"})
		return
	}
	sessionID := c.Param("id")

	session, found := srv.sessions.Get(sessionID)
	if !found {
		var err error
		session, err = srv.sessions.Create(mode, sessionID)
		if errors.Is(err, ErrServerFull) {
			// Upgrade anyway so the client gets a protocol-level rejection
			// instead of a bare handshake failure.
			conn, uerr := upgrader.Upgrade(c.Writer, c.Request, nil)
			if uerr != nil {
				return
			}
			if data, eerr := wire.EncodeControl(wire.StatusError, "Server is full"); eerr == nil {
				_ = conn.WriteMessage(websocket.TextMessage, data)
			}
			_ = conn.Close()
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slogging.Get().Error("failed to upgrade connection for session %s: %v", session.ID, err)
		return
	}

	session.attachConn(conn)

	go session.readLoop(conn, srv.codec, srv.maxFrameBytes)
}

// attachConn binds the socket, starts its write pump and emits the connect
// handshake: connected, wait, then the first send_frame, after which the
// session awaits input. A session owns exactly one socket: an already
// attached conn is superseded, its pump stopped before the new handshake
// goes out so no message lands on the stale socket.
func (s *Session) attachConn(conn *websocket.Conn) {
	stop := make(chan struct{})
	exited := make(chan struct{})

	s.mu.Lock()
	old, oldStop, oldExited := s.conn, s.pumpStop, s.pumpExited
	s.conn = conn
	s.pumpStop = stop
	s.pumpExited = exited
	s.mu.Unlock()

	if old != nil {
		if oldStop != nil {
			close(oldStop)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "superseded by a new connection")
		_ = old.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = old.Close()
		if oldExited != nil {
			<-oldExited
		}
		slogging.Get().Info("session %s superseded previous socket", s.ID)
	}

	go s.writePump(conn, stop, exited)

	s.setState(StateConnected)
	s.Touch()

	s.sendControl(wire.StatusConnected, "Connected")
	s.sendControl(wire.StatusWait, "")
	s.sendControl(wire.StatusSendFrame, "")
	s.setState(StateAwaitingFrame)

	slogging.Get().Info("session %s socket attached", s.ID)
}

// readLoop pumps messages from the socket into the frame queue until the
// connection dies or the session closes.
func (s *Session) readLoop(conn *websocket.Conn, codec wire.Codec, readLimit int64) {
	logger := slogging.Get()
	defer func() {
		// Tear the session down only if this conn is still the one the
		// session owns; a superseded socket's death must not take the
		// session with it.
		s.mu.Lock()
		current := s.conn == conn
		s.mu.Unlock()
		if !current {
			_ = conn.Close()
			return
		}
		s.Close("socket read loop ended")
		if s.removeSelf != nil {
			s.removeSelf()
		}
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("session %s socket error: %v", s.ID, err)
			}
			return
		}
		s.Touch()

		switch msgType {
		case websocket.BinaryMessage:
			var env wire.FrameEnvelope
			payload, derr := codec.Decode(data, &env)
			if derr != nil {
				s.metrics.ProtocolErrors.Inc()
				logger.Warn("session %s protocol error: %v", s.ID, derr)
				s.sendControl(wire.StatusError, derr.Error())
				// Framing violations are connection-fatal.
				return
			}
			s.handleEnvelope(env, payload)

		case websocket.TextMessage:
			ctrl, derr := wire.DecodeControl(data)
			if derr != nil {
				s.metrics.ProtocolErrors.Inc()
				s.sendControl(wire.StatusError, derr.Error())
				return
			}
			if ctrl.Status == wire.StatusNextFrame {
				// A text next_frame carries params inline with no image.
				var env wire.FrameEnvelope
				if uerr := wire.DecodeEnvelope(data, &env); uerr != nil {
					s.sendControl(wire.StatusError, uerr.Error())
					continue
				}
				s.handleEnvelope(env, nil)
				continue
			}
			s.handleControl(ctrl)
		}
	}
}

// handleEnvelope routes a decoded frame envelope by status.
func (s *Session) handleEnvelope(env wire.FrameEnvelope, payload []byte) {
	switch env.Status {
	case wire.StatusNextFrame:
		s.enqueueFrame(env.Params, payload)
	case wire.StatusClearCanvas:
		s.clearCanvas()
	default:
		s.sendControl(wire.StatusError, "unsupported status '"+env.Status+"'")
	}
}

// handleControl routes a bare text control message.
func (s *Session) handleControl(ctrl wire.Control) {
	switch ctrl.Status {
	case wire.StatusClearCanvas:
		s.clearCanvas()
	default:
		s.sendControl(wire.StatusError, "unsupported status '"+ctrl.Status+"'")
	}
}

func (s *Session) enqueueFrame(params wire.GenerationParams, image []byte) {
	s.metrics.FramesReceived.WithLabelValues(string(s.Mode)).Inc()
	frame := &Frame{Params: params, Image: image, ReceivedAt: time.Now()}

	before := s.queue.Len()
	if err := s.queue.Enqueue(frame); err != nil {
		// Session is closing; the frame is dropped, not an error.
		slogging.Get().Debug("session %s dropped frame on closed queue", s.ID)
		return
	}
	if s.queue.Policy() == DrainLatest && before > 0 {
		s.metrics.FramesDropped.WithLabelValues(string(s.Mode)).Add(float64(before))
	}
}

// clearCanvas empties the queue and resets the similarity filter in one
// atomic step, regardless of the session's current state.
func (s *Session) clearCanvas() {
	s.queue.Clear()
	slogging.Get().Debug("session %s canvas cleared", s.ID)
	s.sendControl(wire.StatusSendFrame, "")
}

// writePump pumps buffered outbound messages to the socket and keeps the
// connection alive with pings. On stop the conn stays open: the superseding
// owner decides what to write before closing it.
func (s *Session) writePump(conn *websocket.Conn, stop, exited chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		close(exited)
	}()

	for {
		select {
		case msg := <-s.send:
			select {
			case <-stop:
				// Superseded mid-dequeue; hand the message back for the
				// new pump.
				select {
				case s.send <- msg:
				default:
				}
				return
			default:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(msg.messageType, msg.data); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-stop:
			return
		case <-s.done:
			_ = conn.Close()
			return
		}
	}
}
