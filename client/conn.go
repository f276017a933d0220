// Package client implements the producer side of the brushcast protocol:
// socket lifecycle with exponential-backoff reconnection, order-preserving
// outbound buffering, and debounced frame scheduling.
package client

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brushcast/brushcast/internal/slogging"
)

// ErrConnectTimeout reports a handshake that hung past the configured
// timeout, as opposed to a clean refusal.
var ErrConnectTimeout = errors.New("client: connect timed out")

// ErrReconnectExhausted is terminal: all reconnect attempts failed and the
// caller must surface an explicit retry action to the user.
var ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")

// ErrNotConnected is returned by Send after a manual disconnect.
var ErrNotConnected = errors.New("client: connection closed")

// Config controls the connection manager.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// HandshakeTimeout force-closes a hung CONNECTING handshake.
	HandshakeTimeout time.Duration
	// BaseDelay is the first reconnect delay.
	BaseDelay time.Duration
	// DecayRate multiplies the delay each attempt.
	DecayRate float64
	// MaxDelay caps the grown delay.
	MaxDelay time.Duration
	// MaxAttempts bounds reconnection; afterwards OnReconnectFailed fires
	// once and the manager stops.
	MaxAttempts int

	// OnConnect fires after every successful (re)connection, once the
	// outbound buffer has been flushed.
	OnConnect func()
	// OnMessage receives every inbound message.
	OnMessage func(messageType int, data []byte)
	// OnReconnecting fires before each reconnect attempt.
	OnReconnecting func(attempt, maxAttempts int)
	// OnReconnectFailed fires exactly once when attempts are exhausted.
	OnReconnectFailed func()
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DecayRate <= 1 {
		cfg.DecayRate = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return cfg
}

type bufferedMessage struct {
	messageType int
	data        []byte
}

// Conn manages one client socket. Outbound sends while disconnected are
// buffered FIFO and flushed on reconnection: at-least-once and
// order-preserving, with no deduplication.
type Conn struct {
	cfg Config

	// wmu serializes writes; gorilla permits one concurrent writer.
	wmu sync.Mutex

	mu          sync.Mutex
	ws          *websocket.Conn
	buffer      []bufferedMessage
	manualClose bool
	attempt     int
	failedOnce  bool
	reconnectT  *time.Timer
}

// New creates an unconnected manager.
func New(cfg Config) *Conn {
	return &Conn{cfg: cfg.withDefaults()}
}

// Connect opens the socket and starts the read loop. A hung handshake is
// force-closed after HandshakeTimeout and reported as ErrConnectTimeout.
// An explicit Connect is a fresh start: the attempt counter and the
// exhaustion latch reset, so a later outage reports OnReconnectFailed
// again.
func (c *Conn) Connect() error {
	c.mu.Lock()
	c.manualClose = false
	c.attempt = 0
	c.failedOnce = false
	c.mu.Unlock()
	return c.dial()
}

func (c *Conn) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	ws, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.attempt = 0
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	// Flush buffered sends in order before anything else goes out.
	c.wmu.Lock()
	for i, msg := range pending {
		if err := ws.WriteMessage(msg.messageType, msg.data); err != nil {
			unsent := pending[i:]
			slogging.Get().Warn("client: flush failed, rebuffering %d messages: %v", len(unsent), err)
			c.mu.Lock()
			c.buffer = append(unsent, c.buffer...)
			c.mu.Unlock()
			break
		}
	}
	c.wmu.Unlock()

	go c.readLoop(ws)

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClosed(ws)
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(messageType, data)
		}
	}
}

func (c *Conn) handleClosed(ws *websocket.Conn) {
	_ = ws.Close()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	manual := c.manualClose
	c.mu.Unlock()

	if manual {
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt:
// delay = min(baseDelay * decayRate^attempt, maxDelay).
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	if c.attempt >= c.cfg.MaxAttempts {
		failed := !c.failedOnce
		c.failedOnce = true
		c.mu.Unlock()
		if failed && c.cfg.OnReconnectFailed != nil {
			c.cfg.OnReconnectFailed()
		}
		return
	}

	delay := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(c.cfg.DecayRate, float64(c.attempt)))
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	c.attempt++
	attempt := c.attempt
	c.reconnectT = time.AfterFunc(delay, c.tryReconnect)
	c.mu.Unlock()

	slogging.Get().Info("client: reconnecting in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxAttempts)
	if c.cfg.OnReconnecting != nil {
		c.cfg.OnReconnecting(attempt, c.cfg.MaxAttempts)
	}
}

func (c *Conn) tryReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		slogging.Get().Warn("client: reconnect failed: %v", err)
		c.scheduleReconnect()
	}
}

// Send writes a binary message, buffering it FIFO while the socket is not
// open. Buffered messages flush in order on the next successful connect.
func (c *Conn) Send(data []byte) error {
	return c.sendMessage(websocket.BinaryMessage, data)
}

// SendText writes a text control message with the same buffering contract.
func (c *Conn) SendText(data []byte) error {
	return c.sendMessage(websocket.TextMessage, data)
}

func (c *Conn) sendMessage(messageType int, data []byte) error {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ws := c.ws
	if ws == nil {
		c.buffer = append(c.buffer, bufferedMessage{messageType: messageType, data: data})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.wmu.Lock()
	err := ws.WriteMessage(messageType, data)
	c.wmu.Unlock()
	if err != nil {
		// The read loop will notice the dead socket and reconnect; keep
		// the message for the flush.
		c.mu.Lock()
		c.buffer = append(c.buffer, bufferedMessage{messageType: messageType, data: data})
		c.mu.Unlock()
	}
	return nil
}

// IsConnected reports whether the socket is currently open.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// BufferedCount returns the number of messages awaiting flush.
func (c *Conn) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Disconnect closes the socket and suppresses auto-reconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectT != nil {
		c.reconnectT.Stop()
		c.reconnectT = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
