package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

const writeWait = 5 * time.Second

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a marshaled outbound message.
type Frame []byte

// liveness is the explicit two-state probe value. A connection starts
// Responsive, is flipped to Unconfirmed by each sweep, and flips back when a
// pong arrives. Still Unconfirmed at the next sweep means dead.
type liveness int

const (
	responsive liveness = iota
	unconfirmed
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn binds a (room, user) pair to a live transport handle. Sends are
// best-effort through a buffered channel; a full buffer or a closed
// connection drops the frame.
type Conn struct {
	roomID domain.RoomID
	userID domain.UserID
	ws     WSConn
	send   chan Frame

	mu     sync.Mutex
	closed bool
	live   liveness
}

func NewConn(roomID domain.RoomID, userID domain.UserID, ws WSConn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 32
	}
	return &Conn{
		roomID: roomID,
		userID: userID,
		ws:     ws,
		send:   make(chan Frame, buffer),
	}
}

func (c *Conn) RoomID() domain.RoomID { return c.roomID }
func (c *Conn) UserID() domain.UserID { return c.userID }

// TrySend queues a frame without blocking.
func (c *Conn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close is idempotent and safe from any goroutine. Closing the underlying
// socket unblocks the owner's read loop, which runs the usual departure
// cleanup, so a heartbeat kill looks exactly like a client close.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

// MarkResponsive records a liveness confirmation. Wired to the transport
// pong handler.
func (c *Conn) MarkResponsive() {
	c.mu.Lock()
	c.live = responsive
	c.mu.Unlock()
}

// probe advances the liveness state for one sweep tick. It reports true when
// the previous probe went unanswered; otherwise it marks the connection
// Unconfirmed and sends a transport-level ping.
func (c *Conn) probe() (dead bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.live == unconfirmed {
		c.mu.Unlock()
		return true
	}
	c.live = unconfirmed
	c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	return false
}

// RunWritePump pumps queued frames to the network until the connection or
// the context is done.
func (c *Conn) RunWritePump(ctx context.Context) {
	go func() {
		defer c.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-c.send:
				if !ok {
					_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
					return
				}
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
