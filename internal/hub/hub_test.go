package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// fakeWS records writes and control frames in place of a real socket.
type fakeWS struct {
	mu       sync.Mutex
	written  [][]byte
	pings    int
	closed   bool
	closeErr error
}

func (f *fakeWS) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mt == websocket.TextMessage {
		f.written = append(f.written, data)
	}
	return nil
}

func (f *fakeWS) WriteControl(mt int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mt == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeWS) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeWS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeWS) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeWS) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeWS) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestConn(room domain.RoomID, user domain.UserID) (*Conn, *fakeWS) {
	ws := &fakeWS{}
	return NewConn(room, user, ws, 8), ws
}

func TestForwardAndLiveCount(t *testing.T) {
	h := NewHub(time.Minute)
	c1, _ := newTestConn("r1", "u1")
	c2, _ := newTestConn("r1", "u2")
	h.Attach(c1)
	h.Attach(c2)

	if got := h.LiveCount("r1"); got != 2 {
		t.Errorf("LiveCount = %d, want 2", got)
	}
	if got := h.LiveCount("r2"); got != 0 {
		t.Errorf("LiveCount empty room = %d, want 0", got)
	}

	if !h.Forward("r1", "u2", Frame("hello")) {
		t.Error("forward to attached user failed")
	}
	if h.Forward("r1", "u9", Frame("hello")) {
		t.Error("forward to absent user reported delivered")
	}
	if h.Forward("r9", "u1", Frame("hello")) {
		t.Error("forward to absent room reported delivered")
	}
}

func TestBroadcastExcludesActor(t *testing.T) {
	h := NewHub(time.Minute)
	c1, ws1 := newTestConn("r1", "u1")
	c2, ws2 := newTestConn("r1", "u2")
	h.Attach(c1)
	h.Attach(c2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c1.RunWritePump(ctx)
	c2.RunWritePump(ctx)

	h.Broadcast("r1", Frame(`{"type":"user-joined"}`), "u1")
	waitFor(t, func() bool { return ws2.writeCount() == 1 })
	if ws1.writeCount() != 0 {
		t.Errorf("excluded actor received %d frames", ws1.writeCount())
	}

	// No exclusion reaches everyone.
	h.Broadcast("r1", Frame(`{"type":"host-transferred"}`), "")
	waitFor(t, func() bool { return ws1.writeCount() == 1 && ws2.writeCount() == 2 })
}

func TestTrySendBackpressureAndClose(t *testing.T) {
	c, _ := newTestConn("r1", "u1")

	// No pump running: fill the buffer.
	for i := 0; i < 8; i++ {
		if err := c.TrySend(Frame("x")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.TrySend(Frame("x")); err != ErrBackpressure {
		t.Errorf("err = %v, want ErrBackpressure", err)
	}

	c.Close()
	c.Close() // idempotent
	if err := c.TrySend(Frame("x")); err != ErrConnClosed {
		t.Errorf("err after close = %v, want ErrConnClosed", err)
	}
}

func TestDetachKeepsReplacement(t *testing.T) {
	h := NewHub(time.Minute)
	old, oldWS := newTestConn("r1", "u1")
	h.Attach(old)

	replacement, _ := newTestConn("r1", "u1")
	h.Attach(replacement)
	if !oldWS.isClosed() {
		t.Error("replaced connection not closed")
	}
	if got := h.LiveCount("r1"); got != 1 {
		t.Errorf("LiveCount = %d, want 1", got)
	}

	// The old connection's cleanup must not detach the replacement, and its
	// false return tells the caller the user is still live.
	if h.Detach(old) {
		t.Error("stale detach reported ownership")
	}
	if got := h.LiveCount("r1"); got != 1 {
		t.Errorf("LiveCount after stale detach = %d, want 1", got)
	}
	if !h.Detach(replacement) {
		t.Error("detach of registered connection reported false")
	}
	if got := h.LiveCount("r1"); got != 0 {
		t.Errorf("LiveCount after detach = %d, want 0", got)
	}
}

func TestDrop(t *testing.T) {
	h := NewHub(time.Minute)
	c, ws := newTestConn("r1", "u1")
	h.Attach(c)

	if !h.Drop("r1", "u1") {
		t.Fatal("drop of attached user failed")
	}
	if !ws.isClosed() {
		t.Error("dropped connection not closed")
	}
	if h.Drop("r1", "u1") {
		t.Error("second drop reported true")
	}
}

// A connection that answers probes survives the sweep; one that never
// answers is closed on the second tick.
func TestLivenessSweep(t *testing.T) {
	h := NewHub(time.Minute)
	quiet, quietWS := newTestConn("r1", "u1")
	chatty, chattyWS := newTestConn("r1", "u2")
	h.Attach(quiet)
	h.Attach(chatty)

	h.sweep()
	if quietWS.isClosed() || chattyWS.isClosed() {
		t.Fatal("closed on first sweep")
	}
	if quietWS.pingCount() != 1 || chattyWS.pingCount() != 1 {
		t.Fatalf("pings = (%d, %d), want (1, 1)", quietWS.pingCount(), chattyWS.pingCount())
	}

	chatty.MarkResponsive()
	h.sweep()
	if !quietWS.isClosed() {
		t.Error("unresponsive connection survived second sweep")
	}
	if chattyWS.isClosed() {
		t.Error("responsive connection was closed")
	}
	if chattyWS.pingCount() != 2 {
		t.Errorf("responsive conn pings = %d, want 2", chattyWS.pingCount())
	}
}
