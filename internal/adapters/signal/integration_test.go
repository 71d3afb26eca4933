package signal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	router "github.com/AvisHuang/peer-chat/internal/adapters/http"
	"github.com/AvisHuang/peer-chat/internal/adapters/signal"
	"github.com/AvisHuang/peer-chat/internal/config"
	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/domain"
	"github.com/AvisHuang/peer-chat/internal/hub"
)

type wsEnv struct {
	server *httptest.Server
	reg    *core.Registry
}

func setupWSEnv(t *testing.T, heartbeat time.Duration) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:              "test",
		HeartbeatInterval: heartbeat,
		ReadLimit:         32768,
		SendBuffer:        32,
		AllowedOrigin:     "*",
	}
	h := hub.NewHub(cfg.HeartbeatInterval)
	reg := core.NewRegistry(h)
	events := signal.NewEvents(h, reg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.RunLiveness(ctx)

	server := httptest.NewServer(router.SetupRouter(ctx, cfg, reg, h, events))
	t.Cleanup(server.Close)
	return &wsEnv{server: server, reg: reg}
}

func (e *wsEnv) dial(t *testing.T, roomID domain.RoomID, userID, displayName string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws" +
		"?roomId=" + url.QueryEscape(string(roomID)) +
		"&userId=" + url.QueryEscape(userID) +
		"&displayName=" + url.QueryEscape(displayName)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("err = %v, want close error", err)
	}
	return closeErr.Code
}

func (e *wsEnv) createRoom(t *testing.T) domain.RoomID {
	t.Helper()
	rs, err := e.reg.CreateRoom("Jam", domain.Member{UserID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	return rs.ID()
}

func TestHandshakeRejections(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	t.Run("missing credentials", func(t *testing.T) {
		conn := env.dial(t, roomID, "", "")
		if code := readCloseCode(t, conn); code != signal.CloseMissingCredentials {
			t.Errorf("close code = %d, want %d", code, signal.CloseMissingCredentials)
		}
	})
	t.Run("unknown room", func(t *testing.T) {
		conn := env.dial(t, "no-such-room", "u2", "Bob")
		if code := readCloseCode(t, conn); code != signal.CloseRoomNotFound {
			t.Errorf("close code = %d, want %d", code, signal.CloseRoomNotFound)
		}
	})
	t.Run("room full", func(t *testing.T) {
		rs, err := env.reg.Room(roomID)
		if err != nil {
			t.Fatal(err)
		}
		if err := rs.UpsertMember(domain.Member{UserID: "u2", DisplayName: "Bob"}); err != nil {
			t.Fatal(err)
		}
		conn := env.dial(t, roomID, "u3", "Carol")
		if code := readCloseCode(t, conn); code != signal.CloseRoomFull {
			t.Errorf("close code = %d, want %d", code, signal.CloseRoomFull)
		}
	})
}

func TestSnapshotAndJoinNotice(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	state := readMsg(t, alice)
	if state["type"] != "room-state" || state["hostUserId"] != "u1" {
		t.Fatalf("greeting = %+v", state)
	}
	if participants := state["participants"].([]any); len(participants) != 0 {
		t.Errorf("participants = %+v, want empty (self excluded)", participants)
	}
	if state["currentPoll"] != nil {
		t.Errorf("currentPoll = %v, want null", state["currentPoll"])
	}

	bob := env.dial(t, roomID, "u2", "Bob")
	state = readMsg(t, bob)
	participants := state["participants"].([]any)
	if len(participants) != 1 || participants[0].(map[string]any)["userId"] != "u1" {
		t.Errorf("bob's participants = %+v, want just alice", participants)
	}

	joined := readMsg(t, alice)
	if joined["type"] != "user-joined" {
		t.Fatalf("msg = %+v", joined)
	}
	if user := joined["user"].(map[string]any); user["userId"] != "u2" || user["displayName"] != "Bob" {
		t.Errorf("joined user = %+v", user)
	}
}

// The snapshot must carry a poll that started before the connection did.
func TestLateJoinerSeesActivePoll(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)
	rs, err := env.reg.Room(roomID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rs.StartPoll("u1", "Song?", []string{"A", "B"}); err != nil {
		t.Fatal(err)
	}

	bob := env.dial(t, roomID, "u2", "Bob")
	state := readMsg(t, bob)
	poll := state["currentPoll"].(map[string]any)
	if poll["question"] != "Song?" {
		t.Errorf("poll = %+v", poll)
	}
}

func TestHostSuccessionOnDisconnect(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	readMsg(t, alice) // room-state
	bob := env.dial(t, roomID, "u2", "Bob")
	readMsg(t, bob)   // room-state
	readMsg(t, alice) // user-joined

	_ = alice.Close()

	transferred := readMsg(t, bob)
	if transferred["type"] != "host-transferred" || transferred["newHostUserId"] != "u2" || transferred["fromUserId"] != "u1" {
		t.Fatalf("msg = %+v", transferred)
	}
	left := readMsg(t, bob)
	if left["type"] != "user-left" || left["userId"] != "u1" {
		t.Fatalf("msg = %+v", left)
	}

	rs, err := env.reg.Room(roomID)
	if err != nil {
		t.Fatal(err)
	}
	if got := rs.HostUserID(); got != "u2" {
		t.Errorf("host = %q, want u2", got)
	}
}

// Reconnecting with the same userId replaces the hub entry; the replaced
// connection's cleanup must not remove the membership or move the host.
func TestReconnectKeepsMembershipAndHost(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	readMsg(t, alice)
	bob := env.dial(t, roomID, "u2", "Bob")
	readMsg(t, bob)
	readMsg(t, alice) // user-joined

	alice2 := env.dial(t, roomID, "u1", "Alice")
	state := readMsg(t, alice2)
	if state["type"] != "room-state" || state["hostUserId"] != "u1" {
		t.Fatalf("replacement greeting = %+v", state)
	}

	// The server closes the replaced socket; wait for it so its cleanup has
	// run before checking state.
	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			break
		}
	}
	time.Sleep(100 * time.Millisecond)

	rs, err := env.reg.Room(roomID)
	if err != nil {
		t.Fatalf("room lookup = %v, want reachable", err)
	}
	if got := rs.HostUserID(); got != "u1" {
		t.Errorf("host = %q, want u1", got)
	}
	if got := rs.MemberCount(); got != 2 {
		t.Errorf("member count = %d, want 2", got)
	}

	// Bob's stream carries the re-join notice and then the chat, with no
	// user-left or host-transferred in between.
	if msg := readMsg(t, bob); msg["type"] != "user-joined" {
		t.Fatalf("msg = %+v, want user-joined for the reconnect", msg)
	}
	if err := alice2.WriteJSON(map[string]any{"type": "chat", "text": "back"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMsg(t, bob); msg["type"] != "chat" || msg["text"] != "back" {
		t.Fatalf("msg = %+v, want chat with no departure notices before it", msg)
	}
}

func TestRoomDeletedAfterLastDisconnect(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	readMsg(t, alice)
	_ = alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := env.reg.Room(roomID); errors.Is(err, domain.ErrRoomNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("room still reachable after last member and connection went away")
}

func TestChatRoundTrip(t *testing.T) {
	env := setupWSEnv(t, time.Minute)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	readMsg(t, alice)
	bob := env.dial(t, roomID, "u2", "Bob")
	readMsg(t, bob)
	readMsg(t, alice)

	if err := bob.WriteJSON(map[string]any{"type": "chat", "text": "hello"}); err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, alice)
	if msg["type"] != "chat" || msg["text"] != "hello" {
		t.Fatalf("msg = %+v", msg)
	}
	if from := msg["from"].(map[string]any); from["userId"] != "u2" {
		t.Errorf("from = %+v", from)
	}
}

// A client that swallows pings is culled within two heartbeat intervals; one
// that answers (the transport default) survives.
func TestHeartbeatCullsSilentConnection(t *testing.T) {
	env := setupWSEnv(t, 50*time.Millisecond)
	roomID := env.createRoom(t)

	silent := env.dial(t, roomID, "u1", "Alice")
	silent.SetPingHandler(func(string) error { return nil })
	readMsg(t, silent)

	_ = silent.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := silent.ReadMessage(); err != nil {
			break // server closed us
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := env.reg.Room(roomID); errors.Is(err, domain.ErrRoomNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("room not cleaned up after heartbeat kill")
}

func TestResponsiveConnectionSurvivesHeartbeat(t *testing.T) {
	env := setupWSEnv(t, 50*time.Millisecond)
	roomID := env.createRoom(t)

	alice := env.dial(t, roomID, "u1", "Alice")
	readMsg(t, alice)

	// Outlive several sweep intervals. The client must sit in a read for the
	// transport to answer pings, so the late chat doubles as the probe.
	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = alice.WriteJSON(map[string]any{"type": "chat", "text": "still here"})
	}()
	msg := readMsg(t, alice)
	if msg["type"] != "chat" || msg["text"] != "still here" {
		t.Fatalf("msg = %+v", msg)
	}
	if _, err := env.reg.Room(roomID); err != nil {
		t.Errorf("room lookup = %v, want reachable", err)
	}
}
