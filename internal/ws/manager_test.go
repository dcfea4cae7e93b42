package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"roomcast/internal/relay"
	"roomcast/internal/session"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func (m *memoryCache) SetSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memoryCache) get(id string) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *memoryCache) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type harness struct {
	relay   *relay.Relay
	manager *Manager
	cache   *memoryCache
	url     string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := relay.New(logger, relay.Options{})
	c := &memoryCache{sessions: map[string]session.Session{}}
	m := NewManager(context.Background(), logger, r, c, opts)
	go m.Start()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		m.HandleNewConnection(conn)
	}))
	t.Cleanup(func() {
		m.Shutdown()
		srv.Close()
	})

	return &harness{relay: r, manager: m, cache: c, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

// client returns the server side of the connection id.
func (h *harness) client(t *testing.T, id relay.ConnID) *Client {
	t.Helper()
	h.manager.mu.RLock()
	defer h.manager.mu.RUnlock()
	c, ok := h.manager.clients[id]
	require.True(t, ok, "client %s not registered", id)
	return c
}

func (h *harness) dial(t *testing.T) (*websocket.Conn, relay.ConnID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	msg := readType(t, conn, string(relay.EventConnected))
	var connected relay.Connected
	require.NoError(t, json.Unmarshal(msg.Data, &connected))
	return conn, connected.ID
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: typ, Data: raw}))
}

func readType(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func readChat(t *testing.T, conn *websocket.Conn) relay.ChatPayload {
	t.Helper()
	var p relay.ChatPayload
	require.NoError(t, json.Unmarshal(readType(t, conn, string(relay.EventChat)).Data, &p))
	return p
}

func TestManager_RoomLifecycle(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, idA := h.dial(t)

	send(t, a, TypeCreateRoom, "lobby")
	req.Equal("You have created and joined the room: lobby", readChat(t, a).Message)

	b, idB := h.dial(t)
	send(t, b, TypeJoinRoom, "lobby")
	req.Equal("You have joined the room: lobby", readChat(t, b).Message)
	req.Equal("A new user has joined the room", readChat(t, a).Message)
	req.ElementsMatch([]relay.ConnID{idA, idB}, h.relay.Rooms.MembersOf("lobby"))

	send(t, b, TypeLeaveRoom, "lobby")
	notice := readChat(t, a)
	req.Equal("A user has left the room", notice.Message)
	req.Equal(relay.SystemUserName, notice.UserName)
	req.Equal([]relay.ConnID{idA}, h.relay.Rooms.MembersOf("lobby"))
}

func TestManager_SessionsMirrorMembership(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, idA := h.dial(t)

	send(t, a, TypeCreateRoom, "lobby")
	readChat(t, a)

	req.Eventually(func() bool {
		s, ok := h.cache.get(string(idA))
		return ok && len(s.Rooms) == 1 && s.Rooms[0] == "lobby"
	}, 2*time.Second, 10*time.Millisecond)

	req.NoError(a.Close(websocket.StatusNormalClosure, ""))
	req.Eventually(func() bool {
		_, ok := h.cache.get(string(idA))
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_MalformedFramesAreIgnored(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, _ := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req.NoError(a.Write(ctx, websocket.MessageText, []byte("{not json")))
	send(t, a, TypeCreateRoom, 42)
	send(t, a, TypeChat, "not an object")
	send(t, a, "dance", "lobby")

	send(t, a, TypeCreateRoom, "lobby")
	req.Equal("You have created and joined the room: lobby", readChat(t, a).Message)
}

func TestManager_RoomErrorsReachRequesterOnly(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, _ := h.dial(t)
	b, _ := h.dial(t)

	send(t, a, TypeJoinRoom, "missing")
	var text string
	req.NoError(json.Unmarshal(readType(t, a, string(relay.EventRoomError)).Data, &text))
	req.Equal("Room doesn't exist", text)

	send(t, a, TypeCreateRoom, "lobby")
	readChat(t, a)
	send(t, b, TypeCreateRoom, "lobby")
	req.NoError(json.Unmarshal(readType(t, b, string(relay.EventRoomError)).Data, &text))
	req.Equal("Room already exists", text)

	// Nothing about B's failure reached A
	send(t, a, TypeChat, relay.ChatPayload{Room: "lobby", UserName: "a", Message: "ping"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg Message
		req.NoError(wsjson.Read(ctx, a, &msg))
		req.NotEqual(string(relay.EventRoomError), msg.Type, "unexpected frame %s", msg.Data)
		if msg.Type != string(relay.EventChat) {
			continue
		}
		var p relay.ChatPayload
		req.NoError(json.Unmarshal(msg.Data, &p))
		if p.Message == "ping" {
			break
		}
	}
}

func TestManager_ChatIsRelayedVerbatim(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, _ := h.dial(t)
	b, _ := h.dial(t)
	send(t, a, TypeCreateRoom, "lobby")
	readChat(t, a)
	send(t, b, TypeJoinRoom, "lobby")
	readChat(t, b)

	// Given a payload with an extra field and a numeric timestamp
	payload := `{"room":"lobby","userName":"a","message":"two","timestamp":1700000000,"color":"red"}`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req.NoError(a.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","data":`+payload+`}`)))
	send(t, a, TypeChat, relay.ChatPayload{Room: "lobby", UserName: "a", Message: "three"})

	// Then B receives it unchanged and before the next message
	req.JSONEq(payload, string(readType(t, b, string(relay.EventChat)).Data))
	req.Equal("three", readChat(t, b).Message)
}

func TestManager_FullSendQueueDisconnectsClient(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{SendBufferSize: 2})
	a, idA := h.dial(t)
	b, idB := h.dial(t)
	send(t, b, TypeCreateRoom, "lobby")
	readChat(t, b)
	send(t, a, TypeJoinRoom, "lobby")
	req.Equal("A new user has joined the room", readChat(t, b).Message)

	// Given A stops reading while events keep coming
	slow := h.client(t, idA)
	before := runtime.NumGoroutine()
	ev := relay.Event{Type: relay.EventChat, Data: relay.ChatPayload{Room: "lobby", Message: "flood"}}
	for i := 0; i < 10000; i++ {
		slow.Deliver(ev)
	}

	// Then a single disconnect is started and A leaves the relay promptly
	req.Less(runtime.NumGoroutine()-before, 10)
	req.Eventually(func() bool {
		return h.relay.Conns.Count() == 1
	}, time.Second, 10*time.Millisecond)
	req.Equal([]relay.ConnID{idB}, h.relay.Rooms.MembersOf("lobby"))
	req.Equal("A user has disconnected", readChat(t, b).Message)
}

func TestManager_RateLimitDropsExcessFrames(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{RateLimit: 0.001, RateBurst: 2})
	a, _ := h.dial(t)

	send(t, a, TypeCreateRoom, "r1")
	send(t, a, TypeCreateRoom, "r2")
	send(t, a, TypeCreateRoom, "r3")

	req.Eventually(func() bool {
		return len(h.relay.Rooms.Names()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	req.Equal([]string{"r1", "r2"}, h.relay.Rooms.Names())
	req.Equal(1, h.manager.ClientCount())
}

func TestManager_OversizedFrameClosesOnlyThatClient(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{MaxMessageSize: 128})
	a, _ := h.dial(t)
	b, _ := h.dial(t)
	send(t, b, TypeCreateRoom, "lobby")
	readChat(t, b)

	send(t, a, TypeChat, relay.ChatPayload{Room: "lobby", Message: strings.Repeat("x", 256)})

	req.Eventually(func() bool { return h.manager.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	send(t, b, TypeChat, relay.ChatPayload{Room: "lobby", Message: "still here"})
	req.Equal("still here", readChat(t, b).Message)
}

func TestManager_ShutdownClosesClients(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Options{})
	a, _ := h.dial(t)
	req.Eventually(func() bool { return h.manager.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.manager.Shutdown()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := a.Read(ctx); err != nil {
			break
		}
	}
	<-done
	req.Equal(0, h.manager.ClientCount())
}
