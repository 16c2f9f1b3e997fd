package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

func startRelay(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, []string{"*"}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env signaling.Envelope) {
	t.Helper()
	frame, err := signaling.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expect(t *testing.T, conn *websocket.Conn) signaling.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := signaling.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

// settle sends a claim and waits for the reply. Everything the connection
// sent before it has been applied by the hub once the reply arrives.
func settle(t *testing.T, conn *websocket.Conn, id string) {
	t.Helper()
	send(t, conn, signaling.Claim{ID: id})
	if got := expect(t, conn); got != (signaling.Claimed{ID: id}) {
		t.Fatalf("expected claimed %q, got %#v", id, got)
	}
}

func TestRelay_RendezvousOverWebsocket(t *testing.T) {
	srv, _ := startRelay(t)
	a := dial(t, srv)
	b := dial(t, srv)

	send(t, a, signaling.Join{RoomID: "Room-A"})
	settle(t, a, "alice")

	send(t, b, signaling.Join{RoomID: "Room-A"})
	settle(t, b, "bob")

	if got := expect(t, a); got != (signaling.UserJoined{}) {
		t.Fatalf("a expected user-joined, got %#v", got)
	}

	payload := `{"from":"alice","to":"bob","kind":"offer","sdp":"v=0"}`
	send(t, a, signaling.Signal{RoomID: "Room-A", Payload: json.RawMessage(payload)})

	got := expect(t, b)
	sig, ok := got.(signaling.Signal)
	if !ok || sig.RoomID != "Room-A" {
		t.Fatalf("b expected a signal for Room-A, got %#v", got)
	}
	var decoded signaling.SignalPayload
	if err := json.Unmarshal(sig.Payload, &decoded); err != nil || decoded.SDP != "v=0" {
		t.Fatalf("payload not preserved: %s (%v)", sig.Payload, err)
	}

	b.Close()
	if got := expect(t, a); got != (signaling.UserLeft{}) {
		t.Fatalf("a expected user-left after b disconnected, got %#v", got)
	}
}

func TestRelay_MalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := startRelay(t)
	a := dial(t, srv)

	for _, frame := range []string{`not json`, `{"type":"teleport"}`, `{"type":"join"}`} {
		if err := a.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	settle(t, a, "still-here")
}

func TestRelay_IdentityTaken(t *testing.T) {
	srv, _ := startRelay(t)
	a := dial(t, srv)
	b := dial(t, srv)

	settle(t, a, "Room-A")

	send(t, b, signaling.Claim{ID: "Room-A"})
	if got := expect(t, b); got != (signaling.IDTaken{ID: "Room-A"}) {
		t.Fatalf("expected id-taken, got %#v", got)
	}
}

func TestRelay_HealthAndRooms(t *testing.T) {
	srv, _ := startRelay(t)

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Fatalf("unexpected health response %d %q", res.StatusCode, body)
	}

	a := dial(t, srv)
	send(t, a, signaling.Join{RoomID: "lobby"})
	settle(t, a, "host")

	res, err = http.Get(srv.URL + "/rooms")
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var snap Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if snap.Clients != 1 || len(snap.Rooms) != 1 || snap.Rooms[0].ID != "lobby" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Identities) != 1 || snap.Identities[0] != "host" {
		t.Fatalf("unexpected identities %v", snap.Identities)
	}
}
