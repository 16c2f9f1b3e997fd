package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with trickled candidates

	// Outbound frames buffered per connection before fan-out starts dropping.
	sendBuffer = 256
)

// Client is one participant connection owned by the relay.
type Client struct {
	// ID identifies the connection in logs and room snapshots.
	ID string

	hub  *Hub
	conn *websocket.Conn
	addr string

	// send is a buffered channel of encoded outbound frames.
	// The hub writes to it, WritePump drains it to the socket.
	send chan []byte

	// closed is set by the hub goroutine once send has been closed.
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if conn != nil {
		c.addr = conn.RemoteAddr().String()
	}
	return c
}

// deliver queues a frame without blocking. It runs on the hub goroutine only.
// A closed or congested connection drops the frame.
func (c *Client) deliver(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		slog.Warn("relay: send buffer full, dropping frame", "client", c.ID, "addr", c.addr)
		return false
	}
}

// shutdown closes the send channel exactly once. Hub goroutine only.
func (c *Client) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps envelopes from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("relay: read failed", "client", c.ID, "err", err)
			}
			return
		}

		env, err := signaling.Decode(data)
		if err != nil {
			// Signaling is best-effort: the frame is dropped, the sender is not told.
			if errors.Is(err, signaling.ErrMalformed) {
				slog.Debug("relay: dropping malformed envelope", "client", c.ID, "err", err)
			}
			continue
		}

		if !c.hub.dispatch(c, env) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("relay: write failed", "client", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
