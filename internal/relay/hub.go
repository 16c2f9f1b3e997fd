package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("relay hub stopped")

// Hub is the central brain of the relay.
// A single goroutine (Run) applies every envelope, so the registry and the
// identity table are never mutated by two envelopes at once.
type Hub struct {
	registry   *Registry
	identities *identities
	clients    map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	snapshots  chan chan Snapshot

	// done is closed when Run returns.
	done chan struct{}
}

type inbound struct {
	client *Client
	env    signaling.Envelope
}

// Snapshot describes the relay state for the admin endpoint.
type Snapshot struct {
	Clients    int        `json:"clients"`
	Rooms      []RoomInfo `json:"rooms"`
	Identities []string   `json:"identities"`
}

// NewHub creates a Hub backed by reg. A nil reg gets a fresh registry.
func NewHub(reg *Registry) *Hub {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Hub{
		registry:   reg,
		identities: newIdentities(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		snapshots:  make(chan chan Snapshot),
		done:       make(chan struct{}),
	}
}

// Registry exposes the membership table the hub mutates.
func (h *Hub) Registry() *Registry { return h.registry }

// Run starts the hub's processing loop and blocks until ctx is cancelled.
// On exit every remaining connection is told to close.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			c.shutdown()
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			slog.Debug("relay: client registered", "client", c.ID, "addr", c.addr)

		case c := <-h.unregister:
			h.remove(c)

		case in := <-h.inbound:
			h.handle(in.client, in.env)

		case reply := <-h.snapshots:
			reply <- Snapshot{
				Clients:    len(h.clients),
				Rooms:      h.registry.Rooms(),
				Identities: h.identities.list(),
			}
		}
	}
}

// Snapshot asks the hub goroutine for a consistent view of its state.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return Snapshot{}, ErrHubStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch hands an envelope to the hub. It reports false once the hub stopped.
func (h *Hub) dispatch(c *Client, env signaling.Envelope) bool {
	select {
	case h.inbound <- inbound{client: c, env: env}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, env signaling.Envelope) {
	// Envelopes still queued when their connection was reaped must not
	// bring it back into a room or the identity table.
	if _, ok := h.clients[c]; !ok {
		slog.Debug("relay: dropping envelope from reaped client", "client", c.ID, "type", env.Type())
		return
	}

	switch e := env.(type) {
	case signaling.Join:
		h.handleJoin(c, e)

	case signaling.Leave:
		h.leaveRoom(c, e.RoomID)

	case signaling.Signal:
		h.handleSignal(c, e)

	case signaling.Claim:
		h.handleClaim(c, e)

	case signaling.UserJoined, signaling.UserLeft, signaling.Claimed, signaling.IDTaken:
		slog.Debug("relay: dropping server-only envelope", "client", c.ID, "type", env.Type())

	default:
		slog.Debug("relay: dropping unknown envelope", "client", c.ID, "type", env.Type())
	}
}

// handleJoin moves c into the requested room and tells the members already
// there, never the joiner, that someone arrived.
func (h *Hub) handleJoin(c *Client, e signaling.Join) {
	for _, prev := range h.registry.RoomsOf(c) {
		if prev != e.RoomID {
			h.leaveRoom(c, prev)
		}
	}

	others := h.registry.Join(c, e.RoomID)
	slog.Info("relay: client joined room", "client", c.ID, "room", e.RoomID, "others", len(others))
	h.fanout(others, signaling.UserJoined{})
}

// leaveRoom takes c out of roomID. The identity it claimed goes with it, so
// the next arrival can host.
func (h *Hub) leaveRoom(c *Client, roomID string) {
	if !h.registry.LeaveRoom(c, roomID) {
		return
	}
	slog.Info("relay: client left room", "client", c.ID, "room", roomID)
	if id := h.identities.release(c); id != "" {
		slog.Debug("relay: identity released", "client", c.ID, "id", id)
	}
	h.fanout(h.registry.MembersOf(roomID), signaling.UserLeft{})
}

// handleSignal relays the envelope untouched to every other member of the room.
// Senders outside the room are ignored.
func (h *Hub) handleSignal(c *Client, e signaling.Signal) {
	if !h.registry.IsMember(c, e.RoomID) {
		slog.Debug("relay: dropping signal from non-member", "client", c.ID, "room", e.RoomID)
		return
	}

	members := h.registry.MembersOf(e.RoomID)
	targets := members[:0]
	for _, m := range members {
		if m != c {
			targets = append(targets, m)
		}
	}
	h.fanout(targets, e)
}

func (h *Hub) handleClaim(c *Client, e signaling.Claim) {
	id, ok := h.identities.claim(c, e.ID)
	if !ok {
		slog.Info("relay: identity taken", "client", c.ID, "id", id)
		h.fanout([]*Client{c}, signaling.IDTaken{ID: id})
		return
	}
	slog.Info("relay: identity claimed", "client", c.ID, "id", id)
	h.fanout([]*Client{c}, signaling.Claimed{ID: id})
}

// remove reaps a closed connection: leaves every room, frees its identity and
// closes its send channel. Reaping an unknown connection is a no-op.
func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	for _, roomID := range h.registry.Leave(c) {
		h.fanout(h.registry.MembersOf(roomID), signaling.UserLeft{})
	}
	if id := h.identities.release(c); id != "" {
		slog.Debug("relay: identity released", "client", c.ID, "id", id)
	}
	c.shutdown()
	slog.Debug("relay: client unregistered", "client", c.ID, "addr", c.addr)
}

// fanout encodes env once and queues it on every target. A dead or slow
// target never blocks the others.
func (h *Hub) fanout(targets []*Client, env signaling.Envelope) {
	if len(targets) == 0 {
		return
	}
	frame, err := signaling.Encode(env)
	if err != nil {
		slog.Error("relay: encode envelope", "type", env.Type(), "err", err)
		return
	}
	for _, t := range targets {
		t.deliver(frame)
	}
}
