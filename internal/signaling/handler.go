package signaling

import "log/slog"

// Handler routes incoming envelopes to typed channels.
// The channels outlive any single connection, so a Handler can be started
// again on a replacement Client after a reconnect.
type Handler struct {
	Claims     chan Envelope // Claimed or IDTaken
	UserJoined chan struct{}
	UserLeft   chan struct{}
	Signal     chan Signal
}

// NewHandler creates a new envelope handler.
func NewHandler() *Handler {
	return &Handler{
		Claims:     make(chan Envelope, 1),
		UserJoined: make(chan struct{}, 1),
		UserLeft:   make(chan struct{}, 1),
		Signal:     make(chan Signal, 64),
	}
}

// Start routes envelopes from client until its incoming channel closes.
func (h *Handler) Start(client *Client) {
	for env := range client.Incoming() {
		switch e := env.(type) {
		case Claimed, IDTaken:
			h.handleClaimReply(e)

		case UserJoined:
			notify(h.UserJoined)

		case UserLeft:
			notify(h.UserLeft)

		case Signal:
			select {
			case h.Signal <- e:
			default:
				slog.Warn("signaling: signal queue full, dropping", "room", e.RoomID)
			}

		default:
			slog.Debug("signaling: ignoring envelope", "type", env.Type())
		}
	}
}

// handleClaimReply keeps only the latest reply.
func (h *Handler) handleClaimReply(env Envelope) {
	for {
		select {
		case h.Claims <- env:
			return
		default:
		}
		select {
		case <-h.Claims:
		default:
		}
	}
}

// notify coalesces notifications that nobody consumed yet.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
