package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrIDTaken is returned by Claim when another connection holds the identity.
var ErrIDTaken = errors.New("identity taken")

// Participant is one participant's connection to the relay. It survives
// reconnects: Signals, Arrivals and Departures stay valid, Lost does not.
type Participant struct {
	url     string
	handler *Handler

	mu     sync.Mutex
	client *Client
	roomID string
	closed bool

	// claimMu serialises claims so replies cannot be confused.
	claimMu sync.Mutex
}

// NewParticipant prepares a participant for the relay at url. Nothing is
// dialled until Connect.
func NewParticipant(url string) *Participant {
	return &Participant{url: url, handler: NewHandler()}
}

// Connect dials the relay, replacing any previous connection.
func (p *Participant) Connect(ctx context.Context) error {
	client := NewClient(p.url)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		client.Close()
		return ErrClosed
	}
	old := p.client
	p.client = client
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go p.handler.Start(client)

	slog.Debug("signaling: connected to relay", "url", p.url)
	return nil
}

// Reconnect re-establishes the relay connection after it was lost.
func (p *Participant) Reconnect(ctx context.Context) error {
	return p.Connect(ctx)
}

func (p *Participant) current() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.client == nil {
		return nil, ErrClosed
	}
	return p.client, nil
}

// Join enters roomID on the relay. Later signals are scoped to it.
func (p *Participant) Join(ctx context.Context, roomID string) error {
	client, err := p.current()
	if err != nil {
		return err
	}
	if err := client.Send(ctx, Join{RoomID: roomID}); err != nil {
		return err
	}
	p.mu.Lock()
	p.roomID = roomID
	p.mu.Unlock()
	return nil
}

// Leave exits the current room, if any.
func (p *Participant) Leave(ctx context.Context) error {
	client, err := p.current()
	if err != nil {
		return err
	}
	p.mu.Lock()
	roomID := p.roomID
	p.roomID = ""
	p.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return client.Send(ctx, Leave{RoomID: roomID})
}

// Claim registers id as this participant's rendezvous identity and returns
// the identity granted. An empty id asks the relay to assign one.
func (p *Participant) Claim(ctx context.Context, id string) (string, error) {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()

	client, err := p.current()
	if err != nil {
		return "", err
	}

	// Drop a reply left over from an abandoned claim.
	select {
	case <-p.handler.Claims:
	default:
	}

	if err := client.Send(ctx, Claim{ID: id}); err != nil {
		return "", err
	}

	for {
		select {
		case env := <-p.handler.Claims:
			switch e := env.(type) {
			case Claimed:
				if id != "" && e.ID != id {
					continue
				}
				return e.ID, nil
			case IDTaken:
				if e.ID != id {
					continue
				}
				return "", fmt.Errorf("%w: %s", ErrIDTaken, id)
			}
		case <-client.Dead():
			return "", ErrClosed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// SendSignal sends negotiation data to the other members of the current room.
func (p *Participant) SendSignal(ctx context.Context, payload SignalPayload) error {
	client, err := p.current()
	if err != nil {
		return err
	}
	p.mu.Lock()
	roomID := p.roomID
	p.mu.Unlock()
	if roomID == "" {
		return errors.New("signal before join")
	}

	env, err := NewSignal(roomID, payload)
	if err != nil {
		return err
	}
	return client.Send(ctx, env)
}

// Signals delivers Signal envelopes from other members.
func (p *Participant) Signals() <-chan Signal { return p.handler.Signal }

// Arrivals fires when someone joins the current room.
func (p *Participant) Arrivals() <-chan struct{} { return p.handler.UserJoined }

// Departures fires when someone leaves the current room.
func (p *Participant) Departures() <-chan struct{} { return p.handler.UserLeft }

// Lost is closed when the current relay connection drops. After a Reconnect
// callers must fetch it again.
func (p *Participant) Lost() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		lost := make(chan struct{})
		close(lost)
		return lost
	}
	return p.client.Dead()
}

// Close hangs up the relay connection. The participant cannot be reused.
func (p *Participant) Close() {
	p.mu.Lock()
	client := p.client
	p.closed = true
	p.mu.Unlock()

	if client != nil {
		client.Close()
	}
}
