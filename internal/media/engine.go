package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

const (
	// answerTimeout bounds how long a dial waits for the host's answer.
	answerTimeout = 5 * time.Second
	// connectTimeout bounds how long a dial waits for remote media.
	connectTimeout = 15 * time.Second
)

var (
	errNoAnswer       = errors.New("host did not answer")
	errConnectTimeout = errors.New("no remote media within 15s")
	errForeignMedia   = errors.New("local media was not captured by this engine")
)

// Signaler carries negotiation payloads through the relay.
type Signaler interface {
	SendSignal(ctx context.Context, payload signaling.SignalPayload) error
	Signals() <-chan signaling.Signal
}

// Engine is the pion/webrtc media engine behind a rendezvous session.
type Engine struct {
	cfg Config
	sig Signaler

	answerTimeout  time.Duration
	connectTimeout time.Duration

	mu        sync.Mutex
	dials     map[string]*dialLink   // by local identity
	listeners map[string]*listenLink // by local identity
	peers     map[*peer]struct{}
}

var _ rendezvous.MediaEngine = (*Engine)(nil)

// NewEngine creates an engine that negotiates over sig. Run must be running
// for answers and candidates to arrive.
func NewEngine(cfg Config, sig Signaler) *Engine {
	return &Engine{
		cfg:            cfg,
		sig:            sig,
		answerTimeout:  answerTimeout,
		connectTimeout: connectTimeout,
		dials:          make(map[string]*dialLink),
		listeners:      make(map[string]*listenLink),
		peers:          make(map[*peer]struct{}),
	}
}

// Run routes incoming negotiation payloads until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-e.sig.Signals():
			if !ok {
				return
			}
			e.route(sig)
		}
	}
}

func (e *Engine) route(sig signaling.Signal) {
	p, err := sig.ParsePayload()
	if err != nil || p.To == "" || p.From == "" {
		slog.Debug("media: dropping unusable signal", "room", sig.RoomID, "err", err)
		return
	}

	e.mu.Lock()
	dial := e.dials[p.To]
	listener := e.listeners[p.To]
	e.mu.Unlock()

	switch {
	case dial != nil && dial.remote == p.From:
		dial.handle(p)
	case listener != nil:
		listener.handle(p)
	default:
		slog.Debug("media: signal for unknown identity", "to", p.To, "from", p.From, "kind", p.Kind)
	}
}

// CaptureLocalMedia opens the configured sources.
func (e *Engine) CaptureLocalMedia(ctx context.Context) (rendezvous.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Capture(e.cfg.Sources)
}

// SetTrackEnabled flips a local track and tells every live peer.
func (e *Engine) SetTrackEnabled(media rendezvous.LocalMedia, kind rendezvous.TrackKind, enabled bool) error {
	tracks, ok := media.(*Tracks)
	if !ok {
		return errForeignMedia
	}
	if err := tracks.SetEnabled(kind, enabled); err != nil {
		return err
	}

	e.mu.Lock()
	var peers []*peer
	for p := range e.peers {
		if p.tracks == tracks {
			peers = append(peers, p)
		}
	}
	e.mu.Unlock()

	for _, p := range peers {
		p.sendTrackState(kind)
	}
	return nil
}

// Listen accepts offers addressed to identity.
func (e *Engine) Listen(ctx context.Context, identity string, media rendezvous.LocalMedia) (rendezvous.Link, error) {
	tracks, ok := media.(*Tracks)
	if !ok {
		return nil, errForeignMedia
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := newListenLink(e, identity, tracks)

	e.mu.Lock()
	old := e.listeners[identity]
	e.listeners[identity] = l
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}

	slog.Debug("media: listening", "identity", identity)
	return l, nil
}

// Dial offers a session from identity to remote.
func (e *Engine) Dial(ctx context.Context, identity, remote string, media rendezvous.LocalMedia) (rendezvous.Link, error) {
	tracks, ok := media.(*Tracks)
	if !ok {
		return nil, errForeignMedia
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := &dialLink{
		engine: e,
		local:  identity,
		remote: remote,
		events: make(chan rendezvous.LinkEvent, 8),
		done:   make(chan struct{}),
	}
	p, err := e.newPeer(identity, remote, tracks, l.emit)
	if err != nil {
		return nil, err
	}
	l.peer = p

	e.mu.Lock()
	old := e.dials[identity]
	e.dials[identity] = l
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if err := p.offer(); err != nil {
		l.Close()
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}

	go l.watch()
	return l, nil
}

func (e *Engine) addPeer(p *peer) {
	e.mu.Lock()
	e.peers[p] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) removePeer(p *peer) {
	e.mu.Lock()
	delete(e.peers, p)
	e.mu.Unlock()
}

func (e *Engine) removeDial(l *dialLink) {
	e.mu.Lock()
	if e.dials[l.local] == l {
		delete(e.dials, l.local)
	}
	e.mu.Unlock()
}

func (e *Engine) removeListener(l *listenLink) {
	e.mu.Lock()
	if e.listeners[l.identity] == l {
		delete(e.listeners, l.identity)
	}
	e.mu.Unlock()
}
