package media

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

// dialLink is the guest side of a session: one outbound peer connection.
type dialLink struct {
	engine        *Engine
	local, remote string
	peer          *peer

	events    chan rendezvous.LinkEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (l *dialLink) Events() <-chan rendezvous.LinkEvent { return l.events }

// Hangup is meaningless for a single outbound peer.
func (l *dialLink) Hangup(string) {}

func (l *dialLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.engine.removeDial(l)
		l.peer.close(true)
	})
	return nil
}

func (l *dialLink) emit(ev rendezvous.LinkEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *dialLink) handle(p *signaling.SignalPayload) {
	switch p.Kind {
	case signaling.KindAnswer:
		if err := l.peer.setRemote(webrtc.SDPTypeAnswer, p.SDP); err != nil {
			slog.Debug("media: apply answer", "remote", l.remote, "err", err)
			l.peer.end(rendezvous.LinkFailed, err)
		}
	case signaling.KindCandidate:
		l.peer.addCandidate(p.Candidate)
	case signaling.KindBye:
		l.peer.end(rendezvous.LinkClosed, nil)
	}
}

// watch fails the dial when the host does not answer or media never flows.
func (l *dialLink) watch() {
	answer := time.NewTimer(l.engine.answerTimeout)
	connect := time.NewTimer(l.engine.connectTimeout)
	defer answer.Stop()
	defer connect.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-answer.C:
			if !l.peer.hasRemote() {
				l.peer.end(rendezvous.LinkFailed, errNoAnswer)
				return
			}
		case <-connect.C:
			if !l.peer.streaming.Load() {
				l.peer.end(rendezvous.LinkFailed, errConnectTimeout)
			}
			return
		}
	}
}

// listenLink is the host side: it answers offers addressed to its identity,
// one peer connection per guest.
type listenLink struct {
	engine   *Engine
	identity string
	tracks   *Tracks

	mu    sync.Mutex
	peers map[string]*peer

	events    chan rendezvous.LinkEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newListenLink(e *Engine, identity string, tracks *Tracks) *listenLink {
	return &listenLink{
		engine:   e,
		identity: identity,
		tracks:   tracks,
		peers:    make(map[string]*peer),
		events:   make(chan rendezvous.LinkEvent, 16),
		done:     make(chan struct{}),
	}
}

func (l *listenLink) Events() <-chan rendezvous.LinkEvent { return l.events }

func (l *listenLink) emit(ev rendezvous.LinkEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *listenLink) handle(p *signaling.SignalPayload) {
	switch p.Kind {
	case signaling.KindOffer:
		l.accept(p.From, p.SDP)

	case signaling.KindCandidate:
		if pr := l.peer(p.From); pr != nil {
			pr.addCandidate(p.Candidate)
		}

	case signaling.KindBye:
		if pr := l.peer(p.From); pr != nil {
			pr.end(rendezvous.LinkClosed, nil)
			l.drop(p.From, pr, false)
		}
	}
}

// accept answers an offer. A new offer from a known guest replaces its
// previous connection, which is closed without reporting.
func (l *listenLink) accept(from, sdp string) {
	select {
	case <-l.done:
		return
	default:
	}

	var pr *peer
	var err error
	pr, err = l.engine.newPeer(l.identity, from, l.tracks, func(ev rendezvous.LinkEvent) {
		if ev.Kind == rendezvous.LinkClosed || ev.Kind == rendezvous.LinkFailed {
			l.forget(from, pr)
		}
		l.emit(ev)
	})
	if err != nil {
		slog.Warn("media: accept guest", "peer", from, "err", err)
		return
	}

	l.mu.Lock()
	old := l.peers[from]
	l.peers[from] = pr
	l.mu.Unlock()
	if old != nil {
		old.silence()
	}

	if err := pr.answer(sdp); err != nil {
		slog.Warn("media: answer guest", "peer", from, "err", err)
		pr.end(rendezvous.LinkFailed, err)
		l.drop(from, pr, false)
	}
}

func (l *listenLink) peer(remote string) *peer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peers[remote]
}

// forget removes pr from the table if it is still the current peer for remote.
func (l *listenLink) forget(remote string, pr *peer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peers[remote] == pr {
		delete(l.peers, remote)
	}
}

func (l *listenLink) drop(remote string, pr *peer, bye bool) {
	l.forget(remote, pr)
	pr.close(bye)
}

// Hangup disconnects one guest.
func (l *listenLink) Hangup(remote string) {
	if pr := l.peer(remote); pr != nil {
		l.drop(remote, pr, true)
	}
}

func (l *listenLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.engine.removeListener(l)

		l.mu.Lock()
		peers := l.peers
		l.peers = make(map[string]*peer)
		l.mu.Unlock()

		for _, pr := range peers {
			pr.close(true)
		}
	})
	return nil
}
