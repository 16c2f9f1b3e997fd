package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
	"github.com/RazmikUnanyan/razmik-chat/internal/version"
)

const signalTimeout = 5 * time.Second

// peer is one peer connection between a local and a remote identity.
type peer struct {
	engine        *Engine
	local, remote string
	pc            *webrtc.PeerConnection
	tracks        *Tracks
	emit          func(rendezvous.LinkEvent)

	mu         sync.Mutex
	pending    []webrtc.ICECandidateInit
	haveRemote bool
	control    *webrtc.DataChannel

	streaming atomic.Bool
	ended     atomic.Bool
	closeOnce sync.Once
}

func (e *Engine) newPeer(local, remote string, tracks *Tracks, emit func(rendezvous.LinkEvent)) (*peer, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &peer{
		engine: e,
		local:  local,
		remote: remote,
		pc:     pc,
		tracks: tracks,
		emit:   emit,
	}

	for _, t := range tracks.local() {
		sender, err := pc.AddTrack(t)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.send(signaling.SignalPayload{Kind: signaling.KindCandidate, Candidate: raw})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug("media: remote track", "peer", remote, "kind", track.Kind())
		if p.streaming.CompareAndSwap(false, true) {
			p.emit(rendezvous.LinkEvent{Kind: rendezvous.LinkRemoteStream, Peer: remote})
		}
		go drainTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("media: connection state", "peer", remote, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.end(rendezvous.LinkFailed, errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			p.end(rendezvous.LinkClosed, nil)
		case webrtc.PeerConnectionStateConnected:
			p.flushCandidates()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == controlLabel {
			p.bindControl(dc)
		}
	})

	e.addPeer(p)
	return p, nil
}

// offer creates the control channel and sends an offer to the remote.
func (p *peer) offer() error {
	ordered := true
	dc, err := p.pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	p.bindControl(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.sendErr(signaling.SignalPayload{Kind: signaling.KindOffer, SDP: p.pc.LocalDescription().SDP})
}

// answer applies a remote offer and replies with an answer.
func (p *peer) answer(sdp string) error {
	if err := p.setRemote(webrtc.SDPTypeOffer, sdp); err != nil {
		return err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.sendErr(signaling.SignalPayload{Kind: signaling.KindAnswer, SDP: p.pc.LocalDescription().SDP})
}

func (p *peer) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.mu.Lock()
	p.haveRemote = true
	p.mu.Unlock()
	p.flushCandidates()
	return nil
}

func (p *peer) hasRemote() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haveRemote
}

// addCandidate applies a trickled candidate, buffering it until the remote
// description is known.
func (p *peer) addCandidate(raw json.RawMessage) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		slog.Debug("media: bad candidate", "peer", p.remote, "err", err)
		return
	}

	p.mu.Lock()
	if !p.haveRemote {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		slog.Debug("media: add candidate", "peer", p.remote, "err", err)
	}
}

func (p *peer) flushCandidates() {
	p.mu.Lock()
	if !p.haveRemote {
		p.mu.Unlock()
		return
	}
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			slog.Debug("media: add candidate", "peer", p.remote, "err", err)
		}
	}
}

func (p *peer) bindControl(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.control = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.sendControl(MessageTypeHello, HelloPayload{
			Identity:      p.local,
			DeviceName:    "CLI",
			DeviceVersion: strings.TrimPrefix(version.Version, "v"),
		})
		p.sendTrackState(rendezvous.TrackAudio)
		if p.tracks.Video != nil {
			p.sendTrackState(rendezvous.TrackVideo)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := ParseMessage(msg.Data)
		if err != nil {
			slog.Debug("media: bad control message", "peer", p.remote, "err", err)
			return
		}
		switch m.Type {
		case MessageTypeHello:
			var hello HelloPayload
			if err := m.DecodePayload(&hello); err == nil {
				slog.Debug("media: peer hello", "peer", p.remote, "device", hello.DeviceName, "version", hello.DeviceVersion)
			}
		case MessageTypeTrackState:
			var st TrackStatePayload
			if err := m.DecodePayload(&st); err != nil {
				return
			}
			kind, ok := parseTrackKind(st.Kind)
			if !ok {
				return
			}
			p.emit(rendezvous.LinkEvent{Kind: rendezvous.LinkRemoteTrack, Peer: p.remote, Track: kind, Enabled: st.Enabled})
		}
	})
}

func (p *peer) sendTrackState(kind rendezvous.TrackKind) {
	p.sendControl(MessageTypeTrackState, TrackStatePayload{Kind: kind.String(), Enabled: p.tracks.Enabled(kind)})
}

func (p *peer) sendControl(msgType string, payload any) {
	p.mu.Lock()
	dc := p.control
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}

	data, err := EncodeMessage(msgType, payload)
	if err != nil {
		slog.Debug("media: encode control message", "err", err)
		return
	}
	if err := dc.Send(data); err != nil {
		slog.Debug("media: send control message", "peer", p.remote, "err", err)
	}
}

func (p *peer) send(payload signaling.SignalPayload) {
	if err := p.sendErr(payload); err != nil {
		slog.Debug("media: send signal", "peer", p.remote, "kind", payload.Kind, "err", err)
	}
}

func (p *peer) sendErr(payload signaling.SignalPayload) error {
	payload.From, payload.To = p.local, p.remote
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	return p.engine.sig.SendSignal(ctx, payload)
}

// end reports the first Closed or Failed outcome of the connection.
func (p *peer) end(kind rendezvous.LinkEventKind, err error) {
	if p.ended.CompareAndSwap(false, true) {
		p.emit(rendezvous.LinkEvent{Kind: kind, Peer: p.remote, Err: err})
	}
}

// close tears the connection down. With bye set the remote is told first.
func (p *peer) close(bye bool) {
	p.closeOnce.Do(func() {
		if bye {
			p.send(signaling.SignalPayload{Kind: signaling.KindBye})
		}
		p.engine.removePeer(p)
		if err := p.pc.Close(); err != nil {
			slog.Debug("media: close peer connection", "peer", p.remote, "err", err)
		}
	})
}

// silence closes the connection without reporting its end.
func (p *peer) silence() {
	p.ended.Store(true)
	p.close(true)
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
