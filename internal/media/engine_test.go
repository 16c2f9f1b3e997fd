package media

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
)

// pipeSignaler records outgoing payloads and forwards them to out, if set.
type pipeSignaler struct {
	in  chan signaling.Signal
	out chan signaling.Signal

	mu   sync.Mutex
	sent []signaling.SignalPayload
}

func newPipeSignaler() *pipeSignaler {
	return &pipeSignaler{in: make(chan signaling.Signal, 64)}
}

func (p *pipeSignaler) SendSignal(ctx context.Context, payload signaling.SignalPayload) error {
	p.mu.Lock()
	p.sent = append(p.sent, payload)
	p.mu.Unlock()

	if p.out == nil {
		return nil
	}
	sig, err := signaling.NewSignal("room", payload)
	if err != nil {
		return err
	}
	select {
	case p.out <- sig:
	default:
	}
	return nil
}

func (p *pipeSignaler) Signals() <-chan signaling.Signal { return p.in }

func (p *pipeSignaler) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.sent {
		out = append(out, s.Kind)
	}
	return out
}

func (p *pipeSignaler) first(kind string) (signaling.SignalPayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sent {
		if s.Kind == kind {
			return s, true
		}
	}
	return signaling.SignalPayload{}, false
}

func captureTracks(t *testing.T) *Tracks {
	t.Helper()
	tracks, err := Capture(Sources{})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	t.Cleanup(tracks.Release)
	return tracks
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_DialWithoutHostFails(t *testing.T) {
	sig := newPipeSignaler()
	e := NewEngine(Config{}, sig)
	e.answerTimeout = 50 * time.Millisecond

	link, err := e.Dial(context.Background(), "g-1", "alpha", captureTracks(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	offer, ok := sig.first(signaling.KindOffer)
	if !ok {
		t.Fatalf("no offer sent, got %v", sig.kinds())
	}
	if offer.From != "g-1" || offer.To != "alpha" || !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("unexpected offer %+v", offer)
	}

	select {
	case ev := <-link.Events():
		if ev.Kind != rendezvous.LinkFailed || !errors.Is(ev.Err, errNoAnswer) {
			t.Fatalf("expected a no-answer failure, got %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("dial never gave up")
	}

	link.Close()
	link.Close()
	if _, ok := sig.first(signaling.KindBye); !ok {
		t.Fatalf("closing a dial should say bye, got %v", sig.kinds())
	}

	e.mu.Lock()
	dials, peers := len(e.dials), len(e.peers)
	e.mu.Unlock()
	if dials != 0 || peers != 0 {
		t.Fatalf("engine leaked state: %d dials, %d peers", dials, peers)
	}
}

func TestEngine_ListenerAnswersOffer(t *testing.T) {
	hostSig, guestSig := newPipeSignaler(), newPipeSignaler()
	hostSig.out, guestSig.out = guestSig.in, hostSig.in

	host := NewEngine(Config{}, hostSig)
	guest := NewEngine(Config{}, guestSig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Run(ctx)
	go guest.Run(ctx)

	listener, err := host.Listen(ctx, "alpha", captureTracks(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	link, err := guest.Dial(ctx, "g-1", "alpha", captureTracks(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer link.Close()

	eventually(t, "answer", func() bool {
		_, ok := hostSig.first(signaling.KindAnswer)
		return ok
	})
	answer, _ := hostSig.first(signaling.KindAnswer)
	if answer.From != "alpha" || answer.To != "g-1" {
		t.Fatalf("answer misaddressed: %+v", answer)
	}

	dl := link.(*dialLink)
	eventually(t, "answer applied", dl.peer.hasRemote)
}

func TestEngine_RouteIgnoresStrangers(t *testing.T) {
	e := NewEngine(Config{}, newPipeSignaler())

	for _, payload := range []signaling.SignalPayload{
		{From: "x", To: "nobody", Kind: signaling.KindOffer, SDP: "v=0"},
		{From: "", To: "alpha", Kind: signaling.KindAnswer},
	} {
		sig, err := signaling.NewSignal("room", payload)
		if err != nil {
			t.Fatalf("new signal: %v", err)
		}
		e.route(sig)
	}
	e.route(signaling.Signal{RoomID: "room", Payload: []byte(`"not an object"`)})
}

func TestEngine_SetTrackEnabled(t *testing.T) {
	e := NewEngine(Config{}, newPipeSignaler())
	tracks := captureTracks(t)

	if err := e.SetTrackEnabled(tracks, rendezvous.TrackAudio, false); err != nil {
		t.Fatalf("disable audio: %v", err)
	}
	if tracks.Enabled(rendezvous.TrackAudio) {
		t.Fatalf("audio still enabled")
	}

	var foreign fakeMedia
	if err := e.SetTrackEnabled(foreign, rendezvous.TrackAudio, true); !errors.Is(err, errForeignMedia) {
		t.Fatalf("expected errForeignMedia, got %v", err)
	}
}

type fakeMedia struct{}

func (fakeMedia) Release() {}
