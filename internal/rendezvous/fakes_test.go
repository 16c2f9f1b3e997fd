package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRelay struct {
	mu         sync.Mutex
	taken      map[string]bool
	joins      []string
	claims     []string
	leaves     int
	reconnects int
	lost       chan struct{}
	arrivals   chan struct{}
}

func newFakeRelay(taken ...string) *fakeRelay {
	r := &fakeRelay{
		taken:    make(map[string]bool),
		lost:     make(chan struct{}),
		arrivals: make(chan struct{}, 1),
	}
	for _, id := range taken {
		r.taken[id] = true
	}
	return r
}

func (r *fakeRelay) Join(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, roomID)
	return nil
}

func (r *fakeRelay) Leave(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves++
	return nil
}

func (r *fakeRelay) Claim(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, id)
	if id == "" {
		return "g-1", nil
	}
	if r.taken[id] {
		return "", fmt.Errorf("%w: %s", ErrIdentityUnavailable, id)
	}
	return id, nil
}

func (r *fakeRelay) Arrivals() <-chan struct{} { return r.arrivals }

func (r *fakeRelay) Lost() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

func (r *fakeRelay) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
	r.lost = make(chan struct{})
	return nil
}

func (r *fakeRelay) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	close(r.lost)
}

func (r *fakeRelay) counts() (claims, leaves, reconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims), r.leaves, r.reconnects
}

type fakeMedia struct {
	released atomic.Int32
}

func (m *fakeMedia) Release() { m.released.Add(1) }

type fakeLink struct {
	events chan LinkEvent
	closed atomic.Int32

	mu      sync.Mutex
	hangups []string
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan LinkEvent, 8)}
}

func (l *fakeLink) Events() <-chan LinkEvent { return l.events }

func (l *fakeLink) Hangup(peer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hangups = append(l.hangups, peer)
}

func (l *fakeLink) Close() error {
	l.closed.Add(1)
	return nil
}

type toggle struct {
	kind    TrackKind
	enabled bool
}

type fakeEngine struct {
	mu sync.Mutex

	captureErr  error
	captureGate chan struct{}
	captured    []*fakeMedia

	// dialFn answers the n-th dial (1-based). Nil means the host never answers.
	dialFn    func(n int) (Link, error)
	dialTimes []time.Time
	dialed    []*fakeLink

	listeners []*fakeLink
	toggles   []toggle
}

func (e *fakeEngine) CaptureLocalMedia(ctx context.Context) (LocalMedia, error) {
	if e.captureGate != nil {
		<-e.captureGate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captureErr != nil {
		return nil, e.captureErr
	}
	m := &fakeMedia{}
	e.captured = append(e.captured, m)
	return m, nil
}

func (e *fakeEngine) Listen(ctx context.Context, identity string, media LocalMedia) (Link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := newFakeLink()
	e.listeners = append(e.listeners, l)
	return l, nil
}

func (e *fakeEngine) Dial(ctx context.Context, identity, remote string, media LocalMedia) (Link, error) {
	e.mu.Lock()
	e.dialTimes = append(e.dialTimes, time.Now())
	n := len(e.dialTimes)
	fn := e.dialFn
	e.mu.Unlock()

	if fn == nil {
		return nil, errors.New("host not listening")
	}
	link, err := fn(n)
	if l, ok := link.(*fakeLink); ok {
		e.mu.Lock()
		e.dialed = append(e.dialed, l)
		e.mu.Unlock()
	}
	return link, err
}

func (e *fakeEngine) SetTrackEnabled(media LocalMedia, kind TrackKind, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toggles = append(e.toggles, toggle{kind: kind, enabled: enabled})
	return nil
}

func (e *fakeEngine) dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dialTimes)
}

func (e *fakeEngine) media(i int) *fakeMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.captured) {
		return nil
	}
	return e.captured[i]
}

func (e *fakeEngine) listener(i int) *fakeLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.listeners) {
		return nil
	}
	return e.listeners[i]
}

// connectOn returns a dialFn whose n-th dial succeeds with a link that
// reports a remote stream; every other dial fails.
func connectOn(n int) func(int) (Link, error) {
	return func(i int) (Link, error) {
		if i != n {
			return nil, errors.New("host not listening")
		}
		l := newFakeLink()
		l.events <- LinkEvent{Kind: LinkRemoteStream, Peer: "alpha"}
		return l, nil
	}
}

func startSession(t *testing.T, cfg Config, relay *fakeRelay, engine *fakeEngine) *Session {
	t.Helper()
	s, err := New(cfg, relay, engine)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Leave() })
	return s
}

func waitFor(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func status(want LinkStatus) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Status == want }
}
