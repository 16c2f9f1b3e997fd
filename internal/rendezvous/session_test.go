package rendezvous

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(interval time.Duration, maxRetries int) Config {
	return Config{RoomID: "alpha", RetryInterval: interval, MaxRetries: maxRetries}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cases := []Config{
		{RoomID: "", RetryInterval: time.Second, MaxRetries: 3},
		{RoomID: "r", RetryInterval: 0, MaxRetries: 3},
		{RoomID: "r", RetryInterval: time.Second, MaxRetries: -1},
	}
	for _, cfg := range cases {
		if _, err := New(cfg, newFakeRelay(), &fakeEngine{}); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestSession_FirstArriverHostsSequentialGuests(t *testing.T) {
	relay := newFakeRelay()
	engine := &fakeEngine{}
	s := startSession(t, testConfig(time.Second, 3), relay, engine)

	snap := waitFor(t, s, "host waiting", status(StatusWaiting))
	if snap.Role != RoleHost || snap.Identity != "alpha" {
		t.Fatalf("expected host identity alpha, got %+v", snap)
	}
	waitUntil(t, "listener", func() bool { return engine.listener(0) != nil })
	listener := engine.listener(0)

	listener.events <- LinkEvent{Kind: LinkRemoteStream, Peer: "g-1"}
	snap = waitFor(t, s, "connected", status(StatusConnected))
	if snap.Peer != "g-1" {
		t.Fatalf("expected peer g-1, got %q", snap.Peer)
	}

	// A second guest while one is served is turned away.
	listener.events <- LinkEvent{Kind: LinkRemoteStream, Peer: "g-2"}
	waitUntil(t, "hangup", func() bool {
		listener.mu.Lock()
		defer listener.mu.Unlock()
		return len(listener.hangups) == 1 && listener.hangups[0] == "g-2"
	})
	if got := s.Snapshot(); got.Peer != "g-1" || got.Status != StatusConnected {
		t.Fatalf("served guest changed: %+v", got)
	}

	listener.events <- LinkEvent{Kind: LinkClosed, Peer: "g-1"}
	waitFor(t, s, "back to waiting", status(StatusWaiting))

	listener.events <- LinkEvent{Kind: LinkRemoteStream, Peer: "g-3"}
	snap = waitFor(t, s, "next guest", status(StatusConnected))
	if snap.Peer != "g-3" {
		t.Fatalf("expected peer g-3, got %q", snap.Peer)
	}

	if err := s.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("media released %d times", n)
	}
	if n := listener.closed.Load(); n != 1 {
		t.Fatalf("listener closed %d times", n)
	}
	if _, leaves, _ := relay.counts(); leaves != 1 {
		t.Fatalf("expected one relay leave, got %d", leaves)
	}
	if got := s.Snapshot(); got.Status != StatusIdle {
		t.Fatalf("expected idle after leave, got %v", got.Status)
	}
}

func TestSession_GuestFallsBackAndConnects(t *testing.T) {
	relay := newFakeRelay("alpha")
	engine := &fakeEngine{dialFn: connectOn(1)}
	s := startSession(t, testConfig(time.Second, 3), relay, engine)

	snap := waitFor(t, s, "connected", status(StatusConnected))
	if snap.Role != RoleGuest || snap.Identity != "g-1" || snap.Peer != "alpha" {
		t.Fatalf("unexpected guest snapshot %+v", snap)
	}
	if snap.RetryCount != 0 {
		t.Fatalf("no retries expected, got %d", snap.RetryCount)
	}

	relay.mu.Lock()
	claims := append([]string(nil), relay.claims...)
	relay.mu.Unlock()
	if len(claims) != 2 || claims[0] != "alpha" || claims[1] != "" {
		t.Fatalf("expected claim alpha then an assigned identity, got %q", claims)
	}
}

func TestSession_DialLoopStopsAtCeiling(t *testing.T) {
	const interval = 20 * time.Millisecond
	relay := newFakeRelay("alpha")
	engine := &fakeEngine{}
	s := startSession(t, testConfig(interval, 3), relay, engine)

	snap := waitFor(t, s, "error", status(StatusError))
	if !errors.Is(snap.Err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", snap.Err)
	}
	if snap.ErrorMessage != "Could not reach host." {
		t.Fatalf("unexpected message %q", snap.ErrorMessage)
	}
	if snap.RetryCount != 3 {
		t.Fatalf("expected retry count 3, got %d", snap.RetryCount)
	}

	time.Sleep(5 * interval)
	if n := engine.dials(); n != 4 {
		t.Fatalf("expected 4 dial attempts, got %d", n)
	}

	engine.mu.Lock()
	times := append([]time.Time(nil), engine.dialTimes...)
	engine.mu.Unlock()
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < interval/2 {
			t.Fatalf("attempt %d came %v after the previous one", i+1, gap)
		}
	}

	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("media released %d times on error", n)
	}
	if snap.HasMedia {
		t.Fatalf("snapshot still reports media after error")
	}
}

func TestSession_ZeroRetriesFailsOnFirstAttempt(t *testing.T) {
	engine := &fakeEngine{}
	s := startSession(t, testConfig(time.Second, 0), newFakeRelay("alpha"), engine)

	snap := waitFor(t, s, "error", status(StatusError))
	if snap.RetryCount != 0 || engine.dials() != 1 {
		t.Fatalf("expected one attempt and no retries, got %d dials, retry count %d", engine.dials(), snap.RetryCount)
	}
}

func TestSession_CaptureErrorIsTerminal(t *testing.T) {
	relay := newFakeRelay()
	engine := &fakeEngine{captureErr: errors.New("permission denied")}
	s := startSession(t, testConfig(time.Second, 3), relay, engine)

	snap := waitFor(t, s, "error", status(StatusError))
	if !errors.Is(snap.Err, ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", snap.Err)
	}
	if snap.ErrorMessage == "" {
		t.Fatalf("expected a user-visible message")
	}
	if claims, _, _ := relay.counts(); claims != 0 {
		t.Fatalf("no claim should follow a capture failure, got %d", claims)
	}
	if engine.dials() != 0 {
		t.Fatalf("no dial should follow a capture failure")
	}
}

func TestSession_ConnectedLinkClosingKeepsRetryCount(t *testing.T) {
	const interval = 20 * time.Millisecond
	engine := &fakeEngine{dialFn: connectOn(2)}
	s := startSession(t, testConfig(interval, 5), newFakeRelay("alpha"), engine)

	snap := waitFor(t, s, "connected", status(StatusConnected))
	if snap.RetryCount != 1 {
		t.Fatalf("expected one failed attempt before connecting, got %d", snap.RetryCount)
	}

	engine.mu.Lock()
	link := engine.dialed[0]
	engine.mu.Unlock()
	link.events <- LinkEvent{Kind: LinkClosed, Peer: "alpha"}

	waitFor(t, s, "waiting", status(StatusWaiting))
	waitUntil(t, "redial", func() bool { return engine.dials() >= 3 })
	snap = waitFor(t, s, "failed redial counted", func(s Snapshot) bool { return s.RetryCount == 2 })
	if snap.Status != StatusWaiting {
		t.Fatalf("expected waiting between attempts, got %v", snap.Status)
	}
	if n := link.closed.Load(); n != 1 {
		t.Fatalf("closed link released %d times", n)
	}
}

func TestSession_UserJoinedDialsImmediately(t *testing.T) {
	relay := newFakeRelay("alpha")
	engine := &fakeEngine{}
	s := startSession(t, testConfig(time.Hour, 3), relay, engine)

	waitFor(t, s, "first failure", func(s Snapshot) bool { return s.RetryCount == 1 })

	relay.arrivals <- struct{}{}
	waitUntil(t, "early redial", func() bool { return engine.dials() == 2 })
	waitFor(t, s, "second failure", func(s Snapshot) bool { return s.RetryCount == 2 })
}

func TestSession_TogglesNeverChangeStatus(t *testing.T) {
	engine := &fakeEngine{dialFn: connectOn(1)}
	s := startSession(t, testConfig(time.Second, 3), newFakeRelay("alpha"), engine)

	waitFor(t, s, "connected", status(StatusConnected))

	if err := s.ToggleMic(); err != nil {
		t.Fatalf("toggle mic: %v", err)
	}
	if err := s.ToggleCam(); err != nil {
		t.Fatalf("toggle cam: %v", err)
	}
	if err := s.ToggleCam(); err != nil {
		t.Fatalf("toggle cam: %v", err)
	}

	snap := s.Snapshot()
	if snap.Status != StatusConnected {
		t.Fatalf("toggling changed status to %v", snap.Status)
	}
	if snap.MicEnabled || !snap.CamEnabled {
		t.Fatalf("unexpected track flags mic=%v cam=%v", snap.MicEnabled, snap.CamEnabled)
	}

	engine.mu.Lock()
	toggles := append([]toggle(nil), engine.toggles...)
	dialed := engine.dialed[0]
	engine.mu.Unlock()
	want := []toggle{{TrackAudio, false}, {TrackVideo, false}, {TrackVideo, true}}
	if len(toggles) != len(want) {
		t.Fatalf("expected %d engine toggles, got %v", len(want), toggles)
	}
	for i := range want {
		if toggles[i] != want[i] {
			t.Fatalf("toggle %d = %+v, want %+v", i, toggles[i], want[i])
		}
	}
	if dialed.closed.Load() != 0 {
		t.Fatalf("toggling tore down the link")
	}
}

func TestSession_ToggleWithoutMedia(t *testing.T) {
	engine := &fakeEngine{captureErr: errors.New("no camera")}
	s, err := New(testConfig(time.Second, 3), newFakeRelay(), engine)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.ToggleMic(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Leave()
	waitFor(t, s, "error", status(StatusError))

	if err := s.ToggleMic(); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
}

func TestSession_LeaveCancelsPendingRetry(t *testing.T) {
	const interval = 30 * time.Millisecond
	engine := &fakeEngine{}
	s := startSession(t, testConfig(interval, 10), newFakeRelay("alpha"), engine)

	waitFor(t, s, "retry scheduled", func(s Snapshot) bool { return s.RetryCount == 1 })

	if err := s.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	dials := engine.dials()

	time.Sleep(5 * interval)
	if n := engine.dials(); n != dials {
		t.Fatalf("a retry fired after leave: %d dials, was %d", n, dials)
	}
	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("media released %d times", n)
	}

	select {
	case <-s.Done():
	default:
		t.Fatalf("session not done after leave")
	}
	if err := s.Leave(); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if err := s.ToggleMic(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("second leave released media again (%d)", n)
	}
}

func TestSession_LeaveDuringCaptureReleasesLateMedia(t *testing.T) {
	gate := make(chan struct{})
	engine := &fakeEngine{captureGate: gate}
	s := startSession(t, testConfig(time.Second, 3), newFakeRelay(), engine)

	waitFor(t, s, "acquiring", status(StatusAcquiringMedia))
	if err := s.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}

	close(gate)
	waitUntil(t, "late media released", func() bool {
		m := engine.media(0)
		return m != nil && m.released.Load() == 1
	})
	if engine.listener(0) != nil {
		t.Fatalf("a left session must not start listening")
	}
}

func TestSession_ContextCancelLeaves(t *testing.T) {
	engine := &fakeEngine{}
	s, err := New(testConfig(time.Second, 3), newFakeRelay(), engine)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}

	waitFor(t, s, "waiting", status(StatusWaiting))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not stop")
	}
	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("media released %d times", n)
	}
	for range s.Updates() {
	}
}

func TestSession_RelayLostWhileWaiting(t *testing.T) {
	relay := newFakeRelay("alpha")
	engine := &fakeEngine{}
	s := startSession(t, testConfig(time.Hour, 3), relay, engine)

	waitFor(t, s, "first failure", func(s Snapshot) bool { return s.RetryCount == 1 })
	relay.drop()

	snap := waitFor(t, s, "error", status(StatusError))
	if !errors.Is(snap.Err, ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable, got %v", snap.Err)
	}
	if n := engine.media(0).released.Load(); n != 1 {
		t.Fatalf("media released %d times", n)
	}

	if err := s.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap = waitFor(t, s, "guest again", func(s Snapshot) bool {
		return s.Status == StatusWaiting && s.Role == RoleGuest
	})
	if _, _, reconnects := relay.counts(); reconnects != 1 {
		t.Fatalf("expected one reconnect, got %d", reconnects)
	}
	if engine.media(1) == nil {
		t.Fatalf("retry should acquire media again")
	}
	if snap.RetryCount > 1 {
		t.Fatalf("retry count should restart, got %d", snap.RetryCount)
	}
}

func TestSession_RelayLostWhileConnectedKeepsLink(t *testing.T) {
	relay := newFakeRelay()
	engine := &fakeEngine{}
	s := startSession(t, testConfig(time.Second, 3), relay, engine)

	waitFor(t, s, "waiting", status(StatusWaiting))
	waitUntil(t, "listener", func() bool { return engine.listener(0) != nil })
	listener := engine.listener(0)
	listener.events <- LinkEvent{Kind: LinkRemoteStream, Peer: "g-1"}
	waitFor(t, s, "connected", status(StatusConnected))

	relay.drop()
	time.Sleep(20 * time.Millisecond)
	if got := s.Snapshot().Status; got != StatusConnected {
		t.Fatalf("live link dropped with the relay, status %v", got)
	}

	listener.events <- LinkEvent{Kind: LinkClosed, Peer: "g-1"}
	snap := waitFor(t, s, "error", status(StatusError))
	if !errors.Is(snap.Err, ErrRelayUnreachable) {
		t.Fatalf("expected ErrRelayUnreachable, got %v", snap.Err)
	}
	if n := listener.closed.Load(); n != 1 {
		t.Fatalf("listener closed %d times", n)
	}
}

func TestSession_RetryOnlyFromError(t *testing.T) {
	s := startSession(t, testConfig(time.Second, 3), newFakeRelay(), &fakeEngine{})
	waitFor(t, s, "waiting", status(StatusWaiting))

	if err := s.Retry(); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed, got %v", err)
	}
}

func TestSession_RemoteTrackState(t *testing.T) {
	engine := &fakeEngine{dialFn: connectOn(1)}
	s := startSession(t, testConfig(time.Second, 3), newFakeRelay("alpha"), engine)
	waitFor(t, s, "connected", status(StatusConnected))

	engine.mu.Lock()
	link := engine.dialed[0]
	engine.mu.Unlock()
	link.events <- LinkEvent{Kind: LinkRemoteTrack, Peer: "alpha", Track: TrackVideo, Enabled: true}

	waitFor(t, s, "remote cam on", func(s Snapshot) bool { return s.RemoteCam && !s.RemoteMic })
}
