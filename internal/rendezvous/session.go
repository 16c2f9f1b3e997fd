package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotStarted is returned by controls used before Start.
var ErrNotStarted = errors.New("session not started")

type commandKind int

const (
	cmdLeave commandKind = iota
	cmdToggleMic
	cmdToggleCam
	cmdRetry
)

type command struct {
	kind  commandKind
	reply chan error
}

type resultKind int

const (
	resCaptured resultKind = iota
	resClaimed
	resListening
	resDialed
)

// result is the outcome of an asynchronous step, tagged with the attempt
// generation that started it.
type result struct {
	kind resultKind
	gen  uint64

	media       LocalMedia
	link        Link
	role        Role
	identity    string
	reconnected bool
	err         error
}

// release frees whatever a discarded result carries.
func (r result) release() {
	if r.media != nil {
		r.media.Release()
	}
	if r.link != nil {
		r.link.Close()
	}
}

// Session is one participant's attempt to meet a peer in a room.
// All state below the channels is owned by the run goroutine.
type Session struct {
	cfg    Config
	relay  Rendezvous
	engine MediaEngine

	cmds    chan command
	results chan result
	updates chan Snapshot
	done    chan struct{}
	started atomic.Bool

	mu   sync.RWMutex
	snap Snapshot

	status     LinkStatus
	role       Role
	identity   string
	peer       string
	retryCount int
	err        error

	media        LocalMedia
	micOn, camOn bool
	remoteMic    bool
	remoteCam    bool

	dial      Link
	dialing   bool
	connected bool
	listener  Link

	timer  *time.Timer
	timerC <-chan time.Time

	ctx           context.Context
	gen           uint64
	attemptCtx    context.Context
	cancelAttempt context.CancelFunc

	lost      <-chan struct{}
	relayLost bool
	left      bool
}

// New creates an idle session for cfg.RoomID.
func New(cfg Config, relay Rendezvous, engine MediaEngine) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		relay:   relay,
		engine:  engine,
		cmds:    make(chan command),
		results: make(chan result),
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
	}
	s.snap = s.snapshot()
	return s, nil
}

// Start acquires media and enters the room. The session runs until Leave is
// called or ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	go s.run(ctx)
	return nil
}

// Leave releases everything the session holds and ends it. It is safe to
// call more than once.
func (s *Session) Leave() error {
	err := s.do(cmdLeave)
	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrNotStarted) {
		return nil
	}
	return err
}

// ToggleMic flips the local audio track.
func (s *Session) ToggleMic() error { return s.do(cmdToggleMic) }

// ToggleCam flips the local video track.
func (s *Session) ToggleCam() error { return s.do(cmdToggleCam) }

// Retry restarts a failed session from media acquisition.
func (s *Session) Retry() error { return s.do(cmdRetry) }

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Updates delivers the latest state after every change. Only the newest
// snapshot is kept for slow readers. It is closed when the session ends.
func (s *Session) Updates() <-chan Snapshot { return s.updates }

// Done is closed once the session has ended and released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) do(kind commandKind) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: kind, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	}
	// The loop answers every command it accepts.
	return <-reply
}

func (s *Session) run(ctx context.Context) {
	s.ctx = ctx
	defer func() {
		s.publish()
		close(s.updates)
		close(s.done)
	}()

	s.lost = s.relay.Lost()
	s.begin()
	s.publish()

	for {
		var dialEvents, listenEvents <-chan LinkEvent
		if s.dial != nil {
			dialEvents = s.dial.Events()
		}
		if s.listener != nil {
			listenEvents = s.listener.Events()
		}

		select {
		case <-ctx.Done():
			s.leave()
			return

		case cmd := <-s.cmds:
			cmd.reply <- s.handleCommand(cmd.kind)

		case res := <-s.results:
			s.handleResult(res)

		case ev, ok := <-dialEvents:
			if !ok {
				ev = LinkEvent{Kind: LinkClosed}
			}
			s.handleDialEvent(ev)

		case ev, ok := <-listenEvents:
			if !ok {
				ev = LinkEvent{Kind: LinkFailed, Err: errors.New("listener stopped")}
			}
			s.handleListenerEvent(ev)

		case <-s.timerC:
			s.timer, s.timerC = nil, nil
			if s.status == StatusWaiting && s.role == RoleGuest {
				s.dialNow()
			}

		case <-s.relay.Arrivals():
			s.handleArrival()

		case <-s.lost:
			s.handleLost()
		}

		if s.left {
			return
		}
		s.publish()
	}
}

// begin starts a fresh attempt from media acquisition.
func (s *Session) begin() {
	s.newAttempt()
	s.status = StatusAcquiringMedia
	s.role = RoleUnclaimed
	s.identity = ""
	s.retryCount = 0
	s.err = nil

	gen, ctx := s.gen, s.attemptCtx
	go func() {
		media, err := s.engine.CaptureLocalMedia(ctx)
		s.post(result{kind: resCaptured, gen: gen, media: media, err: err})
	}()
}

func (s *Session) newAttempt() {
	if s.cancelAttempt != nil {
		s.cancelAttempt()
	}
	s.gen++
	s.attemptCtx, s.cancelAttempt = context.WithCancel(s.ctx)
}

// post hands a result to the loop, or releases it if the session is over.
func (s *Session) post(r result) {
	select {
	case s.results <- r:
	case <-s.done:
		r.release()
	}
}

func (s *Session) handleCommand(kind commandKind) error {
	switch kind {
	case cmdLeave:
		s.leave()
		return nil

	case cmdToggleMic:
		return s.toggle(TrackAudio)

	case cmdToggleCam:
		return s.toggle(TrackVideo)

	case cmdRetry:
		if s.status != StatusError {
			return ErrNotFailed
		}
		slog.Info("rendezvous: retrying", "room", s.cfg.RoomID, "relay_lost", s.relayLost)
		s.begin()
		return nil
	}
	return fmt.Errorf("unknown command %d", kind)
}

func (s *Session) toggle(kind TrackKind) error {
	if s.media == nil {
		return ErrNoMedia
	}
	enabled := &s.micOn
	if kind == TrackVideo {
		enabled = &s.camOn
	}
	if err := s.engine.SetTrackEnabled(s.media, kind, !*enabled); err != nil {
		return NewError("toggle "+kind.String(), err)
	}
	*enabled = !*enabled
	slog.Debug("rendezvous: track toggled", "track", kind, "enabled", *enabled)
	return nil
}

func (s *Session) handleResult(r result) {
	if r.gen != s.gen {
		r.release()
		return
	}

	switch r.kind {
	case resCaptured:
		s.onCaptured(r)
	case resClaimed:
		s.onClaimed(r)
	case resListening:
		s.onListening(r)
	case resDialed:
		s.onDialed(r)
	}
}

func (s *Session) onCaptured(r result) {
	if r.err != nil {
		err := r.err
		if !errors.Is(err, ErrCapture) {
			err = fmt.Errorf("%w: %v", ErrCapture, err)
		}
		s.fail(NewError("capture", err))
		return
	}

	s.media = r.media
	s.micOn, s.camOn = true, true
	s.status = StatusClaiming

	gen, ctx, roomID, reconnect := s.gen, s.attemptCtx, s.cfg.RoomID, s.relayLost
	go func() {
		res := s.claim(ctx, roomID, reconnect)
		res.gen = gen
		s.post(res)
	}()
}

// claim joins the room and races for the room's own name as identity,
// falling back to an assigned guest identity.
func (s *Session) claim(ctx context.Context, roomID string, reconnect bool) result {
	res := result{kind: resClaimed}

	if reconnect {
		if err := s.relay.Reconnect(ctx); err != nil {
			res.err = relayError(err)
			return res
		}
		res.reconnected = true
	}

	if err := s.relay.Join(ctx, roomID); err != nil {
		res.err = relayError(err)
		return res
	}

	id, err := s.relay.Claim(ctx, roomID)
	switch {
	case err == nil:
		res.role, res.identity = RoleHost, id

	case errors.Is(err, ErrIdentityUnavailable):
		id, err = s.relay.Claim(ctx, "")
		if err != nil {
			res.err = relayError(err)
			return res
		}
		res.role, res.identity = RoleGuest, id

	default:
		res.err = relayError(err)
	}
	return res
}

func relayError(err error) error {
	if errors.Is(err, ErrRelayUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
}

func (s *Session) onClaimed(r result) {
	if r.reconnected {
		s.relayLost = false
		s.lost = s.relay.Lost()
	}
	if r.err != nil {
		s.fail(NewError("claim", r.err))
		return
	}

	s.role, s.identity = r.role, r.identity
	s.status = StatusWaiting
	slog.Info("rendezvous: identity claimed", "room", s.cfg.RoomID, "role", s.role, "identity", s.identity)

	if s.role == RoleGuest {
		s.dialNow()
		return
	}

	gen, ctx, identity, media := s.gen, s.attemptCtx, s.identity, s.media
	go func() {
		link, err := s.engine.Listen(ctx, identity, media)
		s.post(result{kind: resListening, gen: gen, link: link, err: err})
	}()
}

func (s *Session) onListening(r result) {
	if r.err != nil {
		s.fail(WrapError("listen", ErrDialFailure, r.err.Error()))
		return
	}
	s.listener = r.link
}

// dialNow starts a dial unless one is already outstanding.
func (s *Session) dialNow() {
	if s.dialing || s.dial != nil {
		return
	}
	s.stopTimer()
	s.dialing = true

	gen, ctx, identity, media := s.gen, s.attemptCtx, s.identity, s.media
	slog.Debug("rendezvous: dialing host", "room", s.cfg.RoomID, "retry", s.retryCount)
	go func() {
		link, err := s.engine.Dial(ctx, identity, s.cfg.RoomID, media)
		s.post(result{kind: resDialed, gen: gen, link: link, err: err})
	}()
}

func (s *Session) onDialed(r result) {
	s.dialing = false
	if r.err != nil {
		s.dialFailed(r.err)
		return
	}
	s.dial = r.link
}

func (s *Session) handleDialEvent(ev LinkEvent) {
	switch ev.Kind {
	case LinkRemoteStream:
		s.stopTimer()
		s.connected = true
		s.peer = s.cfg.RoomID
		s.status = StatusConnected
		slog.Info("rendezvous: connected to host", "room", s.cfg.RoomID)

	case LinkRemoteTrack:
		s.setRemoteTrack(ev)

	case LinkClosed, LinkFailed:
		s.closeDial()
		if !s.connected {
			s.dialFailed(ev.Err)
			return
		}
		s.connected = false
		s.peer = ""
		s.remoteMic, s.remoteCam = false, false
		if s.relayLost {
			s.fail(NewError("link", ErrRelayUnreachable))
			return
		}
		slog.Info("rendezvous: host link closed, redialing", "room", s.cfg.RoomID)
		s.status = StatusWaiting
		s.schedule()
	}
}

// dialFailed counts a failed attempt and schedules the next one, or gives up
// once the ceiling is reached.
func (s *Session) dialFailed(cause error) {
	s.closeDial()
	details := "host did not answer"
	if cause != nil {
		details = cause.Error()
	}
	slog.Debug("rendezvous: dial failed", "room", s.cfg.RoomID, "retry", s.retryCount, "err", cause)

	if s.retryCount >= s.cfg.MaxRetries {
		s.fail(WrapError("dial", ErrRetriesExhausted, details))
		return
	}
	s.retryCount++
	s.status = StatusWaiting
	s.schedule()
}

func (s *Session) handleListenerEvent(ev LinkEvent) {
	switch ev.Kind {
	case LinkRemoteStream:
		if s.peer != "" && s.peer != ev.Peer {
			slog.Info("rendezvous: already serving a guest, hanging up", "peer", ev.Peer)
			s.listener.Hangup(ev.Peer)
			return
		}
		s.peer = ev.Peer
		s.status = StatusConnected
		slog.Info("rendezvous: guest connected", "room", s.cfg.RoomID, "peer", ev.Peer)

	case LinkRemoteTrack:
		if ev.Peer == s.peer {
			s.setRemoteTrack(ev)
		}

	case LinkClosed, LinkFailed:
		if ev.Peer == "" {
			details := "listener stopped"
			if ev.Err != nil {
				details = ev.Err.Error()
			}
			s.fail(WrapError("listen", ErrDialFailure, details))
			return
		}
		if ev.Peer != s.peer {
			return
		}
		s.peer = ""
		s.remoteMic, s.remoteCam = false, false
		if s.relayLost {
			s.fail(NewError("link", ErrRelayUnreachable))
			return
		}
		slog.Info("rendezvous: guest left, waiting", "room", s.cfg.RoomID, "peer", ev.Peer)
		s.status = StatusWaiting
	}
}

func (s *Session) setRemoteTrack(ev LinkEvent) {
	if ev.Track == TrackVideo {
		s.remoteCam = ev.Enabled
	} else {
		s.remoteMic = ev.Enabled
	}
}

// handleArrival dials at once when a guest is sitting out its retry delay.
func (s *Session) handleArrival() {
	if s.role == RoleGuest && s.status == StatusWaiting && s.timerC != nil {
		slog.Debug("rendezvous: peer arrived, dialing early", "room", s.cfg.RoomID)
		s.dialNow()
	}
}

func (s *Session) handleLost() {
	s.lost = nil
	s.relayLost = true

	switch s.status {
	case StatusConnected:
		slog.Warn("rendezvous: relay lost, keeping live link", "room", s.cfg.RoomID)
	case StatusError, StatusIdle:
	default:
		s.fail(NewError("relay", ErrRelayUnreachable))
	}
}

func (s *Session) schedule() {
	s.stopTimer()
	s.timer = time.NewTimer(s.cfg.RetryInterval)
	s.timerC = s.timer.C
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer, s.timerC = nil, nil
}

func (s *Session) closeDial() {
	if s.dial != nil {
		s.dial.Close()
		s.dial = nil
	}
}

func (s *Session) closeListener() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
}

// releaseAll cancels in-flight work and frees every owned resource. Results
// of cancelled work are released when they arrive.
func (s *Session) releaseAll() {
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
	s.gen++

	s.stopTimer()
	s.closeDial()
	s.closeListener()
	s.dialing = false
	s.connected = false

	if s.media != nil {
		s.media.Release()
		s.media = nil
	}
	s.micOn, s.camOn = false, false
	s.remoteMic, s.remoteCam = false, false
	s.peer = ""
}

func (s *Session) fail(err error) {
	s.releaseAll()
	s.status = StatusError
	s.err = err
	slog.Warn("rendezvous: session failed", "room", s.cfg.RoomID, "err", err)
}

func (s *Session) leave() {
	s.releaseAll()
	if !s.relayLost && s.role != RoleUnclaimed {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.relay.Leave(ctx); err != nil {
			slog.Debug("rendezvous: leave room", "err", err)
		}
		cancel()
	}
	s.status = StatusIdle
	s.left = true
	slog.Info("rendezvous: left room", "room", s.cfg.RoomID)
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		RoomID:     s.cfg.RoomID,
		Identity:   s.identity,
		Role:       s.role,
		Status:     s.status,
		RetryCount: s.retryCount,
		Peer:       s.peer,
		Err:        s.err,
		HasMedia:   s.media != nil,
		MicEnabled: s.micOn,
		CamEnabled: s.camOn,
		RemoteMic:  s.remoteMic,
		RemoteCam:  s.remoteCam,
	}
	if s.status == StatusError && s.err != nil {
		snap.ErrorMessage = userMessage(s.err)
	}
	return snap
}

func (s *Session) publish() {
	snap := s.snapshot()

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}
