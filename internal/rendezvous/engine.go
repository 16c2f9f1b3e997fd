package rendezvous

import "context"

// Rendezvous is the session's view of the relay transport.
type Rendezvous interface {
	// Join enters the room so members learn about each other.
	Join(ctx context.Context, roomID string) error

	// Leave exits the room joined last.
	Leave(ctx context.Context) error

	// Claim registers id as this participant's identity. An empty id asks for
	// an assigned one. A held id yields an error matching ErrIdentityUnavailable.
	Claim(ctx context.Context, id string) (string, error)

	// Arrivals fires when another participant joins the room.
	Arrivals() <-chan struct{}

	// Lost is closed when the current transport drops.
	Lost() <-chan struct{}

	// Reconnect replaces a lost transport.
	Reconnect(ctx context.Context) error
}

// LocalMedia is a captured set of local tracks owned by one session.
type LocalMedia interface {
	Release()
}

// LinkEventKind classifies what happened on a link.
type LinkEventKind int

const (
	// LinkRemoteStream: the peer's media is flowing.
	LinkRemoteStream LinkEventKind = iota
	// LinkClosed: the peer hung up.
	LinkClosed
	// LinkFailed: the link died or never came up.
	LinkFailed
	// LinkRemoteTrack: the peer toggled one of its tracks.
	LinkRemoteTrack
)

// LinkEvent is emitted by a Link. Peer names the remote identity; for a
// listener it tells inbound dials apart.
type LinkEvent struct {
	Kind    LinkEventKind
	Peer    string
	Err     error
	Track   TrackKind
	Enabled bool
}

// Link is an outbound dial or an inbound listener.
type Link interface {
	Events() <-chan LinkEvent

	// Hangup drops one inbound peer of a listener.
	Hangup(peer string)

	Close() error
}

// MediaEngine captures local media and establishes direct sessions.
type MediaEngine interface {
	CaptureLocalMedia(ctx context.Context) (LocalMedia, error)

	// Listen accepts inbound dials addressed to identity.
	Listen(ctx context.Context, identity string, media LocalMedia) (Link, error)

	// Dial opens a direct session from identity to remote.
	Dial(ctx context.Context, identity, remote string, media LocalMedia) (Link, error)

	// SetTrackEnabled flips a local track in place without renegotiation.
	SetTrackEnabled(media LocalMedia, kind TrackKind, enabled bool) error
}
