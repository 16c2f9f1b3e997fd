package rendezvous

import (
	"errors"
	"time"
)

// Role is the part a participant plays, decided by the identity claim race.
type Role int

const (
	RoleUnclaimed Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "unclaimed"
	}
}

// LinkStatus is the single authoritative status of a session.
type LinkStatus int

const (
	StatusIdle LinkStatus = iota
	StatusAcquiringMedia
	StatusClaiming
	StatusWaiting
	StatusConnected
	StatusError
)

func (s LinkStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAcquiringMedia:
		return "acquiring-media"
	case StatusClaiming:
		return "claiming"
	case StatusWaiting:
		return "waiting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TrackKind selects a local or remote media track.
type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "audio"
}

// Config holds the protocol parameters of one room attempt.
type Config struct {
	RoomID string

	// RetryInterval is the fixed delay between guest dial attempts.
	RetryInterval time.Duration

	// MaxRetries bounds the failed dial attempts over the whole session.
	MaxRetries int
}

func (c Config) validate() error {
	if c.RoomID == "" {
		return errors.New("room id must not be empty")
	}
	if c.RetryInterval <= 0 {
		return errors.New("retry interval must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	return nil
}

// Snapshot is a point-in-time view of a session for observers.
type Snapshot struct {
	RoomID     string
	Identity   string
	Role       Role
	Status     LinkStatus
	RetryCount int
	Peer       string

	// ErrorMessage is human readable; Err keeps the cause for errors.Is.
	ErrorMessage string
	Err          error

	HasMedia   bool
	MicEnabled bool
	CamEnabled bool

	RemoteMic bool
	RemoteCam bool
}
