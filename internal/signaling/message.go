package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire tag of an envelope.
type Type string

// Envelope type constants.
const (
	TypeJoin   Type = "join"
	TypeLeave  Type = "leave"
	TypeSignal Type = "signal"
	TypeClaim  Type = "claim"

	TypeUserJoined Type = "user-joined"
	TypeUserLeft   Type = "user-left"
	TypeClaimed    Type = "claimed"
	TypeIDTaken    Type = "id-taken"
)

// ErrMalformed is returned by Decode for frames that cannot become an Envelope.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is a signaling message exchanged with the relay.
// The set of implementations is closed: Join, Leave, Signal, Claim,
// UserJoined, UserLeft, Claimed and IDTaken.
type Envelope interface {
	Type() Type
	envelope()
}

// Join asks the relay to add the connection to a room.
type Join struct{ RoomID string }

// Leave asks the relay to remove the connection from a room.
type Leave struct{ RoomID string }

// Signal carries negotiation data for the other members of a room.
// Payload is never interpreted by the relay.
type Signal struct {
	RoomID  string
	Payload json.RawMessage
}

// Claim asks the relay to register a rendezvous identity for the connection.
// An empty ID requests an auto-assigned one.
type Claim struct{ ID string }

// UserJoined tells existing members that someone joined their room.
type UserJoined struct{}

// UserLeft tells remaining members that someone left their room.
type UserLeft struct{}

// Claimed confirms a rendezvous identity.
type Claimed struct{ ID string }

// IDTaken rejects a claim because another connection holds the identity.
type IDTaken struct{ ID string }

func (Join) Type() Type       { return TypeJoin }
func (Leave) Type() Type      { return TypeLeave }
func (Signal) Type() Type     { return TypeSignal }
func (Claim) Type() Type      { return TypeClaim }
func (UserJoined) Type() Type { return TypeUserJoined }
func (UserLeft) Type() Type   { return TypeUserLeft }
func (Claimed) Type() Type    { return TypeClaimed }
func (IDTaken) Type() Type    { return TypeIDTaken }

func (Join) envelope()       {}
func (Leave) envelope()      {}
func (Signal) envelope()     {}
func (Claim) envelope()      {}
func (UserJoined) envelope() {}
func (UserLeft) envelope()   {}
func (Claimed) envelope()    {}
func (IDTaken) envelope()    {}

// wireMessage is the JSON shape of every envelope on the socket.
type wireMessage struct {
	Type   Type            `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	ID     string          `json:"id,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// Encode serialises an envelope to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	var w wireMessage
	switch e := env.(type) {
	case Join:
		w = wireMessage{Type: TypeJoin, RoomID: e.RoomID}
	case Leave:
		w = wireMessage{Type: TypeLeave, RoomID: e.RoomID}
	case Signal:
		w = wireMessage{Type: TypeSignal, RoomID: e.RoomID, Signal: e.Payload}
	case Claim:
		w = wireMessage{Type: TypeClaim, ID: e.ID}
	case UserJoined:
		w = wireMessage{Type: TypeUserJoined}
	case UserLeft:
		w = wireMessage{Type: TypeUserLeft}
	case Claimed:
		w = wireMessage{Type: TypeClaimed, ID: e.ID}
	case IDTaken:
		w = wireMessage{Type: TypeIDTaken, ID: e.ID}
	default:
		return nil, fmt.Errorf("encode %T: %w", env, ErrMalformed)
	}
	return json.Marshal(w)
}

// Decode parses a JSON frame. Unparseable frames, unknown tags and frames
// missing a required field all yield ErrMalformed.
func Decode(data []byte) (Envelope, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch w.Type {
	case TypeJoin:
		if w.RoomID == "" {
			return nil, fmt.Errorf("%w: join without roomId", ErrMalformed)
		}
		return Join{RoomID: w.RoomID}, nil

	case TypeLeave:
		if w.RoomID == "" {
			return nil, fmt.Errorf("%w: leave without roomId", ErrMalformed)
		}
		return Leave{RoomID: w.RoomID}, nil

	case TypeSignal:
		if w.RoomID == "" {
			return nil, fmt.Errorf("%w: signal without roomId", ErrMalformed)
		}
		if len(w.Signal) == 0 || bytes.Equal(w.Signal, []byte("null")) {
			return nil, fmt.Errorf("%w: signal without payload", ErrMalformed)
		}
		return Signal{RoomID: w.RoomID, Payload: w.Signal}, nil

	case TypeClaim:
		return Claim{ID: w.ID}, nil

	case TypeUserJoined:
		return UserJoined{}, nil

	case TypeUserLeft:
		return UserLeft{}, nil

	case TypeClaimed:
		if w.ID == "" {
			return nil, fmt.Errorf("%w: claimed without id", ErrMalformed)
		}
		return Claimed{ID: w.ID}, nil

	case TypeIDTaken:
		return IDTaken{ID: w.ID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
	}
}
