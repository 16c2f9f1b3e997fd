package media

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
)

// controlLabel names the data channel that carries control messages.
const controlLabel = "control"

const (
	MessageTypeHello      = "hello"
	MessageTypeTrackState = "track_state"
)

// Message is one control message on the data channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload introduces a participant once the control channel opens.
type HelloPayload struct {
	Identity      string `msgpack:"identity"`
	DeviceName    string `msgpack:"deviceName"`
	DeviceVersion string `msgpack:"deviceVersion"`
}

// TrackStatePayload announces that a local track was switched on or off.
type TrackStatePayload struct {
	Kind    string `msgpack:"kind"`
	Enabled bool   `msgpack:"enabled"`
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeMessage builds and serialises a control message.
func EncodeMessage(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("create %s message: %w", t, err)
	}
	return msgpack.Marshal(msg)
}

// ParseMessage decodes a control message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

func parseTrackKind(name string) (rendezvous.TrackKind, bool) {
	switch name {
	case "audio":
		return rendezvous.TrackAudio, true
	case "video":
		return rendezvous.TrackVideo, true
	}
	return 0, false
}
