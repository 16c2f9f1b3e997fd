package signaling

import "encoding/json"

// Negotiation kinds carried inside a Signal payload.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
	KindBye       = "bye"
)

// SignalPayload is the negotiation data exchanged between two media engines.
// The relay forwards it untouched; From and To are rendezvous identities.
type SignalPayload struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// NewSignal wraps a payload into a Signal envelope for roomID.
func NewSignal(roomID string, payload SignalPayload) (Signal, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Signal{}, err
	}
	return Signal{RoomID: roomID, Payload: raw}, nil
}

// ParsePayload decodes the negotiation data of a Signal envelope.
func (s Signal) ParsePayload() (*SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
