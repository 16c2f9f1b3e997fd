package media

import (
	"testing"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
)

func TestControlMessage_TrackState(t *testing.T) {
	data, err := EncodeMessage(MessageTypeTrackState, TrackStatePayload{Kind: "video", Enabled: false})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != MessageTypeTrackState {
		t.Fatalf("unexpected type %q", msg.Type)
	}

	var st TrackStatePayload
	if err := msg.DecodePayload(&st); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	kind, ok := parseTrackKind(st.Kind)
	if !ok || kind != rendezvous.TrackVideo || st.Enabled {
		t.Fatalf("unexpected payload %+v", st)
	}
}

func TestParseMessage_Garbage(t *testing.T) {
	if _, err := ParseMessage([]byte{0xc1}); err == nil {
		t.Fatalf("expected an error for an invalid msgpack frame")
	}
}

func TestParseTrackKind_Unknown(t *testing.T) {
	if _, ok := parseTrackKind("screen"); ok {
		t.Fatalf("screen is not a track kind")
	}
}
