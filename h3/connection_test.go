package h3

import (
	"testing"

	"github.com/bassosimone/qcore/internal/wire"
)

// encodeControlStream builds the bytes a peer's control stream would
// carry: the stream-type prefix followed by each frame in order.
func encodeControlStream(t *testing.T, frames ...Frame) []byte {
	t.Helper()
	buf := wire.NewBufferCapacity(4096)
	if err := buf.PushVarint(StreamTypeControl); err != nil {
		t.Fatalf("push stream type: %v", err)
	}
	for _, f := range frames {
		if err := f.Encode(buf); err != nil {
			t.Fatalf("encode %T: %v", f, err)
		}
	}
	return buf.Bytes()
}

func newTestConnection(isClient bool) *Connection {
	return NewConnection(nil, isClient)
}

func TestOnStreamDataControlStreamSettingsFirst(t *testing.T) {
	c := newTestConnection(true)
	data := encodeControlStream(t, DefaultSettings(), &GoAwayFrame{StreamOrPushID: 8})

	// Feed one byte at a time to exercise the reassembler's "not enough
	// data yet" path all the way through both frames.
	const controlStreamID = 3 // server-initiated unidirectional
	for i := 0; i < len(data); i++ {
		if err := c.OnStreamData(controlStreamID, data[i:i+1], false); err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
	}

	ev, ok := c.NextEvent()
	if !ok || ev.Type != EventSettingsReceived {
		t.Fatalf("expected SettingsReceived event, got %+v (ok=%v)", ev, ok)
	}
	ev, ok = c.NextEvent()
	if !ok || ev.Type != EventGoAwayReceived {
		t.Fatalf("expected GoAwayReceived event, got %+v (ok=%v)", ev, ok)
	}
	if ev.GoAwayReceived.StreamOrPushID != 8 {
		t.Fatalf("GoAway id = %d, want 8", ev.GoAwayReceived.StreamOrPushID)
	}
	if _, ok := c.NextEvent(); ok {
		t.Fatalf("unexpected extra event")
	}
}

func TestOnStreamDataControlStreamRejectsNonSettingsFirst(t *testing.T) {
	c := newTestConnection(true)
	data := encodeControlStream(t, &GoAwayFrame{StreamOrPushID: 1})
	const controlStreamID = 3
	err := c.OnStreamData(controlStreamID, data, true)
	if err == nil {
		t.Fatalf("expected error when first control frame is not SETTINGS")
	}
	if _, ok := err.(*ErrUnexpectedFrame); !ok {
		t.Fatalf("expected *ErrUnexpectedFrame, got %T: %v", err, err)
	}
}

func TestOnStreamDataControlStreamRejectsDuplicateSettings(t *testing.T) {
	c := newTestConnection(true)
	data := encodeControlStream(t, DefaultSettings(), DefaultSettings())
	const controlStreamID = 3
	err := c.OnStreamData(controlStreamID, data, true)
	if err == nil {
		t.Fatalf("expected error on duplicate SETTINGS")
	}
}

func TestOnStreamDataRequestStreamHeadersAndData(t *testing.T) {
	c := newTestConnection(false) // server: receives client-initiated bidi stream 0

	codec := NewHeaderCodec()
	encoded, err := codec.Encode([]Header{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/index"},
	})
	if err != nil {
		t.Fatalf("qpack encode: %v", err)
	}

	buf := wire.NewBufferCapacity(4096)
	if err := (&HeadersFrame{EncodedFieldSection: encoded}).Encode(buf); err != nil {
		t.Fatalf("encode headers: %v", err)
	}
	if err := (&DataFrame{Data: []byte("payload")}).Encode(buf); err != nil {
		t.Fatalf("encode data: %v", err)
	}

	const requestStreamID = 0 // client-initiated bidirectional
	if err := c.OnStreamData(requestStreamID, buf.Bytes(), true); err != nil {
		t.Fatalf("OnStreamData: %v", err)
	}

	ev, ok := c.NextEvent()
	if !ok || ev.Type != EventHeadersReceived {
		t.Fatalf("expected HeadersReceived, got %+v (ok=%v)", ev, ok)
	}
	if len(ev.HeadersReceived.Headers) != 2 || ev.HeadersReceived.Headers[0].Value != "GET" {
		t.Fatalf("unexpected headers: %+v", ev.HeadersReceived.Headers)
	}
	if ev.HeadersReceived.EndStream {
		t.Fatalf("HEADERS is not the last frame, EndStream should be false")
	}

	ev, ok = c.NextEvent()
	if !ok || ev.Type != EventDataReceived {
		t.Fatalf("expected DataReceived, got %+v (ok=%v)", ev, ok)
	}
	if string(ev.DataReceived.Data) != "payload" || !ev.DataReceived.EndStream {
		t.Fatalf("unexpected data event: %+v", ev.DataReceived)
	}
}

func TestOnStreamDataRequestStreamRejectsControlOnlyFrame(t *testing.T) {
	c := newTestConnection(false)
	buf := wire.NewBufferCapacity(64)
	if err := DefaultSettings().Encode(buf); err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	const requestStreamID = 0
	err := c.OnStreamData(requestStreamID, buf.Bytes(), false)
	if err == nil {
		t.Fatalf("expected error for SETTINGS on a request stream")
	}
}

func TestIsUnidirectionalStreamID(t *testing.T) {
	cases := map[uint64]bool{
		0: false, // client bidi
		1: false, // server bidi
		2: true,  // client uni
		3: true,  // server uni
		4: false,
		6: true,
	}
	for id, want := range cases {
		if got := isUnidirectionalStreamID(id); got != want {
			t.Errorf("isUnidirectionalStreamID(%d) = %v, want %v", id, got, want)
		}
	}
}
