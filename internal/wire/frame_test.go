package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	buf := NewBufferCapacity(1500)
	if err := f.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := NewBuffer(buf.Bytes())
	got, err := ParseFrame(r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !r.Eof() {
		t.Fatalf("leftover bytes after parsing %T", f)
	}
	return got
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Frame{
		&PaddingFrame{},
		&PingFrame{},
		&CryptoFrame{Offset: 12, Data: []byte("client hello bytes")},
		&NewTokenFrame{Token: []byte("opaque-token")},
		&StreamFrame{StreamID: 4, Offset: 0, Data: []byte("hello"), Fin: false},
		&StreamFrame{StreamID: 8, Offset: 100, Data: []byte("world"), Fin: true},
		&ResetStreamFrame{StreamID: 4, ErrorCode: 1, FinalSize: 42},
		&StopSendingFrame{StreamID: 4, ErrorCode: 2},
		&MaxDataFrame{MaximumData: 1 << 20},
		&MaxStreamDataFrame{StreamID: 4, MaximumData: 1 << 16},
		&MaxStreamsFrame{Bidirectional: true, MaximumStreams: 100},
		&MaxStreamsFrame{Bidirectional: false, MaximumStreams: 3},
		&DataBlockedFrame{MaximumData: 1000},
		&StreamDataBlockedFrame{StreamID: 4, MaximumData: 1000},
		&StreamsBlockedFrame{Bidirectional: true, StreamLimit: 5},
		&RetireConnectionIDFrame{SequenceNumber: 1},
		&PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		&PathResponseFrame{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		&ConnectionCloseFrame{ErrorCode: 0xa, FrameType_: 0x08, ReasonPhrase: "Unexpected frame type"},
		&ConnectionCloseFrame{IsApplicationError: true, ErrorCode: 0, ReasonPhrase: ""},
		&HandshakeDoneFrame{},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%T round-trip mismatch (-want +got):\n%s", want, diff)
		}
	}
}

func TestNewConnectionIDFrameRoundTrip(t *testing.T) {
	want := &NewConnectionIDFrame{
		SequenceNumber: 3,
		RetirePriorTo:  1,
		ConnectionID:   ConnectionID{1, 2, 3, 4, 5, 6, 7, 8},
	}
	copy(want.StatelessResetToken[:], []byte("0123456789abcdef"))
	got := roundTrip(t, want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	want := &AckFrame{
		LargestAcked: 100,
		AckDelay:     25000,
		Ranges: []AckRange{
			{Smallest: 90, Largest: 100},
			{Smallest: 50, Largest: 80},
		},
	}
	got := roundTrip(t, want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFrameUnknownType(t *testing.T) {
	buf := NewBufferCapacity(4)
	if err := buf.PushVarint(0x3f); err != nil {
		t.Fatal(err)
	}
	r := NewBuffer(buf.Bytes())
	if _, err := ParseFrame(r); err == nil {
		t.Fatal("expected an error for an unknown frame type")
	}
}
