package qcore

//
// Stream direction rules (spec.md §4.6 "Stream direction rules")
//

import "testing"

func TestNewStreamDirectionRules(t *testing.T) {
	cases := []struct {
		name           string
		id             uint64
		isClient       bool
		wantCanSend    bool
		wantCanReceive bool
	}{
		{"client-initiated bidi, client side", 0, true, true, true},
		{"client-initiated bidi, server side", 0, false, true, true},
		{"server-initiated bidi, client side", 1, true, true, true},
		{"server-initiated bidi, server side", 1, false, true, true},
		{"client-initiated uni, client side", 2, true, true, false},
		{"client-initiated uni, server side", 2, false, false, true},
		{"server-initiated uni, client side", 3, true, false, true},
		{"server-initiated uni, server side", 3, false, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStream(tc.id, tc.isClient, 1<<20, 1<<20)
			if s.canSend != tc.wantCanSend {
				t.Errorf("canSend = %v, want %v", s.canSend, tc.wantCanSend)
			}
			if s.canReceive != tc.wantCanReceive {
				t.Errorf("canReceive = %v, want %v", s.canReceive, tc.wantCanReceive)
			}
		})
	}
}

func TestStreamCheckSendRejectsReceiveOnly(t *testing.T) {
	// Server-initiated uni stream 3, seen from the client: client can
	// only receive, never send.
	s := newStream(3, true, 1<<20, 1<<20)
	if err := s.checkSend(); err == nil {
		t.Fatal("expected an error writing to a receive-only stream")
	} else if te, ok := err.(*TransportError); !ok {
		t.Fatalf("expected *TransportError, got %T", err)
	} else if te.Code != StreamStateError {
		t.Errorf("code = %s, want STREAM_STATE_ERROR", te.Code)
	} else if te.Reason != "Stream is receive-only" {
		t.Errorf("reason = %q", te.Reason)
	}
}

func TestStreamCheckReceiveRejectsSendOnly(t *testing.T) {
	// Client-initiated uni stream 2, seen from the client: client can
	// only send, never receive.
	s := newStream(2, true, 1<<20, 1<<20)
	if err := s.checkSend(); err != nil {
		t.Fatalf("client should be able to send on a stream it opened: %v", err)
	}
	if err := s.OnStreamFrame(0, []byte("hello"), false); err == nil {
		t.Fatal("expected an error receiving on a send-only stream")
	} else if te, ok := err.(*TransportError); !ok {
		t.Fatalf("expected *TransportError, got %T", err)
	} else if te.Code != StreamStateError {
		t.Errorf("code = %s, want STREAM_STATE_ERROR", te.Code)
	} else if te.Reason != "Stream is send-only" {
		t.Errorf("reason = %q", te.Reason)
	}
}

func TestNextStreamIDMatchesDirectionBits(t *testing.T) {
	cases := []struct {
		isClient          bool
		isUnidirectional  bool
		countOpened       uint64
		want              uint64
	}{
		{true, false, 0, 0},
		{true, false, 1, 4},
		{false, false, 0, 1},
		{true, true, 0, 2},
		{false, true, 0, 3},
		{false, true, 2, 11},
	}
	for _, tc := range cases {
		got := NextStreamID(tc.isClient, tc.isUnidirectional, tc.countOpened)
		if got != tc.want {
			t.Errorf("NextStreamID(%v, %v, %d) = %d, want %d", tc.isClient, tc.isUnidirectional, tc.countOpened, got, tc.want)
		}
		if streamIsClientInitiated(got) != tc.isClient {
			t.Errorf("streamIsClientInitiated(%d) = %v, want %v", got, streamIsClientInitiated(got), tc.isClient)
		}
		if streamIsBidirectional(got) != !tc.isUnidirectional {
			t.Errorf("streamIsBidirectional(%d) = %v, want %v", got, streamIsBidirectional(got), !tc.isUnidirectional)
		}
	}
}
