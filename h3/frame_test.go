package h3

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bassosimone/qcore/internal/wire"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	buf := wire.NewBufferCapacity(1500)
	if err := f.Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	r := wire.NewBuffer(buf.Bytes())
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
		&DataFrame{Data: []byte("hello world")},
		&DataFrame{Data: nil},
		&HeadersFrame{EncodedFieldSection: []byte{0x00, 0x00, 0xc0}},
		&CancelPushFrame{PushID: 9},
		&SettingsFrame{Values: map[Setting]uint64{SettingQPACKMaxTableCapacity: 4096}},
		&PushPromiseFrame{PushID: 2, EncodedFieldSection: []byte{0x00, 0x00}},
		&GoAwayFrame{StreamOrPushID: 16},
		&MaxPushIDFrame{PushID: 100},
		&DuplicatePushFrame{PushID: 5},
		&UnknownFrame{FrameType: 0x21, Payload: []byte("reserved")},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%T round-trip mismatch (-want +got):\n%s", want, diff)
		}
	}
}

func TestDefaultSettingsDisablesDynamicTable(t *testing.T) {
	s := DefaultSettings()
	if v, ok := s.GetSetting(SettingQPACKMaxTableCapacity); !ok || v != 0 {
		t.Fatalf("expected QPACK max table capacity 0, got %v (ok=%v)", v, ok)
	}
	if v, ok := s.GetSetting(SettingQPACKBlockedStreams); !ok || v != 0 {
		t.Fatalf("expected QPACK blocked streams 0, got %v (ok=%v)", v, ok)
	}
}

func TestSettingsGetSettingMissing(t *testing.T) {
	s := &SettingsFrame{Values: map[Setting]uint64{}}
	if _, ok := s.GetSetting(SettingMaxFieldSectionSize); ok {
		t.Fatalf("expected missing setting to report ok=false")
	}
}

func TestTryParseFrameIncomplete(t *testing.T) {
	buf := wire.NewBufferCapacity(64)
	if err := (&DataFrame{Data: []byte("0123456789")}).Encode(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	full := buf.Bytes()

	// Every strict prefix must report "not enough data yet", never an error.
	for n := 0; n < len(full); n++ {
		frame, consumed, ok, err := TryParseFrame(full[:n])
		if err != nil {
			t.Fatalf("prefix %d: unexpected error: %v", n, err)
		}
		if ok {
			t.Fatalf("prefix %d: reported complete (consumed=%d, frame=%v)", n, consumed, frame)
		}
	}

	frame, consumed, ok, err := TryParseFrame(full)
	if err != nil || !ok {
		t.Fatalf("full frame: ok=%v err=%v", ok, err)
	}
	if consumed != len(full) {
		t.Fatalf("consumed = %d, want %d", consumed, len(full))
	}
	df, isData := frame.(*DataFrame)
	if !isData || string(df.Data) != "0123456789" {
		t.Fatalf("unexpected frame: %#v", frame)
	}
}

func TestParseFrameUnknownTypeIgnored(t *testing.T) {
	buf := wire.NewBufferCapacity(32)
	if err := buf.PushVarint(0x99); err != nil {
		t.Fatalf("push type: %v", err)
	}
	if err := buf.PushVarint(3); err != nil {
		t.Fatalf("push len: %v", err)
	}
	if err := buf.PushBytes([]byte("abc")); err != nil {
		t.Fatalf("push payload: %v", err)
	}

	r := wire.NewBuffer(buf.Bytes())
	frame, err := ParseFrame(r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	unk, ok := frame.(*UnknownFrame)
	if !ok {
		t.Fatalf("expected *UnknownFrame, got %T", frame)
	}
	if unk.FrameType != 0x99 || string(unk.Payload) != "abc" {
		t.Fatalf("unexpected frame: %#v", unk)
	}
}
