package h3

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderCodecRoundTrip(t *testing.T) {
	codec := NewHeaderCodec()
	want := []Header{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
		{Name: "user-agent", Value: "qcore-h3/1"},
	}

	encoded, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("header round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderCodecEmpty(t *testing.T) {
	codec := NewHeaderCodec()
	encoded, err := codec.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no headers, got %v", got)
	}
}
