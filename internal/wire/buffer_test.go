package wire

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBufferFixedInts(t *testing.T) {
	t.Run("uint8 round-trip", func(t *testing.T) {
		w := NewBufferCapacity(1)
		if err := w.PushUint8(0xab); err != nil {
			t.Fatal(err)
		}
		r := NewBuffer(w.Bytes())
		v, err := r.PullUint8()
		if err != nil {
			t.Fatal(err)
		}
		if v != 0xab {
			t.Fatalf("got %x", v)
		}
	})

	t.Run("uint64 round-trip", func(t *testing.T) {
		w := NewBufferCapacity(8)
		if err := w.PushUint64(0x0102030405060708); err != nil {
			t.Fatal(err)
		}
		r := NewBuffer(w.Bytes())
		v, err := r.PullUint64()
		if err != nil {
			t.Fatal(err)
		}
		if v != 0x0102030405060708 {
			t.Fatalf("got %x", v)
		}
	})

	t.Run("short write fails", func(t *testing.T) {
		w := NewBufferCapacity(1)
		if err := w.PushUint16(1); !errors.Is(err, ErrBufferWrite) {
			t.Fatal("expected ErrBufferWrite", err)
		}
	})

	t.Run("short read fails", func(t *testing.T) {
		r := NewBuffer([]byte{0x01})
		if _, err := r.PullUint32(); !errors.Is(err, ErrBufferRead) {
			t.Fatal("expected ErrBufferRead", err)
		}
	})
}

func TestBufferVarint(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 4611686018427387903}
	for _, v := range cases {
		w := NewBufferCapacity(VarintLen(v))
		if err := w.PushVarint(v); err != nil {
			t.Fatalf("push %d: %v", v, err)
		}
		r := NewBuffer(w.Bytes())
		got, err := r.PullVarint()
		if err != nil {
			t.Fatalf("pull %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round-trip mismatch: want %d got %d", v, got)
		}
		if !r.Eof() {
			t.Fatalf("leftover bytes after pulling %d", v)
		}
	}
}

func TestBufferBlock(t *testing.T) {
	t.Run("3-byte block backfill", func(t *testing.T) {
		w := NewBufferCapacity(32)
		marker, err := w.StartBlock(3)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.PushBytes([]byte("hello")); err != nil {
			t.Fatal(err)
		}
		if err := w.FinishBlock(marker); err != nil {
			t.Fatal(err)
		}

		r := NewBuffer(w.Bytes())
		length, err := r.PullBytes(3)
		if err != nil {
			t.Fatal(err)
		}
		if length[0] != 0 || length[1] != 0 || length[2] != 5 {
			t.Fatalf("unexpected length prefix %v", length)
		}
		body, err := r.PullBytes(5)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff("hello", string(body)); diff != "" {
			t.Fatalf("body mismatch (-want +got):\n%s", diff)
		}
	})
}
