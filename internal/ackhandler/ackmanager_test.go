package ackhandler

import (
	"testing"
	"time"

	"github.com/bassosimone/qcore/internal/wire"
)

func TestAckManagerDuplicateDetection(t *testing.T) {
	m := NewAckManager(wire.EpochOneRTT)
	now := time.Unix(0, 0)

	if dup := m.OnPacketReceived(5, now, true); dup {
		t.Fatal("first receipt of pn 5 should not be a duplicate")
	}
	if dup := m.OnPacketReceived(5, now, true); !dup {
		t.Fatal("second receipt of pn 5 should be a duplicate")
	}
}

func TestAckManagerPendingRangesCoalesce(t *testing.T) {
	m := NewAckManager(wire.EpochOneRTT)
	now := time.Unix(0, 0)
	for _, pn := range []int64{0, 1, 2, 5, 6, 9} {
		m.OnPacketReceived(pn, now, true)
	}

	ranges := m.PendingRanges()
	want := []AckRange{{9, 9}, {5, 6}, {0, 2}}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d: %+v", len(ranges), len(want), ranges)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range[%d] = %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestAckManagerLargestAcked(t *testing.T) {
	m := NewAckManager(wire.EpochInitial)
	now := time.Unix(0, 0)
	m.OnPacketReceived(3, now, true)
	m.OnPacketReceived(7, now.Add(time.Millisecond), true)
	m.OnPacketReceived(2, now.Add(2*time.Millisecond), true)

	if m.LargestAcked() != 7 {
		t.Fatalf("LargestAcked = %d, want 7", m.LargestAcked())
	}
}
