package ackhandler

import (
	"testing"
	"time"
)

func TestLossRecoveryAckMarksPacketsAcked(t *testing.T) {
	l := NewLossRecovery()
	now := time.Unix(0, 0)

	l.OnPacketSent(&SentPacket{PacketNumber: 1, SentAt: now, Size: 100, AckEliciting: true})
	l.OnPacketSent(&SentPacket{PacketNumber: 2, SentAt: now, Size: 100, AckEliciting: true})

	acked, lost := l.OnAckReceived([]AckRange{{1, 2}}, 0, now.Add(10*time.Millisecond))
	if len(acked) != 2 {
		t.Fatalf("got %d newly acked, want 2", len(acked))
	}
	if len(lost) != 0 {
		t.Fatalf("got %d newly lost, want 0", len(lost))
	}
	if l.InFlightBytes() != 0 {
		t.Fatalf("InFlightBytes = %d, want 0", l.InFlightBytes())
	}
}

func TestLossRecoveryPacketThreshold(t *testing.T) {
	l := NewLossRecovery()
	now := time.Unix(0, 0)

	var lostCalled bool
	l.OnPacketSent(&SentPacket{PacketNumber: 1, SentAt: now, Size: 100, AckEliciting: true, OnLost: func() { lostCalled = true }})
	for pn := int64(2); pn <= 5; pn++ {
		l.OnPacketSent(&SentPacket{PacketNumber: pn, SentAt: now, Size: 100, AckEliciting: true})
	}

	// Acking 2..5 leaves pn 1 more than packetThreshold=3 behind the
	// largest acked (5-1=4 >= 3), so it must be declared lost.
	_, lost := l.OnAckReceived([]AckRange{{2, 5}}, 0, now.Add(time.Millisecond))
	if len(lost) != 1 || lost[0].PacketNumber != 1 {
		t.Fatalf("lost = %+v, want [pn 1]", lost)
	}
	if !lostCalled {
		t.Fatal("expected OnLost callback to fire")
	}
}

func TestLossRecoveryPTOBacksOff(t *testing.T) {
	l := NewLossRecovery()
	first := l.PTOTimeout()
	l.OnPTOExpired()
	second := l.PTOTimeout()
	if second <= first {
		t.Fatalf("PTO did not back off: first=%v second=%v", first, second)
	}
}
