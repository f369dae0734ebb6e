package ackhandler

import (
	"testing"
	"time"
)

func TestCongestionControllerSlowStartGrowth(t *testing.T) {
	c := NewCongestionController()
	initial := c.Window()
	if !c.InSlowStart() {
		t.Fatal("expected controller to start in slow start")
	}
	c.OnPacketSent(1000)
	c.OnPacketsAcked(1000)
	if c.Window() <= initial {
		t.Fatalf("window did not grow in slow start: %d -> %d", initial, c.Window())
	}
}

func TestCongestionControllerLossHalvesWindow(t *testing.T) {
	c := NewCongestionController()
	c.OnPacketSent(5000)
	before := c.Window()
	c.OnPacketsLost(1000, time.Now())
	if c.Window() >= before {
		t.Fatalf("window did not shrink on loss: %d -> %d", before, c.Window())
	}
	if c.InSlowStart() {
		t.Fatal("expected controller to exit slow start after loss")
	}
}

func TestCongestionControllerCanSendRespectsWindow(t *testing.T) {
	c := NewCongestionController()
	if !c.CanSend(c.Window()) {
		t.Fatal("expected to be able to send exactly the full window")
	}
	if c.CanSend(c.Window() + 1) {
		t.Fatal("expected not to be able to exceed the window")
	}
}
