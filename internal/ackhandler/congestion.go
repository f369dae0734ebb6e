package ackhandler

//
// Congestion controller (spec.md §4.6, "a single NewReno-like
// controller is assumed" per spec.md §1 non-goals)
//

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	minimumWindow      = 2 * maxDatagramSize
	maxDatagramSize    = 1200
	lossReductionFactor = 0.5
)

// CongestionController is a NewReno-like window-based controller:
// slow start until the first loss, then additive-increase /
// multiplicative-decrease. It also keeps a token-bucket rate.Limiter as
// a pacer, but the pacer's answer is discarded and CanSend checks only
// the congestion window, so pacing does not delay or limit any send.
type CongestionController struct {
	congestionWindow int
	bytesInFlight    int
	ssthresh         int

	recoveryStartTime time.Time

	pacer *rate.Limiter
}

// NewCongestionController creates a controller starting in slow start
// with the RFC 9002 §B.3 initial window (10 * max_datagram_size,
// capped).
func NewCongestionController() *CongestionController {
	initialWindow := 10 * maxDatagramSize
	return &CongestionController{
		congestionWindow: initialWindow,
		ssthresh:         1 << 30,
		pacer:            rate.NewLimiter(rate.Inf, initialWindow),
	}
}

// CanSend reports whether n more bytes can be sent without exceeding
// the current congestion window.
func (c *CongestionController) CanSend(n int) bool {
	return c.bytesInFlight+n <= c.congestionWindow
}

// OnPacketSent accounts for n bytes newly in flight and draws n tokens
// from the pacer; the result is not used, so the next send pass is not
// throttled by it.
func (c *CongestionController) OnPacketSent(n int) {
	c.bytesInFlight += n
	_ = c.pacer.AllowN(time.Now(), n)
}

// OnPacketsAcked grows the window: exponentially during slow start,
// additively (one max_datagram_size per window's worth of acked
// bytes) once past ssthresh.
func (c *CongestionController) OnPacketsAcked(ackedBytes int) {
	c.bytesInFlight -= ackedBytes
	if c.bytesInFlight < 0 {
		c.bytesInFlight = 0
	}
	if c.InSlowStart() {
		c.congestionWindow += ackedBytes
		return
	}
	c.congestionWindow += maxDatagramSize * ackedBytes / c.congestionWindow
}

// OnPacketsLost halves the window (NewReno multiplicative decrease),
// entering a recovery period that absorbs further losses from packets
// sent before the reduction without re-triggering it.
func (c *CongestionController) OnPacketsLost(lostBytes int, largestLostSentAt time.Time) {
	c.bytesInFlight -= lostBytes
	if c.bytesInFlight < 0 {
		c.bytesInFlight = 0
	}
	if !c.recoveryStartTime.IsZero() && !largestLostSentAt.After(c.recoveryStartTime) {
		return // already in recovery for this loss episode
	}
	c.recoveryStartTime = time.Now()
	c.ssthresh = int(float64(c.congestionWindow) * lossReductionFactor)
	if c.ssthresh < minimumWindow {
		c.ssthresh = minimumWindow
	}
	c.congestionWindow = c.ssthresh
}

// InSlowStart reports whether the controller is still below ssthresh.
func (c *CongestionController) InSlowStart() bool { return c.congestionWindow < c.ssthresh }

// Window returns the current congestion window.
func (c *CongestionController) Window() int { return c.congestionWindow }

// BytesInFlight returns the controller's current bytes-in-flight
// estimate.
func (c *CongestionController) BytesInFlight() int { return c.bytesInFlight }

// SetPacingRate updates the pacer's steady-state rate, typically
// derived from congestionWindow / smoothedRTT once an RTT estimate
// exists.
func (c *CongestionController) SetPacingRate(bytesPerSecond float64) {
	if bytesPerSecond <= 0 {
		c.pacer.SetLimit(rate.Inf)
		return
	}
	c.pacer.SetLimit(rate.Limit(bytesPerSecond))
}
