// Package ackhandler implements per-epoch ACK tracking, loss recovery
// with a PTO timer, and a NewReno-like congestion controller (spec.md
// §4.6 "ACK manager" and "Loss recovery").
package ackhandler

import (
	"time"

	"github.com/bassosimone/qcore/internal/wire"
	"github.com/google/btree"
)

// DefaultAckDelay is the manager's default ack timer, overridable by
// the peer's ack_delay_exponent transport parameter (spec.md §4.6).
const DefaultAckDelay = 25 * time.Millisecond

// pnItem is a single received packet number, the unit this btree
// indexes; AckManager coalesces adjacent items into ranges only when
// it needs to emit an ACK frame.
type pnItem int64

func (a pnItem) Less(than btree.Item) bool { return a < than.(pnItem) }

// AckManager tracks received packet numbers for one epoch's packet-
// number space and produces ACK ranges (spec.md §4.6 "per epoch
// maintains received-PN ranges; emits ACK frames with ack_delay
// relative to the largest acked").
type AckManager struct {
	epoch    wire.Epoch
	received *btree.BTree

	largestAcked  int64
	largestAckedAt time.Time

	ackDelay time.Duration

	// ackElicited is set whenever a new, ack-eliciting packet arrives,
	// and cleared once an ACK covering it has been queued for send.
	ackElicited bool
}

// NewAckManager creates an ack manager for the given epoch.
func NewAckManager(epoch wire.Epoch) *AckManager {
	return &AckManager{
		epoch:        epoch,
		received:     btree.New(32),
		largestAcked: -1,
		ackDelay:     DefaultAckDelay,
	}
}

// SetAckDelay overrides the ack timer, e.g. from a negotiated
// ack_delay_exponent transport parameter.
func (m *AckManager) SetAckDelay(d time.Duration) { m.ackDelay = d }

// OnPacketReceived records pn as received at now, and reports whether
// it is a duplicate (spec.md §3: "Duplicate PNs in the same epoch MUST
// be detected and dropped").
func (m *AckManager) OnPacketReceived(pn int64, now time.Time, ackEliciting bool) (duplicate bool) {
	if m.received.Has(pnItem(pn)) {
		return true
	}
	m.received.ReplaceOrInsert(pnItem(pn))
	if pn > m.largestAcked {
		m.largestAcked = pn
		m.largestAckedAt = now
	}
	if ackEliciting {
		m.ackElicited = true
	}
	return false
}

// AckRange is a contiguous [Smallest, Largest] range of received
// packet numbers, in the wire encoding's terms (spec.md §4.4 ACK
// frame).
type AckRange struct {
	Smallest, Largest int64
}

// PendingRanges walks the received set and coalesces it into
// descending AckRanges, as needed to build an ACK frame.
func (m *AckManager) PendingRanges() []AckRange {
	var ranges []AckRange
	var cur *AckRange

	// btree only iterates ascending; collect ascending then reverse.
	var ascending []int64
	m.received.Ascend(func(i btree.Item) bool {
		ascending = append(ascending, int64(i.(pnItem)))
		return true
	})
	for i := len(ascending) - 1; i >= 0; i-- {
		pn := ascending[i]
		if cur != nil && cur.Smallest == pn+1 {
			cur.Smallest = pn
			continue
		}
		if cur != nil {
			ranges = append(ranges, *cur)
		}
		cur = &AckRange{Smallest: pn, Largest: pn}
	}
	if cur != nil {
		ranges = append(ranges, *cur)
	}
	return ranges
}

// ShouldSendAck reports whether an ACK-eliciting packet has been
// received since the last time an ACK was queued for send.
func (m *AckManager) ShouldSendAck() bool { return m.ackElicited }

// AckDelay returns the delay to report in the next ACK frame, relative
// to when the largest acked packet number was received.
func (m *AckManager) AckDelay(now time.Time) time.Duration {
	if m.largestAckedAt.IsZero() {
		return 0
	}
	return now.Sub(m.largestAckedAt)
}

// LargestAcked returns the largest received packet number, or -1 if
// none has been received yet.
func (m *AckManager) LargestAcked() int64 { return m.largestAcked }

// OnAckSent clears the ack-eliciting flag after an ACK frame covering
// the current received set has been queued for send.
func (m *AckManager) OnAckSent() { m.ackElicited = false }
