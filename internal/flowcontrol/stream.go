// Package flowcontrol implements per-stream send/receive buffering and
// flow-control accounting (spec.md §4.5), plus connection-level flow
// control (spec.md §4.6).
package flowcontrol

import (
	"fmt"
	"sort"
)

// ErrFlowControl reports a flow-control limit violation (spec.md §7
// FLOW_CONTROL_ERROR).
type ErrFlowControl struct {
	Reason string
}

func (e *ErrFlowControl) Error() string { return fmt.Sprintf("flowcontrol: %s", e.Reason) }

func newErrFlowControl(reason string) error { return &ErrFlowControl{Reason: reason} }

// ErrFinalSize reports a FIN offset inconsistency (spec.md §7
// FINAL_SIZE_ERROR).
type ErrFinalSize struct {
	Reason string
}

func (e *ErrFinalSize) Error() string { return fmt.Sprintf("flowcontrol: %s", e.Reason) }

func newErrFinalSize(reason string) error { return &ErrFinalSize{Reason: reason} }

// SendBuffer is the append-only byte log backing a stream's send side
// (spec.md §4.5 "Send side"): data is appended with Write, exposed for
// retransmission-aware draining with Pending, and acknowledged bytes
// are dropped from the front with the offset preserved.
type SendBuffer struct {
	baseOffset uint64 // offset of data[0]
	data       []byte
	finOffset  int64 // -1 until Close is called
	maxData    uint64
	sent       uint64
}

// NewSendBuffer creates a send buffer with the given initial
// peer-advertised max_stream_data.
func NewSendBuffer(maxData uint64) *SendBuffer {
	return &SendBuffer{finOffset: -1, maxData: maxData}
}

// Write appends p to the end of the stream. It fails if the stream's
// FIN has already been declared (spec.md §4.5: "subsequent sends fail").
func (s *SendBuffer) Write(p []byte) error {
	if s.finOffset >= 0 {
		return newErrFinalSize("write after stream close")
	}
	s.data = append(s.data, p...)
	return nil
}

// Close declares the stream's FIN at the current end-of-data offset.
func (s *SendBuffer) Close() error {
	if s.finOffset >= 0 {
		return nil // idempotent
	}
	s.finOffset = int64(s.baseOffset) + int64(len(s.data))
	return nil
}

// SetMaxData raises the peer-advertised max_stream_data limit (on a
// MAX_STREAM_DATA frame); limits never shrink.
func (s *SendBuffer) SetMaxData(limit uint64) {
	if limit > s.maxData {
		s.maxData = limit
	}
}

// IsBlocked reports whether every unsent byte is beyond the peer's
// flow-control limit (spec.md §4.5 "marks is_blocked when
// flow-controlled").
func (s *SendBuffer) IsBlocked() bool {
	return s.sent < s.baseOffset+uint64(len(s.data)) && s.sent >= s.maxData
}

// Pending returns up to maxLen bytes starting at the current send
// cursor, the offset they start at, and whether this chunk carries
// FIN, without advancing the cursor — callers call Sent once the bytes
// are actually framed and scheduled.
func (s *SendBuffer) Pending(maxLen int) (data []byte, offset uint64, fin bool) {
	available := s.baseOffset + uint64(len(s.data)) - s.sent
	limit := s.maxData - s.sent
	if s.sent >= s.maxData {
		limit = 0
	}
	n := available
	if uint64(maxLen) < n {
		n = uint64(maxLen)
	}
	if limit < n {
		n = limit
	}
	start := s.sent - s.baseOffset
	chunk := s.data[start : start+n]
	isFin := s.finOffset >= 0 && s.sent+n == uint64(s.finOffset)
	return chunk, s.sent, isFin
}

// Sent advances the send cursor after n bytes (starting at the
// previous cursor position) have been framed for transmission.
func (s *SendBuffer) Sent(n uint64) { s.sent += n }

// Acked drops bytes up to offset+length from the front of the
// buffer, since they are no longer needed for retransmission.
func (s *SendBuffer) Acked(offset, length uint64) {
	newBase := offset + length
	if newBase <= s.baseOffset {
		return
	}
	if newBase > s.baseOffset+uint64(len(s.data)) {
		newBase = s.baseOffset + uint64(len(s.data))
	}
	drop := newBase - s.baseOffset
	s.data = s.data[drop:]
	s.baseOffset = newBase
}

// Retransmit rewinds the send cursor to offset, so Pending will
// re-emit bytes from there on the next call (spec.md §4.6 loss
// recovery: "STREAM bytes re-attached at original offset").
func (s *SendBuffer) Retransmit(offset uint64) {
	if offset < s.sent {
		s.sent = offset
	}
}

// recvChunk is one received, possibly-overlapping range of bytes.
type recvChunk struct {
	offset uint64
	data   []byte
}

// RecvBuffer is the offset-ordered, overlap-tolerant reassembler
// backing a stream's receive side (spec.md §4.5 "Receive side"): it
// accepts STREAM frames at arbitrary offsets and exposes the
// contiguous prefix starting at offset 0.
type RecvBuffer struct {
	readOffset uint64
	chunks     []recvChunk
	finOffset  int64 // -1 until FIN is declared
	maxData    uint64
}

// NewRecvBuffer creates a receive buffer with the given local
// max_stream_data_local limit.
func NewRecvBuffer(maxData uint64) *RecvBuffer {
	return &RecvBuffer{finOffset: -1, maxData: maxData}
}

// SetMaxData raises the local max_stream_data_local limit (after a
// MAX_STREAM_DATA frame is sent to the peer); limits never shrink.
func (r *RecvBuffer) SetMaxData(limit uint64) {
	if limit > r.maxData {
		r.maxData = limit
	}
}

// Write ingests a STREAM frame's (offset, data, fin). It rejects data
// that would cross the local flow-control limit with ErrFlowControl
// (spec.md §4.5), and rejects a FIN inconsistent with a previously
// declared one, or data arriving past a previously declared FIN, with
// ErrFinalSize (spec.md §3 "A FIN offset, once declared, is fixed").
func (r *RecvBuffer) Write(offset uint64, data []byte, fin bool) error {
	end := offset + uint64(len(data))
	if end > r.maxData {
		return newErrFlowControl("stream data exceeds max_stream_data_local")
	}
	if r.finOffset >= 0 {
		if fin && end != uint64(r.finOffset) {
			return newErrFinalSize("inconsistent FIN offset")
		}
		if end > uint64(r.finOffset) {
			return newErrFinalSize("data received past FIN")
		}
	}
	if fin {
		r.finOffset = int64(end)
	}
	if end <= r.readOffset || len(data) == 0 {
		return nil
	}
	r.chunks = append(r.chunks, recvChunk{offset: offset, data: data})
	return nil
}

// Read drains and returns the contiguous prefix available starting at
// the current read offset, and reports whether it ends in FIN (spec.md
// §4.5: "Contiguous prefix is surfaced to the application ... in
// order").
func (r *RecvBuffer) Read() (data []byte, fin bool) {
	var out []byte
	for progress := true; progress; {
		progress = false
		sort.Slice(r.chunks, func(i, j int) bool { return r.chunks[i].offset < r.chunks[j].offset })

		var remaining []recvChunk
		for _, c := range r.chunks {
			chunkEnd := c.offset + uint64(len(c.data))
			switch {
			case chunkEnd <= r.readOffset:
				// fully consumed already, drop it
			case c.offset > r.readOffset:
				remaining = append(remaining, c)
			default:
				skip := r.readOffset - c.offset
				out = append(out, c.data[skip:]...)
				r.readOffset = chunkEnd
				progress = true
			}
		}
		r.chunks = remaining
	}

	isFin := r.finOffset >= 0 && r.readOffset == uint64(r.finOffset)
	return out, isFin
}

// MaxData returns the current local flow-control limit.
func (r *RecvBuffer) MaxData() uint64 { return r.maxData }
