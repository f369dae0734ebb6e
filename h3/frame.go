// Package h3 implements a minimal HTTP/3 layer (spec.md §4.7 "Minimal
// HTTP/3") on top of a qcore connection's streams: the frame codec, the
// per-connection control stream and SETTINGS exchange, and QPACK header
// (de)compression via the static table.
package h3

//
// Frame codec (spec.md §4.7 "Frame"; supplemented per SPEC_FULL.md §5
// with the fuller FrameType/Setting enum that aioquic's own h3 layer
// carries: PUSH_PROMISE, GOAWAY, MAX_PUSH_ID, DUPLICATE_PUSH)
//

import (
	"fmt"

	"github.com/bassosimone/qcore/internal/wire"
)

// FrameType is the varint frame-type tag (RFC 9114 §7.2).
type FrameType uint64

const (
	FrameTypeData         FrameType = 0x00
	FrameTypeHeaders      FrameType = 0x01
	FrameTypeCancelPush   FrameType = 0x03
	FrameTypeSettings     FrameType = 0x04
	FrameTypePushPromise  FrameType = 0x05
	FrameTypeGoAway       FrameType = 0x07
	FrameTypeMaxPushID    FrameType = 0x0d
	FrameTypeDuplicatePush FrameType = 0x0e
)

// Setting is a SETTINGS frame identifier (RFC 9114 §7.2.4.1, RFC 9204
// §5 for the QPACK-specific ones).
type Setting uint64

const (
	SettingQPACKMaxTableCapacity Setting = 0x01
	SettingMaxFieldSectionSize   Setting = 0x06
	SettingQPACKBlockedStreams   Setting = 0x07
)

// ErrFrameEncoding corresponds to H3_FRAME_ERROR (RFC 9114 §8.1): a
// frame body that is syntactically malformed or carries the wrong
// length for its type.
type ErrFrameEncoding struct {
	Reason string
}

func (e *ErrFrameEncoding) Error() string {
	return fmt.Sprintf("h3: frame encoding error: %s", e.Reason)
}

func newErrFrameEncoding(reason string) error {
	return &ErrFrameEncoding{Reason: reason}
}

// Frame is any decoded HTTP/3 frame.
type Frame interface {
	Type() FrameType
	Encode(buf *wire.Buffer) error
}

// ParseFrame reads one length-prefixed frame from buf (RFC 9114 §7.1:
// type, then varint length, then that many bytes of payload).
func ParseFrame(buf *wire.Buffer) (Frame, error) {
	t, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("cannot read frame type")
	}
	length, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("cannot read frame length")
	}
	payload, err := buf.PullBytes(int(length))
	if err != nil {
		return nil, newErrFrameEncoding("short frame payload")
	}
	body := wire.NewBuffer(payload)

	switch FrameType(t) {
	case FrameTypeData:
		return &DataFrame{Data: append([]byte(nil), payload...)}, nil
	case FrameTypeHeaders:
		return &HeadersFrame{EncodedFieldSection: append([]byte(nil), payload...)}, nil
	case FrameTypeCancelPush:
		return parseCancelPushFrame(body)
	case FrameTypeSettings:
		return parseSettingsFrame(body)
	case FrameTypePushPromise:
		return parsePushPromiseFrame(body, length)
	case FrameTypeGoAway:
		return parseGoAwayFrame(body)
	case FrameTypeMaxPushID:
		return parseMaxPushIDFrame(body)
	case FrameTypeDuplicatePush:
		return parseDuplicatePushFrame(body)
	default:
		// RFC 9114 §9: unknown frame types on request streams and the
		// control stream MUST be ignored by skipping their payload, which
		// ParseFrame already did by consuming exactly `length` bytes.
		return &UnknownFrame{FrameType: FrameType(t), Payload: append([]byte(nil), payload...)}, nil
	}
}

// TryParseFrame attempts to parse one frame from the front of data,
// reporting ok=false (not an error) when data does not yet hold a
// complete frame, so a stream-level reassembler can keep buffering
// instead of treating a partial read as malformed.
func TryParseFrame(data []byte) (frame Frame, consumed int, ok bool, err error) {
	peek := wire.NewBuffer(data)
	if _, terr := peek.PullVarint(); terr != nil {
		return nil, 0, false, nil
	}
	length, lerr := peek.PullVarint()
	if lerr != nil {
		return nil, 0, false, nil
	}
	headerLen := peek.Pos()
	if peek.Len() < int(length) {
		return nil, 0, false, nil
	}
	total := headerLen + int(length)
	full := wire.NewBuffer(data[:total])
	f, ferr := ParseFrame(full)
	if ferr != nil {
		return nil, 0, false, ferr
	}
	return f, total, true, nil
}

func encodeFrameHeader(buf *wire.Buffer, t FrameType, length uint64) error {
	if err := buf.PushVarint(uint64(t)); err != nil {
		return err
	}
	return buf.PushVarint(length)
}

// DataFrame carries a chunk of a request or response body (RFC 9114
// §7.2.1).
type DataFrame struct {
	Data []byte
}

func (f *DataFrame) Type() FrameType { return FrameTypeData }
func (f *DataFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeData, uint64(len(f.Data))); err != nil {
		return err
	}
	return buf.PushBytes(f.Data)
}

// HeadersFrame carries a QPACK-encoded field section (RFC 9114 §7.2.2).
type HeadersFrame struct {
	EncodedFieldSection []byte
}

func (f *HeadersFrame) Type() FrameType { return FrameTypeHeaders }
func (f *HeadersFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeHeaders, uint64(len(f.EncodedFieldSection))); err != nil {
		return err
	}
	return buf.PushBytes(f.EncodedFieldSection)
}

// CancelPushFrame asks the peer to cancel a push (RFC 9114 §7.2.3).
type CancelPushFrame struct {
	PushID uint64
}

func (f *CancelPushFrame) Type() FrameType { return FrameTypeCancelPush }
func (f *CancelPushFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeCancelPush, uint64(wire.VarintLen(f.PushID))); err != nil {
		return err
	}
	return buf.PushVarint(f.PushID)
}

func parseCancelPushFrame(body *wire.Buffer) (*CancelPushFrame, error) {
	id, err := body.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("cancel_push: cannot read push id")
	}
	return &CancelPushFrame{PushID: id}, nil
}

// SettingsFrame negotiates per-connection HTTP/3 and QPACK parameters
// (RFC 9114 §7.2.4). It must be the first frame on the control stream.
type SettingsFrame struct {
	Values map[Setting]uint64
}

// DefaultSettings returns the SETTINGS this implementation advertises:
// QPACK dynamic-table use is disabled (spec.md's "minimal HTTP/3" keeps
// QPACK to the static table only), so both the capacity and the
// blocked-streams budget are zero.
func DefaultSettings() *SettingsFrame {
	return &SettingsFrame{Values: map[Setting]uint64{
		SettingQPACKMaxTableCapacity: 0,
		SettingQPACKBlockedStreams:   0,
	}}
}

func (f *SettingsFrame) Type() FrameType { return FrameTypeSettings }

func (f *SettingsFrame) Encode(buf *wire.Buffer) error {
	length := 0
	for id, v := range f.Values {
		length += wire.VarintLen(uint64(id)) + wire.VarintLen(v)
	}
	if err := encodeFrameHeader(buf, FrameTypeSettings, uint64(length)); err != nil {
		return err
	}
	for id, v := range f.Values {
		if err := buf.PushVarint(uint64(id)); err != nil {
			return err
		}
		if err := buf.PushVarint(v); err != nil {
			return err
		}
	}
	return nil
}

// GetSetting looks up a setting identifier, returning ok=false if the
// peer did not advertise it (callers then apply the RFC-defined
// default for that identifier).
func (f *SettingsFrame) GetSetting(id Setting) (value uint64, ok bool) {
	value, ok = f.Values[id]
	return value, ok
}

func parseSettingsFrame(body *wire.Buffer) (*SettingsFrame, error) {
	out := &SettingsFrame{Values: make(map[Setting]uint64)}
	for body.Len() > 0 {
		id, err := body.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("settings: cannot read identifier")
		}
		v, err := body.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("settings: cannot read value")
		}
		out.Values[Setting(id)] = v
	}
	return out, nil
}

// PushPromiseFrame carries a QPACK-encoded field section for a
// server-initiated push (RFC 9114 §7.2.5). The codec encodes and parses
// it; the client connection treats a received PUSH_PROMISE as an
// unexpected frame and sends no CANCEL_PUSH (spec.md keeps push out of
// scope).
type PushPromiseFrame struct {
	PushID              uint64
	EncodedFieldSection []byte
}

func (f *PushPromiseFrame) Type() FrameType { return FrameTypePushPromise }
func (f *PushPromiseFrame) Encode(buf *wire.Buffer) error {
	length := wire.VarintLen(f.PushID) + len(f.EncodedFieldSection)
	if err := encodeFrameHeader(buf, FrameTypePushPromise, uint64(length)); err != nil {
		return err
	}
	if err := buf.PushVarint(f.PushID); err != nil {
		return err
	}
	return buf.PushBytes(f.EncodedFieldSection)
}

func parsePushPromiseFrame(body *wire.Buffer, total uint64) (*PushPromiseFrame, error) {
	id, err := body.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("push_promise: cannot read push id")
	}
	rest, err := body.PullBytes(body.Len())
	if err != nil {
		return nil, newErrFrameEncoding("push_promise: cannot read field section")
	}
	return &PushPromiseFrame{PushID: id, EncodedFieldSection: append([]byte(nil), rest...)}, nil
}

// GoAwayFrame tells the peer to stop opening new requests or pushes,
// identifying the lowest request stream ID (server-sent) or the lowest
// push ID (client-sent) still being processed (RFC 9114 §7.2.6).
type GoAwayFrame struct {
	StreamOrPushID uint64
}

func (f *GoAwayFrame) Type() FrameType { return FrameTypeGoAway }
func (f *GoAwayFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeGoAway, uint64(wire.VarintLen(f.StreamOrPushID))); err != nil {
		return err
	}
	return buf.PushVarint(f.StreamOrPushID)
}

func parseGoAwayFrame(body *wire.Buffer) (*GoAwayFrame, error) {
	id, err := body.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("goaway: cannot read id")
	}
	return &GoAwayFrame{StreamOrPushID: id}, nil
}

// MaxPushIDFrame raises the maximum push ID the server may use (RFC
// 9114 §7.2.7), client-to-server only.
type MaxPushIDFrame struct {
	PushID uint64
}

func (f *MaxPushIDFrame) Type() FrameType { return FrameTypeMaxPushID }
func (f *MaxPushIDFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeMaxPushID, uint64(wire.VarintLen(f.PushID))); err != nil {
		return err
	}
	return buf.PushVarint(f.PushID)
}

func parseMaxPushIDFrame(body *wire.Buffer) (*MaxPushIDFrame, error) {
	id, err := body.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("max_push_id: cannot read id")
	}
	return &MaxPushIDFrame{PushID: id}, nil
}

// DuplicatePushFrame tells a client that a already-promised push would
// also satisfy a new request (RFC 9114 §7.2.8).
type DuplicatePushFrame struct {
	PushID uint64
}

func (f *DuplicatePushFrame) Type() FrameType { return FrameTypeDuplicatePush }
func (f *DuplicatePushFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, FrameTypeDuplicatePush, uint64(wire.VarintLen(f.PushID))); err != nil {
		return err
	}
	return buf.PushVarint(f.PushID)
}

func parseDuplicatePushFrame(body *wire.Buffer) (*DuplicatePushFrame, error) {
	id, err := body.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("duplicate_push: cannot read id")
	}
	return &DuplicatePushFrame{PushID: id}, nil
}

// UnknownFrame preserves an unrecognized frame's type and payload so
// that callers can (per RFC 9114 §9) ignore it without losing framing
// sync on the stream.
type UnknownFrame struct {
	FrameType FrameType
	Payload   []byte
}

func (f *UnknownFrame) Type() FrameType { return f.FrameType }
func (f *UnknownFrame) Encode(buf *wire.Buffer) error {
	if err := encodeFrameHeader(buf, f.FrameType, uint64(len(f.Payload))); err != nil {
		return err
	}
	return buf.PushBytes(f.Payload)
}
