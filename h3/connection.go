package h3

//
// HTTP/3 connection (spec.md §4.7 "Minimal HTTP/3"; supplemented per
// SPEC_FULL.md §5 with GOAWAY/MAX_PUSH_ID handling grounded on
// aioquic's h3.connection.H3Connection, which tracks unidirectional
// stream roles the same way: a one-byte stream-type prefix identifies
// the control stream, then SETTINGS must be its first frame)
//

import (
	"fmt"

	"github.com/bassosimone/qcore/internal/wire"
	"github.com/bassosimone/qcore/qcore"
)

// isUnidirectionalStreamID reports whether id's low bits mark it as
// unidirectional (RFC 9000 §2.1: bit 0x2 of the stream ID).
func isUnidirectionalStreamID(id uint64) bool {
	return id&0x2 != 0
}

// tryParseVarint mirrors [TryParseFrame]'s "not enough data yet"
// contract for the single leading stream-type varint RFC 9114 §3.2
// prefixes every unidirectional stream with.
func tryParseVarint(data []byte) (value uint64, consumed int, ok bool, err error) {
	buf := wire.NewBuffer(data)
	v, verr := buf.PullVarint()
	if verr != nil {
		return 0, 0, false, nil
	}
	return v, buf.Pos(), true, nil
}

// Stream types identifying the role of a unidirectional stream (RFC
// 9114 §3.2).
const (
	StreamTypeControl      = 0x00
	StreamTypePush         = 0x01
	StreamTypeQPACKEncoder = 0x02
	StreamTypeQPACKDecoder = 0x03
)

// ErrUnexpectedFrame corresponds to H3_FRAME_UNEXPECTED (RFC 9114
// §8.1): a frame arrived on a stream type that may never carry it
// (e.g. DATA on the control stream, or a second SETTINGS frame).
type ErrUnexpectedFrame struct {
	Reason string
}

func (e *ErrUnexpectedFrame) Error() string {
	return fmt.Sprintf("h3: unexpected frame: %s", e.Reason)
}

func newErrUnexpectedFrame(reason string) error {
	return &ErrUnexpectedFrame{Reason: reason}
}

// EventType discriminates the concrete type held by an [Event].
type EventType int

const (
	EventSettingsReceived EventType = iota
	EventHeadersReceived
	EventDataReceived
	EventGoAwayReceived
	EventMaxPushIDReceived
)

// Event is the tagged union of events this layer surfaces to its
// owner, mirroring qcore's own Event convention (qcore/events.go):
// exactly one typed field is populated, selected by Type.
type Event struct {
	Type EventType

	SettingsReceived *SettingsReceivedEvent
	HeadersReceived  *HeadersReceivedEvent
	DataReceived     *DataReceivedEvent
	GoAwayReceived   *GoAwayReceivedEvent
	MaxPushIDReceived *MaxPushIDReceivedEvent
}

// SettingsReceivedEvent reports the peer's control-stream SETTINGS
// frame, which RFC 9114 §7.2.4 requires to be the first frame sent on
// that stream.
type SettingsReceivedEvent struct {
	Settings *SettingsFrame
}

// HeadersReceivedEvent reports a decoded field section for a request
// or response on streamID.
type HeadersReceivedEvent struct {
	StreamID  uint64
	Headers   []Header
	EndStream bool
}

// DataReceivedEvent reports a chunk of body bytes on streamID.
type DataReceivedEvent struct {
	StreamID  uint64
	Data      []byte
	EndStream bool
}

// GoAwayReceivedEvent reports the peer's GOAWAY (supplemented per
// SPEC_FULL.md §5: surfaced as an event rather than treated as a
// protocol violation, since an HTTP/3 endpoint initiating graceful
// shutdown is expected, routine behavior).
type GoAwayReceivedEvent struct {
	StreamOrPushID uint64
}

// MaxPushIDReceivedEvent reports the client raising the push ID limit.
// Since this implementation never pushes, it is recorded only for
// diagnostic visibility.
type MaxPushIDReceivedEvent struct {
	PushID uint64
}

// streamRole tracks what a unidirectional stream turned out to be
// once its one-byte type prefix has been read, or, for bidirectional
// request streams, that it carries HEADERS/DATA frames directly.
type streamRole int

const (
	roleUnknown streamRole = iota
	roleControl
	roleRequest
	roleOther // push, QPACK encoder/decoder, or any future stream type: frames are ignored
)

// streamState is the per-stream reassembly state: unconsumed bytes
// waiting for a complete frame, plus the stream's identified role.
type streamState struct {
	role    streamRole
	typed   bool // whether the leading stream-type varint has been consumed
	pending []byte
}

// Connection drives the HTTP/3 mapping on top of one qcore.Connection:
// it owns the local control stream, parses the peer's, and turns
// HEADERS/DATA/GOAWAY/MAX_PUSH_ID frames into [Event] values for the
// application to drain with NextEvent, the same pull model
// qcore.Connection itself uses (spec.md §5's "events ... drained by
// next_event()").
type Connection struct {
	conn    *qcore.Connection
	isClient bool
	codec   HeaderCodec

	localControlStreamID uint64
	controlStreamOpen    bool

	streams map[uint64]*streamState

	peerSettings *SettingsFrame

	events []Event
}

// NewConnection wraps conn with the HTTP/3 mapping. conn must already
// have completed (or be completing) its QUIC handshake; Start opens
// the local control stream and sends SETTINGS.
func NewConnection(conn *qcore.Connection, isClient bool) *Connection {
	return &Connection{
		conn:     conn,
		isClient: isClient,
		codec:    NewHeaderCodec(),
		streams:  make(map[uint64]*streamState),
	}
}

// Start opens this endpoint's unidirectional control stream and sends
// its SETTINGS frame, which RFC 9114 §7.2.4 requires be the very first
// frame on that stream.
func (c *Connection) Start() error {
	if c.controlStreamOpen {
		return nil
	}
	id := c.conn.GetNextAvailableStreamID(true)
	c.localControlStreamID = id
	c.controlStreamOpen = true

	settings := DefaultSettings()
	settingsLen := 0
	for sid, v := range settings.Values {
		settingsLen += wire.VarintLen(uint64(sid)) + wire.VarintLen(v)
	}
	buf := wire.NewBufferCapacity(wire.VarintLen(StreamTypeControl) + 16 + settingsLen)
	if err := buf.PushVarint(StreamTypeControl); err != nil {
		return err
	}
	if err := settings.Encode(buf); err != nil {
		return err
	}
	return c.conn.SendStreamData(id, buf.Bytes(), false)
}

// SendHeaders QPACK-encodes headers and sends them as a HEADERS frame
// on streamID, opening it implicitly if this is its first use.
func (c *Connection) SendHeaders(streamID uint64, headers []Header, endStream bool) error {
	encoded, err := c.codec.Encode(headers)
	if err != nil {
		return err
	}
	buf := wire.NewBufferCapacity(16 + len(encoded))
	if err := (&HeadersFrame{EncodedFieldSection: encoded}).Encode(buf); err != nil {
		return err
	}
	return c.conn.SendStreamData(streamID, buf.Bytes(), endStream)
}

// SendData sends a DATA frame carrying data on streamID.
func (c *Connection) SendData(streamID uint64, data []byte, endStream bool) error {
	buf := wire.NewBufferCapacity(16 + len(data))
	if err := (&DataFrame{Data: data}).Encode(buf); err != nil {
		return err
	}
	return c.conn.SendStreamData(streamID, buf.Bytes(), endStream)
}

// SendGoAway announces graceful shutdown on the local control stream.
func (c *Connection) SendGoAway(streamOrPushID uint64) error {
	if !c.controlStreamOpen {
		if err := c.Start(); err != nil {
			return err
		}
	}
	buf := wire.NewBufferCapacity(24)
	if err := (&GoAwayFrame{StreamOrPushID: streamOrPushID}).Encode(buf); err != nil {
		return err
	}
	return c.conn.SendStreamData(c.localControlStreamID, buf.Bytes(), false)
}

// SendMaxPushID raises the push ID limit the server may use. Clients
// only.
func (c *Connection) SendMaxPushID(pushID uint64) error {
	if !c.controlStreamOpen {
		if err := c.Start(); err != nil {
			return err
		}
	}
	buf := wire.NewBufferCapacity(24)
	if err := (&MaxPushIDFrame{PushID: pushID}).Encode(buf); err != nil {
		return err
	}
	return c.conn.SendStreamData(c.localControlStreamID, buf.Bytes(), false)
}

// OnStreamData feeds newly received bytes for streamID into the
// reassembler, to be called once per qcore.StreamDataReceivedEvent the
// application pulls off the underlying connection. Complete frames are
// turned into queued Events as soon as they are available.
func (c *Connection) OnStreamData(streamID uint64, data []byte, endStream bool) error {
	st, ok := c.streams[streamID]
	if !ok {
		st = &streamState{role: roleUnknown}
		if !isUnidirectionalStreamID(streamID) {
			st.role = roleRequest
			st.typed = true
		}
		c.streams[streamID] = st
	}
	st.pending = append(st.pending, data...)

	if !st.typed {
		t, consumed, ok, err := tryParseVarint(st.pending)
		if err != nil {
			return err
		}
		if !ok {
			return nil // stream type prefix not fully arrived yet
		}
		st.pending = st.pending[consumed:]
		st.typed = true
		switch t {
		case StreamTypeControl:
			st.role = roleControl
		default:
			st.role = roleOther
		}
	}

	for {
		frame, consumed, ok, err := TryParseFrame(st.pending)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		st.pending = st.pending[consumed:]
		if err := c.dispatchFrame(streamID, st, frame, endStream && len(st.pending) == 0); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) dispatchFrame(streamID uint64, st *streamState, frame Frame, endStream bool) error {
	switch st.role {
	case roleControl:
		return c.dispatchControlFrame(streamID, frame)
	case roleRequest:
		return c.dispatchRequestFrame(streamID, frame, endStream)
	default:
		return nil // push / QPACK streams: frames ignored by this minimal mapping
	}
}

func (c *Connection) dispatchControlFrame(streamID uint64, frame Frame) error {
	if c.peerSettings == nil {
		f, isSettings := frame.(*SettingsFrame)
		if !isSettings {
			return newErrUnexpectedFrame("first control-stream frame was not SETTINGS")
		}
		c.peerSettings = f
		c.pushEvent(Event{Type: EventSettingsReceived, SettingsReceived: &SettingsReceivedEvent{Settings: f}})
		return nil
	}

	switch f := frame.(type) {
	case *SettingsFrame:
		return newErrUnexpectedFrame("duplicate SETTINGS on control stream")
	case *GoAwayFrame:
		c.pushEvent(Event{Type: EventGoAwayReceived, GoAwayReceived: &GoAwayReceivedEvent{StreamOrPushID: f.StreamOrPushID}})
	case *MaxPushIDFrame:
		c.pushEvent(Event{Type: EventMaxPushIDReceived, MaxPushIDReceived: &MaxPushIDReceivedEvent{PushID: f.PushID}})
	case *CancelPushFrame, *DuplicatePushFrame:
		// push is out of scope for this minimal mapping; acknowledged only
		// implicitly by ignoring it.
	case *DataFrame, *HeadersFrame, *PushPromiseFrame:
		return newErrUnexpectedFrame("request-only frame on control stream")
	case *UnknownFrame:
		// RFC 9114 §9: unknown frame types on the control stream are ignored.
	}
	return nil
}

func (c *Connection) dispatchRequestFrame(streamID uint64, frame Frame, endStream bool) error {
	switch f := frame.(type) {
	case *HeadersFrame:
		headers, err := c.codec.Decode(f.EncodedFieldSection)
		if err != nil {
			return err
		}
		c.pushEvent(Event{Type: EventHeadersReceived, HeadersReceived: &HeadersReceivedEvent{
			StreamID: streamID, Headers: headers, EndStream: endStream,
		}})
	case *DataFrame:
		c.pushEvent(Event{Type: EventDataReceived, DataReceived: &DataReceivedEvent{
			StreamID: streamID, Data: f.Data, EndStream: endStream,
		}})
	case *UnknownFrame:
		// ignored per RFC 9114 §9
	default:
		return newErrUnexpectedFrame("control-only frame on request stream")
	}
	return nil
}

func (c *Connection) pushEvent(e Event) {
	c.events = append(c.events, e)
}

// NextEvent pops the oldest pending event.
func (c *Connection) NextEvent() (Event, bool) {
	if len(c.events) == 0 {
		return Event{}, false
	}
	e := c.events[0]
	c.events = c.events[1:]
	return e, true
}
