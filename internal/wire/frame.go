package wire

//
// Frame codec (spec.md §3 "Frame", §4.4)
//

import (
	"fmt"
)

// FrameType is the varint frame-type tag (RFC 9000 §19).
type FrameType uint64

const (
	FrameTypePadding             FrameType = 0x00
	FrameTypePing                FrameType = 0x01
	FrameTypeAck                FrameType = 0x02
	FrameTypeAckECN              FrameType = 0x03
	FrameTypeResetStream         FrameType = 0x04
	FrameTypeStopSending         FrameType = 0x05
	FrameTypeCrypto              FrameType = 0x06
	FrameTypeNewToken            FrameType = 0x07
	frameTypeStreamBase          FrameType = 0x08 // 0x08-0x0f, bits below
	FrameTypeMaxData             FrameType = 0x10
	FrameTypeMaxStreamData       FrameType = 0x11
	FrameTypeMaxStreamsBidi      FrameType = 0x12
	FrameTypeMaxStreamsUni       FrameType = 0x13
	FrameTypeDataBlocked         FrameType = 0x14
	FrameTypeStreamDataBlocked   FrameType = 0x15
	FrameTypeStreamsBlockedBidi  FrameType = 0x16
	FrameTypeStreamsBlockedUni   FrameType = 0x17
	FrameTypeNewConnectionID     FrameType = 0x18
	FrameTypeRetireConnectionID  FrameType = 0x19
	FrameTypePathChallenge       FrameType = 0x1a
	FrameTypePathResponse        FrameType = 0x1b
	FrameTypeConnectionClose     FrameType = 0x1c
	FrameTypeConnectionCloseApp  FrameType = 0x1d
	FrameTypeHandshakeDone       FrameType = 0x1e
)

// streamFrameBits decodes the STREAM frame type's low 3 bits.
const (
	streamBitFin = 0x01
	streamBitLen = 0x02
	streamBitOff = 0x04
)

// Frame is any decoded QUIC frame.
type Frame interface {
	Type() FrameType
	Encode(buf *Buffer) error
}

// ErrFrameEncoding corresponds to the FRAME_ENCODING_ERROR transport
// error (spec.md §7): a frame body that is syntactically malformed.
type ErrFrameEncoding struct {
	Reason string
}

func (e *ErrFrameEncoding) Error() string {
	return fmt.Sprintf("wire: frame encoding error: %s", e.Reason)
}

func newErrFrameEncoding(reason string) error {
	return &ErrFrameEncoding{Reason: reason}
}

// ErrUnknownFrameType corresponds to PROTOCOL_VIOLATION on an
// unrecognized frame type tag.
type ErrUnknownFrameType struct {
	Type FrameType
}

func (e *ErrUnknownFrameType) Error() string {
	return fmt.Sprintf("wire: unknown frame type 0x%x", uint64(e.Type))
}

// ParseFrame reads one frame from buf, advancing the cursor past it.
func ParseFrame(buf *Buffer) (Frame, error) {
	t, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("cannot read frame type")
	}
	ft := FrameType(t)

	switch {
	case ft == FrameTypePadding:
		return &PaddingFrame{}, nil
	case ft == FrameTypePing:
		return &PingFrame{}, nil
	case ft == FrameTypeAck || ft == FrameTypeAckECN:
		return parseAckFrame(buf, ft == FrameTypeAckECN)
	case ft == FrameTypeResetStream:
		return parseResetStreamFrame(buf)
	case ft == FrameTypeStopSending:
		return parseStopSendingFrame(buf)
	case ft == FrameTypeCrypto:
		return parseCryptoFrame(buf)
	case ft == FrameTypeNewToken:
		return parseNewTokenFrame(buf)
	case ft >= frameTypeStreamBase && ft <= 0x0f:
		return parseStreamFrame(buf, ft)
	case ft == FrameTypeMaxData:
		return parseMaxDataFrame(buf)
	case ft == FrameTypeMaxStreamData:
		return parseMaxStreamDataFrame(buf)
	case ft == FrameTypeMaxStreamsBidi || ft == FrameTypeMaxStreamsUni:
		return parseMaxStreamsFrame(buf, ft == FrameTypeMaxStreamsBidi)
	case ft == FrameTypeDataBlocked:
		return parseDataBlockedFrame(buf)
	case ft == FrameTypeStreamDataBlocked:
		return parseStreamDataBlockedFrame(buf)
	case ft == FrameTypeStreamsBlockedBidi || ft == FrameTypeStreamsBlockedUni:
		return parseStreamsBlockedFrame(buf, ft == FrameTypeStreamsBlockedBidi)
	case ft == FrameTypeNewConnectionID:
		return parseNewConnectionIDFrame(buf)
	case ft == FrameTypeRetireConnectionID:
		return parseRetireConnectionIDFrame(buf)
	case ft == FrameTypePathChallenge:
		return parsePathChallengeFrame(buf)
	case ft == FrameTypePathResponse:
		return parsePathResponseFrame(buf)
	case ft == FrameTypeConnectionClose || ft == FrameTypeConnectionCloseApp:
		return parseConnectionCloseFrame(buf, ft == FrameTypeConnectionCloseApp)
	case ft == FrameTypeHandshakeDone:
		return &HandshakeDoneFrame{}, nil
	default:
		return nil, &ErrUnknownFrameType{Type: ft}
	}
}

// --- PADDING / PING ---

type PaddingFrame struct{}

func (f *PaddingFrame) Type() FrameType { return FrameTypePadding }
func (f *PaddingFrame) Encode(buf *Buffer) error {
	return buf.PushVarint(uint64(FrameTypePadding))
}

type PingFrame struct{}

func (f *PingFrame) Type() FrameType { return FrameTypePing }
func (f *PingFrame) Encode(buf *Buffer) error {
	return buf.PushVarint(uint64(FrameTypePing))
}

// --- ACK ---

// AckRange is an inclusive [Smallest, Largest] acknowledged range.
type AckRange struct {
	Smallest int64
	Largest  int64
}

type AckFrame struct {
	LargestAcked int64
	AckDelay     uint64 // microseconds, already shifted by ack_delay_exponent
	Ranges       []AckRange
	ECT0, ECT1, ECNCE uint64
	ECN bool
}

func (f *AckFrame) Type() FrameType {
	if f.ECN {
		return FrameTypeAckECN
	}
	return FrameTypeAck
}

func (f *AckFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(f.Type())); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.LargestAcked)); err != nil {
		return err
	}
	if err := buf.PushVarint(f.AckDelay); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(len(f.Ranges) - 1)); err != nil {
		return err
	}
	first := f.Ranges[0]
	if err := buf.PushVarint(uint64(first.Largest - first.Smallest)); err != nil {
		return err
	}
	prevSmallest := first.Smallest
	for _, r := range f.Ranges[1:] {
		gap := prevSmallest - r.Largest - 2
		if err := buf.PushVarint(uint64(gap)); err != nil {
			return err
		}
		if err := buf.PushVarint(uint64(r.Largest - r.Smallest)); err != nil {
			return err
		}
		prevSmallest = r.Smallest
	}
	if f.ECN {
		if err := buf.PushVarint(f.ECT0); err != nil {
			return err
		}
		if err := buf.PushVarint(f.ECT1); err != nil {
			return err
		}
		if err := buf.PushVarint(f.ECNCE); err != nil {
			return err
		}
	}
	return nil
}

func parseAckFrame(buf *Buffer, ecn bool) (*AckFrame, error) {
	largest, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("ack: cannot read largest acked")
	}
	delay, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("ack: cannot read ack delay")
	}
	rangeCount, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("ack: cannot read range count")
	}
	firstRangeLen, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("ack: cannot read first ack range")
	}
	f := &AckFrame{LargestAcked: int64(largest), AckDelay: delay, ECN: ecn}
	smallest := int64(largest) - int64(firstRangeLen)
	f.Ranges = append(f.Ranges, AckRange{Smallest: smallest, Largest: int64(largest)})

	for i := uint64(0); i < rangeCount; i++ {
		gap, err := buf.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("ack: cannot read gap")
		}
		rangeLen, err := buf.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("ack: cannot read ack range length")
		}
		largestOfNext := smallest - int64(gap) - 2
		smallestOfNext := largestOfNext - int64(rangeLen)
		f.Ranges = append(f.Ranges, AckRange{Smallest: smallestOfNext, Largest: largestOfNext})
		smallest = smallestOfNext
	}

	if ecn {
		if f.ECT0, err = buf.PullVarint(); err != nil {
			return nil, newErrFrameEncoding("ack: cannot read ECT0 count")
		}
		if f.ECT1, err = buf.PullVarint(); err != nil {
			return nil, newErrFrameEncoding("ack: cannot read ECT1 count")
		}
		if f.ECNCE, err = buf.PullVarint(); err != nil {
			return nil, newErrFrameEncoding("ack: cannot read ECN-CE count")
		}
	}
	return f, nil
}

// --- RESET_STREAM / STOP_SENDING ---

type ResetStreamFrame struct {
	StreamID  int64
	ErrorCode uint64
	FinalSize uint64
}

func (f *ResetStreamFrame) Type() FrameType { return FrameTypeResetStream }
func (f *ResetStreamFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeResetStream)); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.StreamID)); err != nil {
		return err
	}
	if err := buf.PushVarint(f.ErrorCode); err != nil {
		return err
	}
	return buf.PushVarint(f.FinalSize)
}

func parseResetStreamFrame(buf *Buffer) (*ResetStreamFrame, error) {
	id, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("reset_stream: cannot read stream id")
	}
	code, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("reset_stream: cannot read error code")
	}
	size, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("reset_stream: cannot read final size")
	}
	return &ResetStreamFrame{StreamID: int64(id), ErrorCode: code, FinalSize: size}, nil
}

type StopSendingFrame struct {
	StreamID  int64
	ErrorCode uint64
}

func (f *StopSendingFrame) Type() FrameType { return FrameTypeStopSending }
func (f *StopSendingFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeStopSending)); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.StreamID)); err != nil {
		return err
	}
	return buf.PushVarint(f.ErrorCode)
}

func parseStopSendingFrame(buf *Buffer) (*StopSendingFrame, error) {
	id, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("stop_sending: cannot read stream id")
	}
	code, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("stop_sending: cannot read error code")
	}
	return &StopSendingFrame{StreamID: int64(id), ErrorCode: code}, nil
}

// --- CRYPTO / NEW_TOKEN ---

type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (f *CryptoFrame) Type() FrameType { return FrameTypeCrypto }
func (f *CryptoFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeCrypto)); err != nil {
		return err
	}
	if err := buf.PushVarint(f.Offset); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(len(f.Data))); err != nil {
		return err
	}
	return buf.PushBytes(f.Data)
}

func parseCryptoFrame(buf *Buffer) (*CryptoFrame, error) {
	offset, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("crypto: cannot read offset")
	}
	length, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("crypto: cannot read length")
	}
	data, err := buf.PullBytes(int(length))
	if err != nil {
		return nil, newErrFrameEncoding("crypto: cannot read data")
	}
	return &CryptoFrame{Offset: offset, Data: append([]byte(nil), data...)}, nil
}

type NewTokenFrame struct {
	Token []byte
}

func (f *NewTokenFrame) Type() FrameType { return FrameTypeNewToken }
func (f *NewTokenFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeNewToken)); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(len(f.Token))); err != nil {
		return err
	}
	return buf.PushBytes(f.Token)
}

func parseNewTokenFrame(buf *Buffer) (*NewTokenFrame, error) {
	length, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("new_token: cannot read length")
	}
	token, err := buf.PullBytes(int(length))
	if err != nil {
		return nil, newErrFrameEncoding("new_token: cannot read token")
	}
	return &NewTokenFrame{Token: append([]byte(nil), token...)}, nil
}

// --- STREAM ---

type StreamFrame struct {
	StreamID int64
	Offset   uint64
	Data     []byte
	Fin      bool
}

func (f *StreamFrame) Type() FrameType {
	t := frameTypeStreamBase | streamBitLen
	if f.Offset != 0 {
		t |= streamBitOff
	}
	if f.Fin {
		t |= streamBitFin
	}
	return t
}

func (f *StreamFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(f.Type())); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.StreamID)); err != nil {
		return err
	}
	if f.Offset != 0 {
		if err := buf.PushVarint(f.Offset); err != nil {
			return err
		}
	}
	if err := buf.PushVarint(uint64(len(f.Data))); err != nil {
		return err
	}
	return buf.PushBytes(f.Data)
}

func parseStreamFrame(buf *Buffer, ft FrameType) (*StreamFrame, error) {
	bits := uint8(ft) & 0x07
	id, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("stream: cannot read stream id")
	}
	f := &StreamFrame{StreamID: int64(id), Fin: bits&streamBitFin != 0}
	if bits&streamBitOff != 0 {
		off, err := buf.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("stream: cannot read offset")
		}
		f.Offset = off
	}
	var length uint64
	if bits&streamBitLen != 0 {
		length, err = buf.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("stream: cannot read length")
		}
	} else {
		length = uint64(buf.Len())
	}
	data, err := buf.PullBytes(int(length))
	if err != nil {
		return nil, newErrFrameEncoding("stream: cannot read data")
	}
	f.Data = append([]byte(nil), data...)
	return f, nil
}

// --- flow control frames ---

type MaxDataFrame struct{ MaximumData uint64 }

func (f *MaxDataFrame) Type() FrameType { return FrameTypeMaxData }
func (f *MaxDataFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeMaxData)); err != nil {
		return err
	}
	return buf.PushVarint(f.MaximumData)
}
func parseMaxDataFrame(buf *Buffer) (*MaxDataFrame, error) {
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("max_data: cannot read maximum data")
	}
	return &MaxDataFrame{MaximumData: v}, nil
}

type MaxStreamDataFrame struct {
	StreamID    int64
	MaximumData uint64
}

func (f *MaxStreamDataFrame) Type() FrameType { return FrameTypeMaxStreamData }
func (f *MaxStreamDataFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeMaxStreamData)); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.StreamID)); err != nil {
		return err
	}
	return buf.PushVarint(f.MaximumData)
}
func parseMaxStreamDataFrame(buf *Buffer) (*MaxStreamDataFrame, error) {
	id, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("max_stream_data: cannot read stream id")
	}
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("max_stream_data: cannot read maximum data")
	}
	return &MaxStreamDataFrame{StreamID: int64(id), MaximumData: v}, nil
}

type MaxStreamsFrame struct {
	Bidirectional   bool
	MaximumStreams uint64
}

func (f *MaxStreamsFrame) Type() FrameType {
	if f.Bidirectional {
		return FrameTypeMaxStreamsBidi
	}
	return FrameTypeMaxStreamsUni
}
func (f *MaxStreamsFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(f.Type())); err != nil {
		return err
	}
	return buf.PushVarint(f.MaximumStreams)
}
func parseMaxStreamsFrame(buf *Buffer, bidi bool) (*MaxStreamsFrame, error) {
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("max_streams: cannot read maximum streams")
	}
	return &MaxStreamsFrame{Bidirectional: bidi, MaximumStreams: v}, nil
}

type DataBlockedFrame struct{ MaximumData uint64 }

func (f *DataBlockedFrame) Type() FrameType { return FrameTypeDataBlocked }
func (f *DataBlockedFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeDataBlocked)); err != nil {
		return err
	}
	return buf.PushVarint(f.MaximumData)
}
func parseDataBlockedFrame(buf *Buffer) (*DataBlockedFrame, error) {
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("data_blocked: cannot read maximum data")
	}
	return &DataBlockedFrame{MaximumData: v}, nil
}

type StreamDataBlockedFrame struct {
	StreamID    int64
	MaximumData uint64
}

func (f *StreamDataBlockedFrame) Type() FrameType { return FrameTypeStreamDataBlocked }
func (f *StreamDataBlockedFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeStreamDataBlocked)); err != nil {
		return err
	}
	if err := buf.PushVarint(uint64(f.StreamID)); err != nil {
		return err
	}
	return buf.PushVarint(f.MaximumData)
}
func parseStreamDataBlockedFrame(buf *Buffer) (*StreamDataBlockedFrame, error) {
	id, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("stream_data_blocked: cannot read stream id")
	}
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("stream_data_blocked: cannot read maximum data")
	}
	return &StreamDataBlockedFrame{StreamID: int64(id), MaximumData: v}, nil
}

type StreamsBlockedFrame struct {
	Bidirectional bool
	StreamLimit   uint64
}

func (f *StreamsBlockedFrame) Type() FrameType {
	if f.Bidirectional {
		return FrameTypeStreamsBlockedBidi
	}
	return FrameTypeStreamsBlockedUni
}
func (f *StreamsBlockedFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(f.Type())); err != nil {
		return err
	}
	return buf.PushVarint(f.StreamLimit)
}
func parseStreamsBlockedFrame(buf *Buffer, bidi bool) (*StreamsBlockedFrame, error) {
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("streams_blocked: cannot read stream limit")
	}
	return &StreamsBlockedFrame{Bidirectional: bidi, StreamLimit: v}, nil
}

// --- connection ID management ---

type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        ConnectionID
	StatelessResetToken [16]byte
}

func (f *NewConnectionIDFrame) Type() FrameType { return FrameTypeNewConnectionID }
func (f *NewConnectionIDFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeNewConnectionID)); err != nil {
		return err
	}
	if err := buf.PushVarint(f.SequenceNumber); err != nil {
		return err
	}
	if err := buf.PushVarint(f.RetirePriorTo); err != nil {
		return err
	}
	if err := buf.PushUint8(uint8(len(f.ConnectionID))); err != nil {
		return err
	}
	if err := buf.PushBytes(f.ConnectionID); err != nil {
		return err
	}
	return buf.PushBytes(f.StatelessResetToken[:])
}
func parseNewConnectionIDFrame(buf *Buffer) (*NewConnectionIDFrame, error) {
	seq, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("new_connection_id: cannot read sequence number")
	}
	retire, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("new_connection_id: cannot read retire prior to")
	}
	cidLen, err := buf.PullUint8()
	if err != nil {
		return nil, newErrFrameEncoding("new_connection_id: cannot read cid length")
	}
	cid, err := buf.PullBytes(int(cidLen))
	if err != nil {
		return nil, newErrFrameEncoding("new_connection_id: cannot read cid")
	}
	token, err := buf.PullBytes(16)
	if err != nil {
		return nil, newErrFrameEncoding("new_connection_id: cannot read stateless reset token")
	}
	f := &NewConnectionIDFrame{
		SequenceNumber: seq,
		RetirePriorTo:  retire,
		ConnectionID:   append(ConnectionID(nil), cid...),
	}
	copy(f.StatelessResetToken[:], token)
	return f, nil
}

type RetireConnectionIDFrame struct{ SequenceNumber uint64 }

func (f *RetireConnectionIDFrame) Type() FrameType { return FrameTypeRetireConnectionID }
func (f *RetireConnectionIDFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypeRetireConnectionID)); err != nil {
		return err
	}
	return buf.PushVarint(f.SequenceNumber)
}
func parseRetireConnectionIDFrame(buf *Buffer) (*RetireConnectionIDFrame, error) {
	v, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("retire_connection_id: cannot read sequence number")
	}
	return &RetireConnectionIDFrame{SequenceNumber: v}, nil
}

// --- path validation ---

type PathChallengeFrame struct{ Data [8]byte }

func (f *PathChallengeFrame) Type() FrameType { return FrameTypePathChallenge }
func (f *PathChallengeFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypePathChallenge)); err != nil {
		return err
	}
	return buf.PushBytes(f.Data[:])
}
func parsePathChallengeFrame(buf *Buffer) (*PathChallengeFrame, error) {
	data, err := buf.PullBytes(8)
	if err != nil {
		return nil, newErrFrameEncoding("path_challenge: cannot read data")
	}
	f := &PathChallengeFrame{}
	copy(f.Data[:], data)
	return f, nil
}

type PathResponseFrame struct{ Data [8]byte }

func (f *PathResponseFrame) Type() FrameType { return FrameTypePathResponse }
func (f *PathResponseFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(FrameTypePathResponse)); err != nil {
		return err
	}
	return buf.PushBytes(f.Data[:])
}
func parsePathResponseFrame(buf *Buffer) (*PathResponseFrame, error) {
	data, err := buf.PullBytes(8)
	if err != nil {
		return nil, newErrFrameEncoding("path_response: cannot read data")
	}
	f := &PathResponseFrame{}
	copy(f.Data[:], data)
	return f, nil
}

// --- close / handshake done ---

type ConnectionCloseFrame struct {
	IsApplicationError bool
	ErrorCode          uint64
	FrameType_         uint64 // the frame type that triggered the error; 0 for application-level
	ReasonPhrase       string
}

func (f *ConnectionCloseFrame) Type() FrameType {
	if f.IsApplicationError {
		return FrameTypeConnectionCloseApp
	}
	return FrameTypeConnectionClose
}
func (f *ConnectionCloseFrame) Encode(buf *Buffer) error {
	if err := buf.PushVarint(uint64(f.Type())); err != nil {
		return err
	}
	if err := buf.PushVarint(f.ErrorCode); err != nil {
		return err
	}
	if !f.IsApplicationError {
		if err := buf.PushVarint(f.FrameType_); err != nil {
			return err
		}
	}
	reason := []byte(f.ReasonPhrase)
	if err := buf.PushVarint(uint64(len(reason))); err != nil {
		return err
	}
	return buf.PushBytes(reason)
}
func parseConnectionCloseFrame(buf *Buffer, isApp bool) (*ConnectionCloseFrame, error) {
	code, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("connection_close: cannot read error code")
	}
	f := &ConnectionCloseFrame{IsApplicationError: isApp, ErrorCode: code}
	if !isApp {
		ft, err := buf.PullVarint()
		if err != nil {
			return nil, newErrFrameEncoding("connection_close: cannot read frame type")
		}
		f.FrameType_ = ft
	}
	length, err := buf.PullVarint()
	if err != nil {
		return nil, newErrFrameEncoding("connection_close: cannot read reason length")
	}
	reason, err := buf.PullBytes(int(length))
	if err != nil {
		return nil, newErrFrameEncoding("connection_close: cannot read reason phrase")
	}
	f.ReasonPhrase = string(reason)
	return f, nil
}

type HandshakeDoneFrame struct{}

func (f *HandshakeDoneFrame) Type() FrameType { return FrameTypeHandshakeDone }
func (f *HandshakeDoneFrame) Encode(buf *Buffer) error {
	return buf.PushVarint(uint64(FrameTypeHandshakeDone))
}
