// Package wire implements the QUIC wire encodings: the fixed- and
// variable-length integer codec, long/short packet headers, version
// negotiation, retry packets, and the frame set of RFC 9000 drafts 19/20.
package wire

//
// Buffer codec
//

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"
)

// ErrBufferRead is returned when a Pull operation runs past the end of
// the readable region.
var ErrBufferRead = errors.New("wire: buffer read error")

// ErrBufferWrite is returned when a Push operation runs past the capacity
// of the writable region.
var ErrBufferWrite = errors.New("wire: buffer write error")

func newErrBufferRead(what string) error {
	return fmt.Errorf("%w: %s", ErrBufferRead, what)
}

func newErrBufferWrite(what string) error {
	return fmt.Errorf("%w: %s", ErrBufferWrite, what)
}

// Buffer is a cursor over a byte region. The zero value is not ready for
// use; construct one with [NewBuffer] (to read existing data) or
// [NewBufferCapacity] (to write into a fresh, fixed-capacity region).
//
// A single Buffer can be pushed into and pulled from over the same
// backing array. The connection does not reuse one across packets: each
// packet's frames are encoded into a fresh Buffer, and lost data is
// re-sent from the stream and CRYPTO send buffers, not re-read.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer wraps an existing byte slice for reading with Pull*.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewBufferCapacity allocates a Buffer with the given capacity for
// writing with Push*.
func NewBufferCapacity(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.pos
}

// Pos returns the current cursor offset.
func (b *Buffer) Pos() int {
	return b.pos
}

// Seek repositions the cursor to an absolute offset.
func (b *Buffer) Seek(pos int) {
	b.pos = pos
}

// Cap returns the total capacity of the underlying storage.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Eof reports whether the cursor has consumed all readable bytes.
func (b *Buffer) Eof() bool {
	return b.pos >= len(b.data)
}

// Bytes returns the bytes written so far (from offset 0 up to the cursor).
func (b *Buffer) Bytes() []byte {
	return b.data[:b.pos]
}

// Remainder returns the unread tail, without advancing the cursor.
func (b *Buffer) Remainder() []byte {
	return b.data[b.pos:]
}

func (b *Buffer) pull(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, newErrBufferRead("short read")
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

func (b *Buffer) push(n int) ([]byte, error) {
	if len(b.data)-b.pos < n {
		return nil, newErrBufferWrite("short write")
	}
	// three-index slice: bounds capacity to exactly n so that append-based
	// writers (PushVarint) cannot spill into the unwritten remainder.
	out := b.data[b.pos : b.pos+n : b.pos+n]
	b.pos += n
	return out, nil
}

// PullUint8 reads one byte.
func (b *Buffer) PullUint8() (uint8, error) {
	raw, err := b.pull(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// PullUint16 reads a big-endian 16-bit integer.
func (b *Buffer) PullUint16() (uint16, error) {
	raw, err := b.pull(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw), nil
}

// PullUint32 reads a big-endian 32-bit integer.
func (b *Buffer) PullUint32() (uint32, error) {
	raw, err := b.pull(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

// PullUint64 reads a big-endian 64-bit integer.
func (b *Buffer) PullUint64() (uint64, error) {
	raw, err := b.pull(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// PullBytes reads n raw bytes.
func (b *Buffer) PullBytes(n int) ([]byte, error) {
	return b.pull(n)
}

// PullVarint reads a QUIC variable-length integer (RFC 9000 §16).
func (b *Buffer) PullVarint() (uint64, error) {
	v, err := quicvarint.Read(b)
	if err != nil {
		return 0, newErrBufferRead("varint: " + err.Error())
	}
	return v, nil
}

// ReadByte implements io.ByteReader so *Buffer satisfies quicvarint.Reader.
func (b *Buffer) ReadByte() (byte, error) {
	v, err := b.PullUint8()
	if err != nil {
		return 0, err
	}
	return v, nil
}

// PushUint8 writes one byte.
func (b *Buffer) PushUint8(v uint8) error {
	raw, err := b.push(1)
	if err != nil {
		return err
	}
	raw[0] = v
	return nil
}

// PushUint16 writes a big-endian 16-bit integer.
func (b *Buffer) PushUint16(v uint16) error {
	raw, err := b.push(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(raw, v)
	return nil
}

// PushUint32 writes a big-endian 32-bit integer.
func (b *Buffer) PushUint32(v uint32) error {
	raw, err := b.push(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(raw, v)
	return nil
}

// PushUint64 writes a big-endian 64-bit integer.
func (b *Buffer) PushUint64(v uint64) error {
	raw, err := b.push(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(raw, v)
	return nil
}

// PushBytes writes raw bytes.
func (b *Buffer) PushBytes(v []byte) error {
	raw, err := b.push(len(v))
	if err != nil {
		return err
	}
	copy(raw, v)
	return nil
}

// VarintLen returns the number of bytes [PushVarint] would use to encode v.
func VarintLen(v uint64) int {
	return quicvarint.Len(v)
}

// PushVarint writes a QUIC variable-length integer.
func (b *Buffer) PushVarint(v uint64) error {
	raw, err := b.push(VarintLen(v))
	if err != nil {
		return err
	}
	quicvarint.Append(raw[:0], v)
	return nil
}

// blockMarker identifies a reserved length prefix awaiting backfill.
type blockMarker struct {
	lenOffset int
	lenWidth  int
	bodyStart int
}

// StartBlock reserves a lenWidth-byte (1, 2, 3, or 4) length prefix at
// the current position and returns a marker to pass to
// [Buffer.FinishBlock] once the body has been written. This is the
// pattern TLS nested structures use throughout (ClientHello extensions,
// Certificate lists, CRYPTO-carried handshake messages, which use a
// 3-byte/24-bit length).
func (b *Buffer) StartBlock(lenWidth int) (blockMarker, error) {
	offset := b.pos
	if _, err := b.push(lenWidth); err != nil {
		return blockMarker{}, err
	}
	return blockMarker{lenOffset: offset, lenWidth: lenWidth, bodyStart: b.pos}, nil
}

// FinishBlock backfills the length prefix reserved by [Buffer.StartBlock]
// with the number of bytes written since.
func (b *Buffer) FinishBlock(m blockMarker) error {
	n := b.pos - m.bodyStart
	switch m.lenWidth {
	case 1:
		if n > 0xff {
			return newErrBufferWrite("block too large for 1-byte length")
		}
		b.data[m.lenOffset] = byte(n)
	case 2:
		if n > 0xffff {
			return newErrBufferWrite("block too large for 2-byte length")
		}
		binary.BigEndian.PutUint16(b.data[m.lenOffset:], uint16(n))
	case 3:
		if n > 0xffffff {
			return newErrBufferWrite("block too large for 3-byte length (24-bit)")
		}
		b.data[m.lenOffset] = byte(n >> 16)
		b.data[m.lenOffset+1] = byte(n >> 8)
		b.data[m.lenOffset+2] = byte(n)
	case 4:
		if uint64(n) > 0xffffffff {
			return newErrBufferWrite("block too large for 4-byte length")
		}
		binary.BigEndian.PutUint32(b.data[m.lenOffset:], uint32(n))
	default:
		return newErrBufferWrite("unsupported block length width")
	}
	return nil
}
