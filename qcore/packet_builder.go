package qcore

//
// Packet builder (spec.md §4.4 "A QuicPacketBuilder opens a datagram,
// starts a packet for a given (type, crypto pair)...", §9 "the packet
// builder is invoked many times during a send pass; implementations
// should preallocate a single datagram buffer and reuse it")
//

import (
	"github.com/bassosimone/qcore/internal/qtls"
	"github.com/bassosimone/qcore/internal/wire"
)

// minimumInitialDatagramSize is the minimum size a datagram carrying a
// client INITIAL packet must be padded to (spec.md §4.4).
const minimumInitialDatagramSize = 1200

// packetBuilder coalesces frames for one or more epochs into a single
// datagram, reusing one backing buffer across an entire send pass
// (spec.md §9 design note).
type packetBuilder struct {
	buf []byte
}

func newPacketBuilder() *packetBuilder {
	return &packetBuilder{buf: make([]byte, 0, minimumInitialDatagramSize)}
}

// reset clears the builder for a new datagram, retaining the
// underlying array.
func (pb *packetBuilder) reset() {
	pb.buf = pb.buf[:0]
}

// builtPacket describes one sealed packet appended to the builder's
// datagram, for bookkeeping by the caller (loss recovery registration).
type builtPacket struct {
	Epoch        wire.Epoch
	PacketNumber int64
	Size         int
	AckEliciting bool
}

// appendPacket seals framesPlaintext as a packet of the given epoch and
// appends it to the builder's in-progress datagram. pair supplies the
// epoch's send context; pn/largestAcked drive packet-number length
// selection per RFC 9000 §17.1.
//
// isLongHeader, headerType, version, dcid/scid, token, and keyPhase
// describe the header to emit; for 1-RTT packets isLongHeader is
// false and headerType/version/scid/token are ignored.
func (pb *packetBuilder) appendPacket(
	epoch wire.Epoch,
	isLongHeader bool,
	headerType wire.LongHeaderType,
	version uint32,
	dcid, scid wire.ConnectionID,
	token []byte,
	keyPhase bool,
	pn, largestAcked int64,
	framesPlaintext []byte,
	pair *qtls.CryptoPair,
	ackEliciting bool,
) (builtPacket, error) {
	pnLength := wire.EncodePacketNumberLength(pn, largestAcked)
	pnBytes := wire.EncodePacketNumber(pn, pnLength)
	tagSize := pair.Send.Overhead()

	headerBuf := wire.NewBufferCapacity(64 + len(dcid) + len(scid) + len(token))
	if isLongHeader {
		length := uint64(pnLength + len(framesPlaintext) + tagSize)
		if err := wire.SerializeLongHeader(headerBuf, headerType, version, dcid, scid, token, length, pnLength); err != nil {
			return builtPacket{}, err
		}
	} else {
		if err := wire.SerializeShortHeader(headerBuf, dcid, keyPhase, pnLength); err != nil {
			return builtPacket{}, err
		}
	}
	pnOffset := headerBuf.Pos()
	if err := headerBuf.PushBytes(pnBytes); err != nil {
		return builtPacket{}, err
	}
	header := headerBuf.Bytes()

	plaintext := make([]byte, len(framesPlaintext))
	copy(plaintext, framesPlaintext)
	sealed := pair.Send.EncryptPayload(pn, header, plaintext)

	packetStart := len(pb.buf)
	pb.buf = append(pb.buf, header...)
	pb.buf = append(pb.buf, sealed...)

	protectedPN := pb.buf[packetStart+pnOffset : packetStart+pnOffset+pnLength]
	sampleStart := packetStart + wire.SampleOffset(pnOffset)
	sample := pb.buf[sampleStart : sampleStart+16]
	if err := pair.Send.ApplyHeaderProtection(isLongHeader, &pb.buf[packetStart], protectedPN, sample); err != nil {
		return builtPacket{}, err
	}

	return builtPacket{
		Epoch:        epoch,
		PacketNumber: pn,
		Size:         len(pb.buf) - packetStart,
		AckEliciting: ackEliciting,
	}, nil
}

// padInitialDatagram appends zero bytes to the in-progress datagram up
// to the 1200-byte client-INITIAL minimum (spec.md §4.4: "INITIAL
// packets from the client must pad the datagram to at least 1200
// bytes"). The bytes follow the last sealed packet, outside its
// protected payload, so they are not PADDING frames of any packet.
func (pb *packetBuilder) padInitialDatagram() {
	for len(pb.buf) < minimumInitialDatagramSize {
		pb.buf = append(pb.buf, 0x00)
	}
}

// datagram returns the bytes accumulated so far.
func (pb *packetBuilder) datagram() []byte { return pb.buf }
