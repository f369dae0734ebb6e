package wire

//
// QUIC transport parameters (spec.md §4.3 "carries the QUIC transport
// parameters extension (type 0xffa5-range)"; TLV scheme grounded on
// aioquic's push_tlv32/pull_quic_transport_parameters in
// original_source/aioquic/tls.py, adapted to varint-encoded values to
// match this package's integer codec throughout)
//

// transportParamID tags one transport parameter in the TLV blob
// carried inside the QUIC transport parameters TLS extension.
type transportParamID uint16

const (
	paramInitialMaxStreamDataBidiLocal  transportParamID = 0x0005
	paramInitialMaxStreamDataBidiRemote transportParamID = 0x0006
	paramInitialMaxStreamDataUni        transportParamID = 0x0007
	paramInitialMaxData                 transportParamID = 0x0004
	paramInitialMaxStreamsBidi          transportParamID = 0x0008
	paramInitialMaxStreamsUni           transportParamID = 0x0009
	paramAckDelayExponent               transportParamID = 0x000a
	paramMaxIdleTimeout                 transportParamID = 0x0001
)

// TransportParameters is the subset of the QUIC transport parameters
// set this implementation negotiates (spec.md §6 "Connection
// configuration" plus the per-stream/connection limits §4.5/§4.6
// reference as "initial_max_*").
type TransportParameters struct {
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	AckDelayExponent               uint64
	MaxIdleTimeoutMs               uint64
}

// Encode serializes tp as a sequence of (id uint16, length uint16,
// varint value) TLVs.
func (tp *TransportParameters) Encode() ([]byte, error) {
	buf := NewBufferCapacity(256)
	entries := []struct {
		id  transportParamID
		val uint64
	}{
		{paramInitialMaxData, tp.InitialMaxData},
		{paramInitialMaxStreamDataBidiLocal, tp.InitialMaxStreamDataBidiLocal},
		{paramInitialMaxStreamDataBidiRemote, tp.InitialMaxStreamDataBidiRemote},
		{paramInitialMaxStreamDataUni, tp.InitialMaxStreamDataUni},
		{paramInitialMaxStreamsBidi, tp.InitialMaxStreamsBidi},
		{paramInitialMaxStreamsUni, tp.InitialMaxStreamsUni},
		{paramAckDelayExponent, tp.AckDelayExponent},
		{paramMaxIdleTimeout, tp.MaxIdleTimeoutMs},
	}
	for _, e := range entries {
		if err := buf.PushUint16(uint16(e.id)); err != nil {
			return nil, err
		}
		block, err := buf.StartBlock(2)
		if err != nil {
			return nil, err
		}
		if err := buf.PushVarint(e.val); err != nil {
			return nil, err
		}
		if err := buf.FinishBlock(block); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeTransportParameters parses the TLV blob Encode produces.
// Unrecognized parameter IDs are skipped rather than rejected, since
// new parameters may legitimately appear from a peer running a newer
// draft.
func DecodeTransportParameters(data []byte) (*TransportParameters, error) {
	buf := NewBuffer(data)
	tp := &TransportParameters{}
	for buf.Len() > 0 {
		id, err := buf.PullUint16()
		if err != nil {
			return nil, newErrPacketParse("transport parameters: cannot read id")
		}
		length, err := buf.PullUint16()
		if err != nil {
			return nil, newErrPacketParse("transport parameters: cannot read length")
		}
		body, err := buf.PullBytes(int(length))
		if err != nil {
			return nil, newErrPacketParse("transport parameters: cannot read value")
		}
		valueBuf := NewBuffer(body)
		value, err := valueBuf.PullVarint()
		if err != nil {
			continue // malformed or unrecognized value encoding: skip, not fatal
		}
		switch transportParamID(id) {
		case paramInitialMaxData:
			tp.InitialMaxData = value
		case paramInitialMaxStreamDataBidiLocal:
			tp.InitialMaxStreamDataBidiLocal = value
		case paramInitialMaxStreamDataBidiRemote:
			tp.InitialMaxStreamDataBidiRemote = value
		case paramInitialMaxStreamDataUni:
			tp.InitialMaxStreamDataUni = value
		case paramInitialMaxStreamsBidi:
			tp.InitialMaxStreamsBidi = value
		case paramInitialMaxStreamsUni:
			tp.InitialMaxStreamsUni = value
		case paramAckDelayExponent:
			tp.AckDelayExponent = value
		case paramMaxIdleTimeout:
			tp.MaxIdleTimeoutMs = value
		}
	}
	return tp, nil
}
