package qcore

//
// Stream (spec.md §3 "Stream", §4.5, §4.6 "Stream direction rules")
//

import (
	"errors"

	"github.com/bassosimone/qcore/internal/flowcontrol"
)

// errStreamClosedForSend is a local programmer error (spec.md §7
// "local programmer errors... fail synchronously... do NOT affect the
// wire state"): writing after FIN has already been sent.
var errStreamClosedForSend = errors.New("qcore: stream already closed for sending")

// Stream identifier low bits (spec.md §3: "Low two bits encode
// (initiator, directionality)").
const (
	streamInitiatorClient = 0
	streamInitiatorServer = 1
	streamDirBidi         = 0
	streamDirUni          = 2
)

func streamIsClientInitiated(id uint64) bool { return id&0x1 == streamInitiatorClient }
func streamIsBidirectional(id uint64) bool    { return id&0x2 == streamDirBidi }

// NextStreamID computes the next available stream ID of the requested
// directionality for a host whose role is isClient, given the count of
// streams of that kind already opened (spec.md §4.6
// "get_next_available_stream_id(is_unidirectional)").
func NextStreamID(isClient bool, isUnidirectional bool, countOpened uint64) uint64 {
	var base uint64
	if !isClient {
		base |= 1
	}
	if isUnidirectional {
		base |= 2
	}
	return base + countOpened*4
}

// stream couples a bidirectional or unidirectional flow-controlled
// byte stream with the direction rules spec.md §4.6 prescribes.
type stream struct {
	id uint64

	// canSend / canReceive are fixed at creation by the stream's
	// direction bits relative to this endpoint's role.
	canSend    bool
	canReceive bool

	send *flowcontrol.SendBuffer
	recv *flowcontrol.RecvBuffer

	sendClosed bool
}

// newStream creates the stream state for id, given whether this
// endpoint is the client, deriving the direction rules from spec.md
// §4.6:
//
//	Client-initiated bidi (id%4==0): both sides send/receive.
//	Server-initiated bidi (id%4==1): both sides send/receive.
//	Client-initiated uni  (id%4==2): client sends, server receives.
//	Server-initiated uni  (id%4==3): server sends, client receives.
func newStream(id uint64, isClient bool, maxSendData, maxRecvData uint64) *stream {
	s := &stream{id: id}
	bidi := streamIsBidirectional(id)
	clientInitiated := streamIsClientInitiated(id)

	switch {
	case bidi:
		s.canSend, s.canReceive = true, true
	case clientInitiated:
		s.canSend, s.canReceive = isClient, !isClient
	default: // server-initiated unidirectional
		s.canSend, s.canReceive = !isClient, isClient
	}

	if s.canSend {
		s.send = flowcontrol.NewSendBuffer(maxSendData)
	}
	if s.canReceive {
		s.recv = flowcontrol.NewRecvBuffer(maxRecvData)
	}
	return s
}

// streamDirectionError builds the STREAM_STATE_ERROR the spec's exact
// reason phrases name.
func streamDirectionError(reason string) *TransportError {
	return newFrameTransportError(StreamStateError, 0x08 /* STREAM base type */, reason)
}

// checkSend verifies this endpoint is allowed to send on the stream.
func (s *stream) checkSend() error {
	if !s.canSend {
		return streamDirectionError("Stream is receive-only")
	}
	return nil
}

// checkReceive verifies this endpoint is allowed to accept STREAM
// frames for this stream.
func (s *stream) checkReceive() error {
	if !s.canReceive {
		return streamDirectionError("Stream is send-only")
	}
	return nil
}

// Write appends data for eventual STREAM-frame transmission.
func (s *stream) Write(data []byte, endStream bool) error {
	if err := s.checkSend(); err != nil {
		return err
	}
	if s.sendClosed {
		return errStreamClosedForSend
	}
	if err := s.send.Write(data); err != nil {
		return err
	}
	if endStream {
		s.sendClosed = true
		return s.send.Close()
	}
	return nil
}

// OnStreamFrame feeds received STREAM-frame bytes into the receive
// reassembler.
func (s *stream) OnStreamFrame(offset uint64, data []byte, fin bool) error {
	if err := s.checkReceive(); err != nil {
		return err
	}
	return s.recv.Write(offset, data, fin)
}
