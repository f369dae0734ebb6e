package qcore

//
// Error taxonomy (spec.md §7 "Error handling")
//

import "fmt"

// TransportErrorCode is a QUIC transport error code as carried by a
// CONNECTION_CLOSE frame of type 0x1c.
type TransportErrorCode uint64

const (
	NoError                  TransportErrorCode = 0x0
	InternalError            TransportErrorCode = 0x1
	ConnectionRefused        TransportErrorCode = 0x2
	FlowControlError         TransportErrorCode = 0x3
	StreamLimitError         TransportErrorCode = 0x4
	StreamStateError         TransportErrorCode = 0x5
	FinalSizeError           TransportErrorCode = 0x6
	FrameEncodingError       TransportErrorCode = 0x7
	TransportParameterError  TransportErrorCode = 0x8
	ConnectionIDLimitError   TransportErrorCode = 0x9
	ProtocolViolation        TransportErrorCode = 0xa
	InvalidToken             TransportErrorCode = 0xb
	ApplicationError         TransportErrorCode = 0xc
	CryptoBufferExceeded     TransportErrorCode = 0xd
	cryptoErrorBase          TransportErrorCode = 0x100
)

// String renders the transport error code using its RFC 9000 §20.1 name.
func (c TransportErrorCode) String() string {
	switch {
	case c >= cryptoErrorBase && c <= cryptoErrorBase+0xff:
		return fmt.Sprintf("CRYPTO_ERROR(%#x)", uint64(c-cryptoErrorBase))
	}
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR(%#x)", uint64(c))
	}
}

// CryptoErrorCode builds the transport error code for a TLS alert, per
// RFC 9000 §4.8: CRYPTO_ERROR base 0x100 | tls_alert.
func CryptoErrorCode(tlsAlert uint8) TransportErrorCode {
	return cryptoErrorBase | TransportErrorCode(tlsAlert)
}

// TransportError is a connection-terminating transport error (spec.md
// §7): it carries the error code, the frame type that triggered it (0
// when not frame-specific), and a short human-readable reason phrase
// copied verbatim into the CONNECTION_CLOSE frame.
type TransportError struct {
	Code      TransportErrorCode
	FrameType uint64
	Reason    string
}

func (e *TransportError) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// newTransportError builds a [TransportError] not tied to a specific
// frame type.
func newTransportError(code TransportErrorCode, reason string) *TransportError {
	return &TransportError{Code: code, Reason: reason}
}

// newFrameTransportError builds a [TransportError] caused by a specific
// frame type.
func newFrameTransportError(code TransportErrorCode, frameType uint64, reason string) *TransportError {
	return &TransportError{Code: code, FrameType: frameType, Reason: reason}
}

// CryptoError wraps a TLS alert raised by the embedded handshake
// driver (spec.md §7, spec.md line 70 "Payload decryption failed").
// Its transport-visible code is always CryptoErrorCode(Alert).
type CryptoError struct {
	Alert  uint8
	Reason string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %s", CryptoErrorCode(e.Alert), e.Reason)
}

// TransportErrorCode implements the errorCoder interface so callers can
// uniformly extract a wire error code from either error type.
func (e *CryptoError) TransportErrorCode() TransportErrorCode { return CryptoErrorCode(e.Alert) }

func (e *TransportError) TransportErrorCode() TransportErrorCode { return e.Code }

// errorCoder is implemented by both [TransportError] and [CryptoError]
// so connection-close handling can treat them uniformly.
type errorCoder interface {
	error
	TransportErrorCode() TransportErrorCode
}

var (
	_ errorCoder = &TransportError{}
	_ errorCoder = &CryptoError{}
)

// toTransportError normalizes any error returned from deep inside the
// connection state machine into the (code, reason) pair a
// CONNECTION_CLOSE frame needs, defaulting to INTERNAL_ERROR for
// errors that do not implement errorCoder.
func toTransportError(err error) (code TransportErrorCode, reason string) {
	if err == nil {
		return NoError, ""
	}
	if te, ok := err.(*TransportError); ok {
		return te.Code, te.Reason
	}
	if ec, ok := err.(errorCoder); ok {
		return ec.TransportErrorCode(), err.Error()
	}
	return InternalError, err.Error()
}
