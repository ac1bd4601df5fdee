package transport

import "fmt"

// TransportErrorCode is the enumerated set of RFC 9000 section 20.1 error
// codes that the core can raise locally or observe from a peer.
type TransportErrorCode uint64

const (
	NoError TransportErrorCode = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIDLimitError
	ProtocolViolation
	InvalidToken
	TransportApplicationError
	CryptoBufferExceeded
	KeyUpdateError
	AEADLimitReached
	NoViablePath
)

func (c TransportErrorCode) String() string {
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
	case TransportApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AEADLimitReached:
		return "AEAD_LIMIT_REACHED"
	case NoViablePath:
		return "NO_VIABLE_PATH"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR(0x%x)", uint64(c))
	}
}

// TransportError is a protocol violation observed locally or signaled by
// the peer through a CONNECTION_CLOSE frame of type 0x1c. Any frame
// handler that returns one causes the connection to close with
// LocalObservedTransportError (spec.md §7).
type TransportError struct {
	Code   TransportErrorCode
	Frame  uint64 // frame type that triggered the error, 0 if not applicable
	Reason string
}

func (e *TransportError) Error() string {
	if e.Reason == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func newTransportError(code TransportErrorCode, reason string) *TransportError {
	return &TransportError{Code: code, Reason: reason}
}

// CryptoErrorCode mirrors the subset of crypto-layer failures the core
// must react to without owning the TLS state machine itself.
type CryptoErrorCode uint8

const (
	CryptoInternalError CryptoErrorCode = iota
	CryptoDecryptionFailed
	CryptoKeyUpdateError
)

// CryptoError surfaces a crypto-layer failure reported by the external
// handshake/AEAD collaborators.
type CryptoError struct {
	Code   CryptoErrorCode
	Reason string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto error %d: %s", e.Code, e.Reason)
}

// ApplicationError is the 62-bit application error code carried by a
// CONNECTION_CLOSE frame of type 0x1d.
type ApplicationError struct {
	Code   uint64
	Reason string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error %d: %s", e.Code, e.Reason)
}

// API errors surfaced to callers of Connection/Stream methods.
var (
	ErrInvalidStream          = fmt.Errorf("transport: invalid stream")
	ErrStreamIDExhausted      = fmt.Errorf("transport: stream id space exhausted")
	ErrMaxStreamDataExceeded  = fmt.Errorf("transport: max stream data size exceeded")
	ErrNonEmptyOutput         = fmt.Errorf("transport: output buffer not empty")
	ErrNoValidPath            = fmt.Errorf("transport: no valid path")
	ErrUnspecified            = fmt.Errorf("transport: unspecified error")
)

// ConnectionClosedError is returned once the connection has a terminal
// close reason, distinguishing a locally-initiated close from a
// peer-initiated one.
type ConnectionClosedError struct {
	ByPeer bool
	Reason error
}

func (e *ConnectionClosedError) Error() string {
	who := "local"
	if e.ByPeer {
		who = "peer"
	}
	if e.Reason != nil {
		return fmt.Sprintf("transport: connection closed by %s: %v", who, e.Reason)
	}
	return fmt.Sprintf("transport: connection closed by %s", who)
}

func (e *ConnectionClosedError) Unwrap() error { return e.Reason }
