package transport

import "time"

// FrameType identifies the RFC 9000 frame carried by a Frame value. Frame
// encode/decode is an external collaborator (spec.md §1); the core only
// consumes the already-decoded structured values below.
type FrameType uint64

const (
	FramePadding FrameType = iota
	FramePing
	FrameAck
	FrameResetStream
	FrameStopSending
	FrameCrypto
	FrameNewToken
	FrameStream
	FrameMaxData
	FrameMaxStreamData
	FrameMaxStreams
	FrameDataBlocked
	FrameStreamDataBlocked
	FrameStreamsBlocked
	FrameNewConnectionID
	FrameRetireConnectionID
	FramePathChallenge
	FramePathResponse
	FrameConnectionClose
	FrameHandshakeDone
)

// Frame is implemented by every structured frame the core exchanges with
// its caller, either received (dispatched into path/stream/flow
// handlers) or produced (returned from on_transmit hooks for the caller
// to encode and protect).
type Frame interface {
	FrameType() FrameType
}

// AckRange is one inclusive [Smallest, Largest] range of acknowledged
// packet numbers, ordered as ACK frames carry them: largest range first.
type AckRange struct {
	Smallest PacketNumber
	Largest  PacketNumber
}

// EcnCounts is the set of ECN counters an ACK frame may carry (RFC 9000
// section 19.3.2).
type EcnCounts struct {
	ECT0 uint64
	ECT1 uint64
	CE   uint64
}

type AckFrame struct {
	Ranges   []AckRange // ordered largest-to-smallest, non-overlapping
	AckDelay time.Duration
	ECN      *EcnCounts // nil if the frame carried no ECN counts
}

func (AckFrame) FrameType() FrameType { return FrameAck }

// Largest and Smallest are convenience accessors mirroring RFC 9000's
// largest_acknowledged()/lowest().
func (f *AckFrame) Largest() PacketNumber { return f.Ranges[0].Largest }
func (f *AckFrame) Smallest() PacketNumber {
	return f.Ranges[len(f.Ranges)-1].Smallest
}

// Contains reports whether pn falls in any acknowledged range.
func (f *AckFrame) Contains(pn PacketNumber) bool {
	for _, r := range f.Ranges {
		if pn >= r.Smallest && pn <= r.Largest {
			return true
		}
	}
	return false
}

type ResetStreamFrame struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

func (ResetStreamFrame) FrameType() FrameType { return FrameResetStream }

type StopSendingFrame struct {
	StreamID  uint64
	ErrorCode uint64
}

func (StopSendingFrame) FrameType() FrameType { return FrameStopSending }

type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (CryptoFrame) FrameType() FrameType { return FrameCrypto }

type StreamFrame struct {
	StreamID uint64
	Offset   uint64
	Data     []byte
	Fin      bool
}

func (StreamFrame) FrameType() FrameType { return FrameStream }

type MaxDataFrame struct {
	MaximumData uint64
}

func (MaxDataFrame) FrameType() FrameType { return FrameMaxData }

type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (MaxStreamDataFrame) FrameType() FrameType { return FrameMaxStreamData }

type MaxStreamsFrame struct {
	Bidi           bool
	MaximumStreams uint64
}

func (MaxStreamsFrame) FrameType() FrameType { return FrameMaxStreams }

type DataBlockedFrame struct {
	DataLimit uint64
}

func (DataBlockedFrame) FrameType() FrameType { return FrameDataBlocked }

type StreamDataBlockedFrame struct {
	StreamID  uint64
	DataLimit uint64
}

func (StreamDataBlockedFrame) FrameType() FrameType { return FrameStreamDataBlocked }

type StreamsBlockedFrame struct {
	Bidi        bool
	StreamLimit uint64
}

func (StreamsBlockedFrame) FrameType() FrameType { return FrameStreamsBlocked }

type PathChallengeFrame struct {
	Data [8]byte
}

func (PathChallengeFrame) FrameType() FrameType { return FramePathChallenge }

type PathResponseFrame struct {
	Data [8]byte
}

func (PathResponseFrame) FrameType() FrameType { return FramePathResponse }

type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        []byte
	StatelessResetToken [16]byte
}

func (NewConnectionIDFrame) FrameType() FrameType { return FrameNewConnectionID }

type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func (RetireConnectionIDFrame) FrameType() FrameType { return FrameRetireConnectionID }

type ConnectionCloseFrame struct {
	IsApplication bool
	ErrorCode     uint64
	TriggerFrame  uint64
	ReasonPhrase  string
}

func (ConnectionCloseFrame) FrameType() FrameType { return FrameConnectionClose }

type HandshakeDoneFrame struct{}

func (HandshakeDoneFrame) FrameType() FrameType { return FrameHandshakeDone }

type PingFrame struct{}

func (PingFrame) FrameType() FrameType { return FramePing }

type PaddingFrame struct {
	Length int
}

func (PaddingFrame) FrameType() FrameType { return FramePadding }
