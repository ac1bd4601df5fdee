package transport

import "time"

// EventPublisher is spec.md §6's typed event sink: every notable state
// transition in the core is reported through one of these methods rather
// than by a generic printf/string-keyed log record. The qlog-style
// LogEvent/LogField pattern is reworked here into a typed interface so a
// caller can route events to zap fields, Prometheus counters, or a qlog
// file without the core depending on any of those concerns directly.
//
// Every method must return promptly: publishers run synchronously on the
// connection's single-threaded event loop.
type EventPublisher interface {
	OnPacketSent(PacketSentEvent)
	OnPacketReceived(PacketReceivedEvent)
	OnPacketLost(PacketLostEvent)
	OnPacketDropped(PacketDroppedEvent)
	OnRTTSample(RTTSampleEvent)
	OnCongestionStateChange(CongestionStateChangeEvent)
	OnPathValidated(PathEvent)
	OnPathChallengeSent(PathEvent)
	OnPathAbandoned(PathEvent)
	OnMigration(MigrationEvent)
	OnStreamOpened(StreamEvent)
	OnStreamClosed(StreamEvent)
	OnConnectionStateChange(ConnectionStateChangeEvent)
}

type PacketSentEvent struct {
	Space        PacketSpace
	PacketNumber PacketNumber
	Bytes        uint64
	AckEliciting bool
	Mode         TransmissionMode
	Time         time.Time
}

type PacketReceivedEvent struct {
	Space        PacketSpace
	PacketNumber PacketNumber
	Bytes        uint64
	Time         time.Time
}

type PacketLostEvent struct {
	Space        PacketSpace
	PacketNumber PacketNumber
	Bytes        uint64
	Persistent   bool
}

type PacketDroppedReason uint8

const (
	DroppedDecryptError PacketDroppedReason = iota
	DroppedKeyUnavailable
	DroppedDuplicate
	DroppedUnexpectedSpace
	DroppedMalformed
)

type PacketDroppedEvent struct {
	Space  PacketSpace
	Reason PacketDroppedReason
	Bytes  uint64
}

type RTTSampleEvent struct {
	Space    PacketSpace
	PathID   PathID
	Latest   time.Duration
	Smoothed time.Duration
	Variance time.Duration
	Min      time.Duration
}

type CongestionStateChangeEvent struct {
	PathID            PathID
	CongestionWindow  uint64
	BytesInFlight     uint64
	PersistentLoss    bool
}

type PathEvent struct {
	PathID PathID
}

type MigrationEvent struct {
	OldPathID PathID
	NewPathID PathID
	Reason    string
}

type StreamEvent struct {
	StreamID uint64
}

type ConnectionStateChangeEvent struct {
	From ConnectionState
	To   ConnectionState
}

// NopPublisher discards every event; it is the default when a caller does
// not supply one, and it backs tests that do not assert on events.
type NopPublisher struct{}

func (NopPublisher) OnPacketSent(PacketSentEvent)                         {}
func (NopPublisher) OnPacketReceived(PacketReceivedEvent)                 {}
func (NopPublisher) OnPacketLost(PacketLostEvent)                         {}
func (NopPublisher) OnPacketDropped(PacketDroppedEvent)                   {}
func (NopPublisher) OnRTTSample(RTTSampleEvent)                           {}
func (NopPublisher) OnCongestionStateChange(CongestionStateChangeEvent)   {}
func (NopPublisher) OnPathValidated(PathEvent)                           {}
func (NopPublisher) OnPathChallengeSent(PathEvent)                        {}
func (NopPublisher) OnPathAbandoned(PathEvent)                           {}
func (NopPublisher) OnMigration(MigrationEvent)                          {}
func (NopPublisher) OnStreamOpened(StreamEvent)                          {}
func (NopPublisher) OnStreamClosed(StreamEvent)                          {}
func (NopPublisher) OnConnectionStateChange(ConnectionStateChangeEvent)  {}
