package quic

import "github.com/quicweave/quic/transport"

// fanoutPublisher dispatches every event to each of its members in
// order, letting a connection report to both the zap logger and the
// Prometheus aggregator through the single transport.EventPublisher
// slot the core exposes.
type fanoutPublisher struct {
	members []transport.EventPublisher
}

func newFanoutPublisher(members ...transport.EventPublisher) *fanoutPublisher {
	return &fanoutPublisher{members: members}
}

func (f *fanoutPublisher) OnPacketSent(e transport.PacketSentEvent) {
	for _, m := range f.members {
		m.OnPacketSent(e)
	}
}

func (f *fanoutPublisher) OnPacketReceived(e transport.PacketReceivedEvent) {
	for _, m := range f.members {
		m.OnPacketReceived(e)
	}
}

func (f *fanoutPublisher) OnPacketLost(e transport.PacketLostEvent) {
	for _, m := range f.members {
		m.OnPacketLost(e)
	}
}

func (f *fanoutPublisher) OnPacketDropped(e transport.PacketDroppedEvent) {
	for _, m := range f.members {
		m.OnPacketDropped(e)
	}
}

func (f *fanoutPublisher) OnRTTSample(e transport.RTTSampleEvent) {
	for _, m := range f.members {
		m.OnRTTSample(e)
	}
}

func (f *fanoutPublisher) OnCongestionStateChange(e transport.CongestionStateChangeEvent) {
	for _, m := range f.members {
		m.OnCongestionStateChange(e)
	}
}

func (f *fanoutPublisher) OnPathValidated(e transport.PathEvent) {
	for _, m := range f.members {
		m.OnPathValidated(e)
	}
}

func (f *fanoutPublisher) OnPathChallengeSent(e transport.PathEvent) {
	for _, m := range f.members {
		m.OnPathChallengeSent(e)
	}
}

func (f *fanoutPublisher) OnPathAbandoned(e transport.PathEvent) {
	for _, m := range f.members {
		m.OnPathAbandoned(e)
	}
}

func (f *fanoutPublisher) OnMigration(e transport.MigrationEvent) {
	for _, m := range f.members {
		m.OnMigration(e)
	}
}

func (f *fanoutPublisher) OnStreamOpened(e transport.StreamEvent) {
	for _, m := range f.members {
		m.OnStreamOpened(e)
	}
}

func (f *fanoutPublisher) OnStreamClosed(e transport.StreamEvent) {
	for _, m := range f.members {
		m.OnStreamClosed(e)
	}
}

func (f *fanoutPublisher) OnConnectionStateChange(e transport.ConnectionStateChangeEvent) {
	for _, m := range f.members {
		m.OnConnectionStateChange(e)
	}
}

var _ transport.EventPublisher = (*fanoutPublisher)(nil)
