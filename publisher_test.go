package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quicweave/quic/transport"
)

type countingPublisher struct {
	packetSent int
	migrations int
}

func (c *countingPublisher) OnPacketSent(transport.PacketSentEvent)                     { c.packetSent++ }
func (c *countingPublisher) OnPacketReceived(transport.PacketReceivedEvent)             {}
func (c *countingPublisher) OnPacketLost(transport.PacketLostEvent)                     {}
func (c *countingPublisher) OnPacketDropped(transport.PacketDroppedEvent)               {}
func (c *countingPublisher) OnRTTSample(transport.RTTSampleEvent)                       {}
func (c *countingPublisher) OnCongestionStateChange(transport.CongestionStateChangeEvent) {}
func (c *countingPublisher) OnPathValidated(transport.PathEvent)                        {}
func (c *countingPublisher) OnPathChallengeSent(transport.PathEvent)                    {}
func (c *countingPublisher) OnPathAbandoned(transport.PathEvent)                        {}
func (c *countingPublisher) OnMigration(transport.MigrationEvent)                       { c.migrations++ }
func (c *countingPublisher) OnStreamOpened(transport.StreamEvent)                       {}
func (c *countingPublisher) OnStreamClosed(transport.StreamEvent)                       {}
func (c *countingPublisher) OnConnectionStateChange(transport.ConnectionStateChangeEvent) {}

func TestFanoutPublisherDispatchesToEveryMember(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	f := newFanoutPublisher(a, b)

	f.OnPacketSent(transport.PacketSentEvent{})
	f.OnMigration(transport.MigrationEvent{})

	assert.Equal(t, 1, a.packetSent)
	assert.Equal(t, 1, b.packetSent)
	assert.Equal(t, 1, a.migrations)
	assert.Equal(t, 1, b.migrations)
}

func TestFanoutPublisherWithNoMembersIsANoop(t *testing.T) {
	f := newFanoutPublisher()
	assert.NotPanics(t, func() {
		f.OnPacketSent(transport.PacketSentEvent{})
	})
}
