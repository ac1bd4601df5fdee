package quic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/quicweave/quic/transport"
)

func newObservedPublisher() (*zapPublisher, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return newZapPublisher(zap.New(core), "conn-1"), logs
}

func TestZapPublisherTagsEveryEntryWithConnID(t *testing.T) {
	p, logs := newObservedPublisher()
	p.OnPacketReceived(transport.PacketReceivedEvent{Space: transport.SpaceApplicationData, Bytes: 42})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "packet_received", entry.Message)
	assert.Equal(t, "conn-1", entry.ContextMap()["conn"])
	assert.Equal(t, uint64(42), entry.ContextMap()["bytes"])
}

func TestZapPublisherConnectionStateChangeLogsFromAndTo(t *testing.T) {
	p, logs := newObservedPublisher()
	p.OnConnectionStateChange(transport.ConnectionStateChangeEvent{
		From: transport.StateHandshaking,
		To:   transport.StateActive,
	})

	entry := logs.All()[0]
	assert.Equal(t, transport.StateHandshaking.String(), entry.ContextMap()["from"])
	assert.Equal(t, transport.StateActive.String(), entry.ContextMap()["to"])
}

func TestNewZapLoggerFallsBackToInfoOnUnknownLevel(t *testing.T) {
	logger := newZapLogger(LogConfig{Level: "nonsense"})
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel), "an unrecognized level name must fall back to info, not debug")
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
