package quic

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quicweave/quic/transport"
)

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// newZapLogger builds the rotated JSON-file logger cppla-moto's
// utils/log.go wires up, parameterized by LogConfig instead of a global.
func newZapLogger(cfg LogConfig) *zap.Logger {
	level, ok := levelMap[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var sink zapcore.WriteSyncer
	if cfg.Path == "" {
		sink = zapcore.Lock(os.Stdout)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    128,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, enabler)
	return zap.New(core)
}

// zapPublisher is a transport.EventPublisher that turns every typed
// core event into one structured zap call instead of a hand-rolled
// LogEvent/LogField stringification.
type zapPublisher struct {
	log    *zap.Logger
	connID string
}

func newZapPublisher(log *zap.Logger, connID string) *zapPublisher {
	return &zapPublisher{log: log.With(zap.String("conn", connID)), connID: connID}
}

func (p *zapPublisher) OnPacketSent(e transport.PacketSentEvent) {
	p.log.Debug("packet_sent",
		zap.String("space", e.Space.String()),
		zap.Int64("pn", int64(e.PacketNumber)),
		zap.Uint64("bytes", e.Bytes),
		zap.Bool("ack_eliciting", e.AckEliciting))
}

func (p *zapPublisher) OnPacketReceived(e transport.PacketReceivedEvent) {
	p.log.Debug("packet_received",
		zap.String("space", e.Space.String()),
		zap.Int64("pn", int64(e.PacketNumber)),
		zap.Uint64("bytes", e.Bytes))
}

func (p *zapPublisher) OnPacketLost(e transport.PacketLostEvent) {
	p.log.Info("packet_lost",
		zap.String("space", e.Space.String()),
		zap.Int64("pn", int64(e.PacketNumber)),
		zap.Uint64("bytes", e.Bytes),
		zap.Bool("persistent", e.Persistent))
}

func (p *zapPublisher) OnPacketDropped(e transport.PacketDroppedEvent) {
	p.log.Warn("packet_dropped",
		zap.String("space", e.Space.String()),
		zap.Uint64("bytes", e.Bytes),
		zap.Uint8("reason", uint8(e.Reason)))
}

func (p *zapPublisher) OnRTTSample(e transport.RTTSampleEvent) {
	p.log.Debug("rtt_sample",
		zap.Duration("latest", e.Latest),
		zap.Duration("smoothed", e.Smoothed),
		zap.Duration("variance", e.Variance),
		zap.Duration("min", e.Min))
}

func (p *zapPublisher) OnCongestionStateChange(e transport.CongestionStateChangeEvent) {
	p.log.Info("congestion_state_change",
		zap.Uint64("window", e.CongestionWindow),
		zap.Uint64("bytes_in_flight", e.BytesInFlight),
		zap.Bool("persistent_loss", e.PersistentLoss))
}

func (p *zapPublisher) OnPathValidated(e transport.PathEvent) {
	p.log.Info("path_validated", zap.Int("path_id", int(e.PathID)))
}

func (p *zapPublisher) OnPathChallengeSent(e transport.PathEvent) {
	p.log.Debug("path_challenge_sent", zap.Int("path_id", int(e.PathID)))
}

func (p *zapPublisher) OnPathAbandoned(e transport.PathEvent) {
	p.log.Warn("path_abandoned", zap.Int("path_id", int(e.PathID)))
}

func (p *zapPublisher) OnMigration(e transport.MigrationEvent) {
	p.log.Info("migration",
		zap.Int("old_path_id", int(e.OldPathID)),
		zap.Int("new_path_id", int(e.NewPathID)),
		zap.String("reason", e.Reason))
}

func (p *zapPublisher) OnStreamOpened(e transport.StreamEvent) {
	p.log.Debug("stream_opened", zap.Uint64("stream_id", e.StreamID))
}

func (p *zapPublisher) OnStreamClosed(e transport.StreamEvent) {
	p.log.Debug("stream_closed", zap.Uint64("stream_id", e.StreamID))
}

func (p *zapPublisher) OnConnectionStateChange(e transport.ConnectionStateChangeEvent) {
	p.log.Info("connection_state_change",
		zap.String("from", e.From.String()),
		zap.String("to", e.To.String()))
}

var _ transport.EventPublisher = (*zapPublisher)(nil)
