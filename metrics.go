package quic

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quicweave/quic/transport"
)

// metricsNamespace mirrors distribution-distribution's
// utils.PrometheusNamespace constant: one fixed namespace prefix for
// every metric family this package registers.
const metricsNamespace = "quicweave"

// metricsPublisher is the second transport.EventPublisher implementation
// spec.md §6 calls for ("metric aggregators (counters, measures, timers,
// nominal counters keyed by variant)"): one Prometheus family per
// EventPublisher method, except that the three path events share one
// family labelled by kind, aggregated across every connection that shares
// the registry.
type metricsPublisher struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived prometheus.Counter
	packetsLost     *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	rttSmoothed     prometheus.Gauge
	congestionWindow prometheus.Gauge
	bytesInFlight    prometheus.Gauge
	pathEvents       *prometheus.CounterVec
	migrations       prometheus.Counter
	streamsOpened    prometheus.Counter
	streamsClosed    prometheus.Counter
	connStateChanges *prometheus.CounterVec
}

func newMetricsPublisher(reg prometheus.Registerer) *metricsPublisher {
	m := &metricsPublisher{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "packets_sent_total",
		}, []string{"space"}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "packets_received_total",
		}),
		packetsLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "packets_lost_total",
		}, []string{"space", "persistent"}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "packets_dropped_total",
		}, []string{"reason"}),
		rttSmoothed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "rtt_smoothed_seconds",
		}),
		congestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "congestion_window_bytes",
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "bytes_in_flight",
		}),
		pathEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "path_events_total",
		}, []string{"kind"}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "migrations_total",
		}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "streams_opened_total",
		}),
		streamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "streams_closed_total",
		}),
		connStateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "connection_state_changes_total",
		}, []string{"to"}),
	}
	for _, c := range []prometheus.Collector{
		m.packetsSent, m.packetsReceived, m.packetsLost, m.packetsDropped,
		m.rttSmoothed, m.congestionWindow, m.bytesInFlight, m.pathEvents,
		m.migrations, m.streamsOpened, m.streamsClosed, m.connStateChanges,
	} {
		reg.MustRegister(c)
	}
	return m
}

func (m *metricsPublisher) OnPacketSent(e transport.PacketSentEvent) {
	m.packetsSent.WithLabelValues(e.Space.String()).Inc()
}

func (m *metricsPublisher) OnPacketReceived(transport.PacketReceivedEvent) {
	m.packetsReceived.Inc()
}

func (m *metricsPublisher) OnPacketLost(e transport.PacketLostEvent) {
	persistent := "false"
	if e.Persistent {
		persistent = "true"
	}
	m.packetsLost.WithLabelValues(e.Space.String(), persistent).Inc()
}

func (m *metricsPublisher) OnPacketDropped(e transport.PacketDroppedEvent) {
	m.packetsDropped.WithLabelValues(droppedReasonString(e.Reason)).Inc()
}

func (m *metricsPublisher) OnRTTSample(e transport.RTTSampleEvent) {
	m.rttSmoothed.Set(e.Smoothed.Seconds())
}

func (m *metricsPublisher) OnCongestionStateChange(e transport.CongestionStateChangeEvent) {
	m.congestionWindow.Set(float64(e.CongestionWindow))
	m.bytesInFlight.Set(float64(e.BytesInFlight))
}

func (m *metricsPublisher) OnPathValidated(transport.PathEvent)      { m.pathEvents.WithLabelValues("validated").Inc() }
func (m *metricsPublisher) OnPathChallengeSent(transport.PathEvent)  { m.pathEvents.WithLabelValues("challenge_sent").Inc() }
func (m *metricsPublisher) OnPathAbandoned(transport.PathEvent)      { m.pathEvents.WithLabelValues("abandoned").Inc() }

func (m *metricsPublisher) OnMigration(transport.MigrationEvent) { m.migrations.Inc() }

func (m *metricsPublisher) OnStreamOpened(transport.StreamEvent) { m.streamsOpened.Inc() }
func (m *metricsPublisher) OnStreamClosed(transport.StreamEvent) { m.streamsClosed.Inc() }

func (m *metricsPublisher) OnConnectionStateChange(e transport.ConnectionStateChangeEvent) {
	m.connStateChanges.WithLabelValues(e.To.String()).Inc()
}

func droppedReasonString(r transport.PacketDroppedReason) string {
	switch r {
	case transport.DroppedDecryptError:
		return "decrypt_error"
	case transport.DroppedKeyUnavailable:
		return "key_unavailable"
	case transport.DroppedDuplicate:
		return "duplicate"
	case transport.DroppedUnexpectedSpace:
		return "unexpected_space"
	case transport.DroppedMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var _ transport.EventPublisher = (*metricsPublisher)(nil)
