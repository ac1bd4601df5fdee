// Package transport implements the per-connection core of a QUIC v1
// endpoint: path management, loss recovery and stream management, as
// described by RFC 9000/9001/9002. The package is a pure state machine —
// it performs no I/O and holds no goroutines of its own. An external
// executor feeds it datagrams, timeouts and transmit opportunities and
// reads back frames to send and events to publish.
package transport
