// Package quic is the endpoint shell around package transport: connection
// registry, configuration, logging and metrics. It owns the UDP socket and
// the timer wheel; wire encode/decode, AEAD and the TLS handshake are
// external collaborators supplied through the Codec interface, the same
// boundary transport draws around itself.
package quic
