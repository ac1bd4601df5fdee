package quic

// Server accepts inbound connections on a UDP socket, handing each new
// destination connection-id to a fresh transport.Connection. It is a
// thin wrapper around Endpoint, keeping Client/Server as small facades
// over the transport core.
type Server struct {
	*Endpoint
}

// NewServer builds a Server; codec and handler are supplied by the
// caller since wire decode/encode and the TLS handshake are external
// collaborators (spec.md §1).
func NewServer(cfg Config, codec Codec, handler Handler) *Server {
	return &Server{Endpoint: newEndpoint(cfg, true, codec, handler)}
}

// ListenAndServe opens addr and runs until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	return s.Listen(addr)
}

// ActiveConnections reports how many connections are currently tracked,
// useful for readiness probes and graceful-shutdown draining.
func (s *Server) ActiveConnections() int {
	return s.registry.len()
}
