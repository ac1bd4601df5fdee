package main

import (
	"log"

	"github.com/quicweave/quic/transport"
)

// logHandler is the quince binary's Handler: it just narrates connection
// lifecycle to stderr, the way a reference CLI client/server should
// without pretending to be a real application protocol.
type logHandler struct {
	name string
}

func (h *logHandler) OnConnectionOpen(conn *transport.Connection, streams *transport.StreamManager) {
	log.Printf("%s: connection open, state=%s", h.name, conn.State())
}

func (h *logHandler) OnConnectionClose(conn *transport.Connection, err error) {
	if err != nil {
		log.Printf("%s: connection closed: %v", h.name, err)
		return
	}
	log.Printf("%s: connection closed", h.name)
}
