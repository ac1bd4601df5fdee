package quic

import (
	"sync"

	"github.com/rs/xid"

	"github.com/quicweave/quic/transport"
)

// connEntry pairs a live transport.Connection with the registry key it
// was filed under, the way runZeroInc-sockstats' exporter pairs a
// net.Conn with the fd-derived state its collector polls.
type connEntry struct {
	id       string
	localCID []byte
	conn     *transport.Connection
	pub      *zapPublisher
}

// registry is the concurrency boundary spec.md §5 requires: "a
// connection is never concurrently entered from two threads; the
// endpoint layer enforces this". Every lookup returns a connEntry whose
// conn field must only be driven by the single goroutine currently
// holding it (the endpoint's datagram-routing loop), never concurrently
// from two.
type registry struct {
	mu      sync.RWMutex
	byID    map[string]*connEntry
	byLocal map[string]*connEntry // keyed by local connection-id bytes
}

func newRegistry() *registry {
	return &registry{
		byID:    make(map[string]*connEntry),
		byLocal: make(map[string]*connEntry),
	}
}

// newConnID mints the process-local registry key; it has no protocol
// meaning and is never placed on the wire, unlike the connection IDs
// transport.Random produces for RFC 9000's own CID rotation.
func newConnID() string {
	return xid.New().String()
}

func (r *registry) add(localCID []byte, conn *transport.Connection, pub *zapPublisher) *connEntry {
	e := &connEntry{id: newConnID(), localCID: localCID, conn: conn, pub: pub}
	r.mu.Lock()
	r.byID[e.id] = e
	r.byLocal[string(localCID)] = e
	r.mu.Unlock()
	return e
}

func (r *registry) byLocalCID(cid []byte) (*connEntry, bool) {
	r.mu.RLock()
	e, ok := r.byLocal[string(cid)]
	r.mu.RUnlock()
	return e, ok
}

func (r *registry) remove(localCID []byte) {
	r.mu.Lock()
	if e, ok := r.byLocal[string(localCID)]; ok {
		delete(r.byID, e.id)
	}
	delete(r.byLocal, string(localCID))
	r.mu.Unlock()
}

// all returns a snapshot of every tracked entry, used by the timer sweep.
func (r *registry) all() []*connEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*connEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	return entries
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
