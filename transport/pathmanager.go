package transport

import "time"

// PathKey identifies a network path by whatever opaque token the caller
// uses for a 4-tuple. The core never parses or compares addresses itself
// (socket I/O is an external collaborator per spec.md §1); it only needs
// key equality to tell "same path" from "new path".
type PathKey string

// PathManager is component D: the ordered set of Paths a connection
// knows about, plus the bookkeeping RFC 9000 section 9 requires around
// migration (promoting a new path to active only in response to a
// non-probing packet; a path may become active before it is validated).
type PathManager struct {
	paths  []*Path
	keys   map[PathID]PathKey
	active PathID
	nextID PathID

	// lastKnownActiveValidatedPath is spec.md §4.D's silent migration
	// fallback: the most recent path that was both active and validated,
	// restored if the current active path's challenge abandons.
	lastKnownActiveValidatedPath PathID

	isServer    bool
	maxAckDelay time.Duration
	defaultMTU  uint64
}

func newPathManager(isServer bool, maxAckDelay time.Duration, defaultMTU uint64) *PathManager {
	return &PathManager{
		keys:                         make(map[PathID]PathKey),
		active:                       invalidPathID,
		lastKnownActiveValidatedPath: invalidPathID,
		isServer:                     isServer,
		maxAckDelay:                  maxAckDelay,
		defaultMTU:                   defaultMTU,
	}
}

// AddPath creates and registers a new Path, making it the active path if
// none exists yet (the connection's first path, set up before any
// datagram has been sent or received).
func (pm *PathManager) AddPath(key PathKey, localCID, peerCID []byte, cc CongestionController) *Path {
	id := pm.nextID
	pm.nextID++
	p := newPath(id, localCID, peerCID, pm.maxAckDelay, cc, pm.defaultMTU, pm.isServer)
	pm.paths = append(pm.paths, p)
	pm.keys[id] = key
	if pm.active == invalidPathID {
		pm.active = id
	}
	return p
}

// pathByID implements pathLookup for the loss recovery manager.
func (pm *PathManager) pathByID(id PathID) *Path {
	for _, p := range pm.paths {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (pm *PathManager) pathByKey(key PathKey) *Path {
	for _, p := range pm.paths {
		if pm.keys[p.id] == key {
			return p
		}
	}
	return nil
}

func (pm *PathManager) ActivePathID() PathID { return pm.active }

func (pm *PathManager) ActivePath() *Path { return pm.pathByID(pm.active) }

// OnDatagramReceived resolves the Path a datagram arrived on (spec.md
// §4.D on_datagram_received). A known 4-tuple always resolves to its
// existing path. An unseen 4-tuple is a migration candidate, gated by
// role and handshake state: a client never has a path sprung on it by
// an unrecognized peer address, and a server defers creating one until
// the handshake is confirmed, since doing so any earlier would let an
// off-path attacker spray datagrams and grow unbounded path state. The
// path created for the first datagram from a new address is marked
// pendingAuth: it is not itself a migration trigger, only the next
// datagram on that path is (see OnProcessedPacket).
func (pm *PathManager) OnDatagramReceived(key PathKey, bytes uint64, localCID, peerCID []byte, cc CongestionController, handshakeConfirmed bool, now time.Time) (*Path, error) {
	if p := pm.pathByKey(key); p != nil {
		p.OnBytesReceived(bytes)
		return p, nil
	}
	if !pm.isServer {
		return nil, newTransportError(NoViablePath, "datagram from unrecognized server address")
	}
	if !handshakeConfirmed {
		return nil, nil
	}
	p := pm.AddPath(key, localCID, peerCID, cc)
	p.pendingAuth = true
	p.OnBytesReceived(bytes)
	return p, nil
}

// HandleConnectionMigration promotes newActive to the active path (RFC
// 9000 section 9.3: migration is recognized by a non-probing packet
// arriving on a path other than the current active one). If the path
// being displaced was validated, it is preserved as
// lastKnownActiveValidatedPath, the fallback OnTimeout reverts to if
// the new active path's challenge is later abandoned.
func (pm *PathManager) HandleConnectionMigration(newActive PathID, now time.Time) error {
	p := pm.pathByID(newActive)
	if p == nil {
		return newTransportError(NoViablePath, "migration to unknown path")
	}
	if p.abandoned {
		return newTransportError(NoViablePath, "migration to abandoned path")
	}
	if prev := pm.pathByID(pm.active); prev != nil && prev.validated {
		pm.lastKnownActiveValidatedPath = pm.active
	}
	pm.active = newActive
	return nil
}

// OnProcessedPacket updates path state once a packet has been
// successfully decrypted and its frames dispatched, triggering migration
// when appropriate. nonProbing is true if the packet carried any frame
// other than PATH_CHALLENGE/PATH_RESPONSE/PADDING/NEW_CONNECTION_ID. A
// path's first processed packet only clears pendingAuth; a second one
// is what actually triggers migration consideration.
func (pm *PathManager) OnProcessedPacket(pathID PathID, nonProbing, handshakeConfirmed bool, now time.Time) error {
	p := pm.pathByID(pathID)
	if p == nil {
		return nil
	}
	p.peerValidated = p.peerValidated || nonProbing
	if p.pendingAuth {
		p.pendingAuth = false
		return nil
	}
	if nonProbing && handshakeConfirmed && pathID != pm.active {
		return pm.HandleConnectionMigration(pathID, now)
	}
	return nil
}

// OnPathResponse resolves an inbound PATH_RESPONSE against the named
// path's outstanding challenge.
func (pm *PathManager) OnPathResponse(pathID PathID, resp PathResponseFrame) bool {
	p := pm.pathByID(pathID)
	if p == nil {
		return false
	}
	return p.OnPathResponse(resp)
}

// OnTimeout sweeps every path's challenge timer. If the active path's
// challenge abandons this sweep, it falls back to
// lastKnownActiveValidatedPath when one is on record; otherwise it
// returns ErrNoValidPath, which the caller treats as a silent close
// (spec.md §4.D on_timeout). Reaping abandoned, inactive paths happens
// after the fallback decision so the displaced active path is cleaned
// up in the same sweep.
func (pm *PathManager) OnTimeout(now time.Time) error {
	activeBefore := pm.pathByID(pm.active)
	for _, p := range pm.paths {
		p.OnTimeout(now)
	}

	var err error
	if activeBefore != nil && activeBefore.abandoned {
		fallback := pm.pathByID(pm.lastKnownActiveValidatedPath)
		if fallback != nil && !fallback.abandoned {
			pm.active = pm.lastKnownActiveValidatedPath
			pm.lastKnownActiveValidatedPath = invalidPathID
		} else {
			err = ErrNoValidPath
		}
	}

	pm.reap()
	return err
}

func (pm *PathManager) reap() {
	kept := pm.paths[:0]
	for _, p := range pm.paths {
		if p.abandoned && p.id != pm.active {
			delete(pm.keys, p.id)
			continue
		}
		kept = append(kept, p)
	}
	pm.paths = kept
}

// TransmissionInterest reports whether the named path has a due
// PATH_CHALLENGE retransmission.
func (pm *PathManager) TransmissionInterest(pathID PathID, now time.Time) bool {
	p := pm.pathByID(pathID)
	if p == nil || !p.ChallengePending() {
		return false
	}
	deadline, ok := p.NextExpiration()
	return ok && !deadline.After(now)
}

// IsAmplificationLimited reports whether the named path may not send
// further unvalidated-address bytes.
func (pm *PathManager) IsAmplificationLimited(pathID PathID) bool {
	p := pm.pathByID(pathID)
	return p != nil && p.AtAmplificationLimit()
}

// CanTransmit reports whether sending n further bytes on pathID would
// stay within its anti-amplification budget.
func (pm *PathManager) CanTransmit(pathID PathID, n uint64) bool {
	p := pm.pathByID(pathID)
	if p == nil {
		return false
	}
	if !p.isServer || p.validated {
		return true
	}
	return p.bytesSent+n <= amplificationFactor*p.bytesReceived
}

// PathsPendingValidation returns every path with an outstanding
// PATH_CHALLENGE.
func (pm *PathManager) PathsPendingValidation() []PathID {
	var ids []PathID
	for _, p := range pm.paths {
		if p.ChallengePending() {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// NextExpiration is the earliest outstanding challenge deadline across
// every tracked path, folded into the connection's aggregate timer.
func (pm *PathManager) NextExpiration() (time.Time, bool) {
	var result time.Time
	found := false
	for _, p := range pm.paths {
		if t, ok := p.NextExpiration(); ok {
			if !found || t.Before(result) {
				result = t
				found = true
			}
		}
	}
	return result, found
}

func (pm *PathManager) Paths() []*Path { return pm.paths }
