package transport

import "time"

// TransmissionMode distinguishes why a packet was sent, since loss
// recovery treats MTU probes specially: their loss decrements
// bytes-in-flight but never signals congestion (spec.md §4.E/F).
type TransmissionMode uint8

const (
	TransmissionNormal TransmissionMode = iota
	TransmissionMTUProbing
	TransmissionLossProbe
)

// PathID identifies a Path within a path manager's ordered set.
type PathID int

const invalidPathID PathID = -1

// sentPacketRecord is the per-packet-number-space record spec.md's data
// model names: packet number, sent timestamp, byte count, ack-eliciting
// flag, ECN mark, transmission mode and path id. The byte count is stored
// for every packet; CongestionControlled says whether it counts toward
// bytes in flight. It lives in the sent-packet table from insertion at transmit to
// removal on ACK or loss-declaration.
type sentPacketRecord struct {
	PacketNumber       PacketNumber
	SentTime           time.Time
	Bytes              uint64 // counted in flight only if CongestionControlled
	CongestionControlled bool
	AckEliciting       bool
	ECN                EcnCounts
	Mode               TransmissionMode
	PathID             PathID
	AppLimited         bool
	Frames             []Frame // frames carried, for retransmission on loss
}

// sentPacketTable is an ordered map of packet-number to sentPacketRecord
// for one packet number space (component E). Packet numbers only ever
// increase within a space, so a slice kept in ascending order serves both
// as the map and as the ordered iteration loss detection's
// earliest-candidate search needs.
type sentPacketTable struct {
	records []sentPacketRecord
}

func (t *sentPacketTable) insert(r sentPacketRecord) {
	t.records = append(t.records, r)
}

// get returns the record for pn and whether it is present.
func (t *sentPacketTable) get(pn PacketNumber) (*sentPacketRecord, bool) {
	for i := range t.records {
		if t.records[i].PacketNumber == pn {
			return &t.records[i], true
		}
	}
	return nil, false
}

// remove deletes the record for pn, if present.
func (t *sentPacketTable) remove(pn PacketNumber) {
	for i := range t.records {
		if t.records[i].PacketNumber == pn {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return
		}
	}
}

// removeAll deletes every record with a packet number in pns.
func (t *sentPacketTable) removeAll(pns []PacketNumber) {
	if len(pns) == 0 {
		return
	}
	set := make(map[PacketNumber]struct{}, len(pns))
	for _, pn := range pns {
		set[pn] = struct{}{}
	}
	kept := t.records[:0]
	for _, r := range t.records {
		if _, drop := set[r.PacketNumber]; !drop {
			kept = append(kept, r)
		}
	}
	t.records = kept
}

func (t *sentPacketTable) len() int { return len(t.records) }

func (t *sentPacketTable) empty() bool { return len(t.records) == 0 }

// sumBytes returns the sum of congestion-controlled bytes across every
// tracked record, the invariant checked by spec.md §8 property 1.
func (t *sentPacketTable) sumBytes() uint64 {
	var sum uint64
	for _, r := range t.records {
		if r.CongestionControlled {
			sum += r.Bytes
		}
	}
	return sum
}

// clear drops every record, used when a packet number space is dropped
// entirely (e.g. after the handshake completes).
func (t *sentPacketTable) clear() {
	t.records = nil
}
