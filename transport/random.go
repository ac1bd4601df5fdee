package transport

import "crypto/rand"

// Random is the source of randomness the core uses for connection IDs,
// PATH_CHALLENGE data and packet-number skipping. It is always passed in
// explicitly (spec.md §9): the core never reaches for a global RNG so
// that tests can supply deterministic sequences.
type Random interface {
	Read(b []byte) error
}

// CryptoRandom is the production Random backed by crypto/rand.
type CryptoRandom struct{}

func (CryptoRandom) Read(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// sequenceRandom is a deterministic Random used by tests: each Read call
// returns the next byte value (mod 256) repeated, which is all the path
// and loss-recovery tests need to distinguish one challenge from another.
type sequenceRandom struct {
	next byte
}

func (r *sequenceRandom) Read(b []byte) error {
	for i := range b {
		b[i] = r.next
	}
	r.next++
	return nil
}
