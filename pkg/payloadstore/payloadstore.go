// Package payloadstore is the id -> opaque source payload lookup backing
// the data-map segment: the bytes a search result's id maps back to
// (the original's SOURCE_DATA map, consulted once per k-ann result to
// attach the caller's own data alongside the similarity score).
//
// Adapted from the teacher's document store: where that store composed
// several prefixed KV keys per document, this domain only ever needs one
// flat id -> bytes association, so it is just an ordermap.Map opened
// directly over the data-map segment rather than a composite-key scheme.
package payloadstore

import "github.com/clankpan/vectune/pkg/ordermap"

// Store is a thin, named wrapper around an ordermap.Map scoped to the
// data-map segment, kept as its own type so callers don't confuse it with
// the backlinks map (which is also an ordermap.Map, over a different
// segment).
type Store struct {
	m *ordermap.Map
}

// Open reconstructs a Store from the data-map segment's existing bytes
// (the chunk loader writes this segment's bytes directly from uploaded
// chunks; Open just interprets what is already there).
func Open(m *ordermap.Map) *Store {
	return &Store{m: m}
}

// Get returns the payload bytes associated with id, if any.
func (s *Store) Get(id uint32) ([]byte, bool) {
	return s.m.Get(id)
}

// Set stores (or overwrites) the payload bytes for id.
func (s *Store) Set(id uint32, payload []byte) {
	s.m.Set(id, payload)
}

// Delete removes id's payload, reporting whether it was present.
func (s *Store) Delete(id uint32) bool {
	return s.m.Delete(id)
}
