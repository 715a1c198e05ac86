// Package terminal keeps the recent raw PTY output of every agent so a viewer
// that subscribes late can be shown the tail instead of a blank screen.
package terminal

import (
	"strings"
	"sync"
)

// DefaultMaxBytes is the per-agent replay cap.
const DefaultMaxBytes = 256 * 1024

// ring is a bounded FIFO of output chunks. The newest chunk is never evicted,
// even when it alone exceeds the cap.
type ring struct {
	chunks []string
	size   int
}

func (r *ring) append(chunk string, maxBytes int) {
	r.chunks = append(r.chunks, chunk)
	r.size += len(chunk)

	drop := 0
	for r.size > maxBytes && drop < len(r.chunks)-1 {
		r.size -= len(r.chunks[drop])
		drop++
	}
	if drop > 0 {
		r.chunks = append(r.chunks[:0:0], r.chunks[drop:]...)
	}
}

// Store is a thread-safe map of agent id to output ring.
type Store struct {
	mu       sync.Mutex
	rings    map[string]*ring
	maxBytes int
}

// NewStore creates a store capping each agent's history at maxBytes
// (DefaultMaxBytes when <= 0).
func NewStore(maxBytes int) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		rings:    make(map[string]*ring),
		maxBytes: maxBytes,
	}
}

// Append records a raw chunk for agentID. deliver, when not nil, runs before
// the lock is released, so live delivery and Attach see chunks in the same
// order. Empty chunks are ignored.
func (s *Store) Append(agentID, chunk string, deliver func()) {
	if chunk == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[agentID]
	if !ok {
		r = &ring{}
		s.rings[agentID] = r
	}
	r.append(chunk, s.maxBytes)
	if deliver != nil {
		deliver()
	}
}

// Attach calls join with the buffered output of agentID while no chunk can be
// appended. A viewer that joins its room inside join sees every later chunk
// live and no earlier chunk twice.
func (s *Store) Attach(agentID string, join func(replay string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := ""
	if r, ok := s.rings[agentID]; ok {
		replay = strings.Join(r.chunks, "")
	}
	join(replay)
}

// Clear drops all history for agentID. Called when an agent is removed for good.
func (s *Store) Clear(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, agentID)
}
