// Package store keeps the relay's bounded in-memory event window and
// answers subscription backfill queries against it.
package store

import (
	"sync"

	"github.com/quoterelay/quoterelay/internal/nostr"
)

const (
	// DefaultMaxEvents bounds the store when no capacity is configured.
	DefaultMaxEvents = 10000

	// DefaultQueryLimit applies when a filter carries no limit.
	DefaultQueryLimit = 200

	// HardQueryLimit caps any single filter's result set.
	HardQueryLimit = 2000
)

// Store is an append-only window of accepted events with FIFO eviction.
// All methods are safe for concurrent use; readers see a consistent
// snapshot relative to writers.
type Store struct {
	mu     sync.RWMutex
	events []*nostr.Event
	max    int
}

func New(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{max: maxEvents}
}

// Add appends e, evicting from the head when over capacity.
func (s *Store) Add(e *nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if over := len(s.events) - s.max; over > 0 {
		// Copy down instead of re-slicing so evicted events are not
		// pinned by the backing array.
		kept := make([]*nostr.Event, len(s.events)-over)
		copy(kept, s.events[over:])
		s.events = kept
	}
}

// Len returns the current number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Query walks the store newest-to-oldest once per filter, collecting up
// to the filter's limit of matches. Results are concatenated across
// filters; an event matching two filters appears twice.
func (s *Store) Query(filters []nostr.Filter) []*nostr.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*nostr.Event
	for i := range filters {
		f := &filters[i]
		limit := DefaultQueryLimit
		if f.Limit != nil {
			limit = *f.Limit
		}
		if limit > HardQueryLimit {
			limit = HardQueryLimit
		}
		matched := 0
		for j := len(s.events) - 1; j >= 0 && matched < limit; j-- {
			if f.Matches(s.events[j]) {
				out = append(out, s.events[j])
				matched++
			}
		}
	}
	return out
}
