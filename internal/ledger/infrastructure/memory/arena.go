// Package memory holds the authoritative settlement store: a dense arena
// indexed by sequential id. The arena hands out live record pointers; only
// the engine touches them, under its call-tree guard.
package memory

import (
	"sync"

	ledger "dvp-ledger/internal/ledger/domain"
)

// Arena stores settlement records. Ids are 1-based, sequential, never reused.
type Arena struct {
	mu      sync.RWMutex
	records []*ledger.Settlement
}

// NewArena constructs an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Append stores a record, assigns the next sequential id and returns it.
func (a *Arena) Append(s *ledger.Settlement) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, s)
	s.ID = uint64(len(a.records))
	return s.ID
}

// Get returns the live record for an id, or false. Id 0 never denotes a
// real settlement.
func (a *Arena) Get(id uint64) (*ledger.Settlement, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if id == 0 || id > uint64(len(a.records)) {
		return nil, false
	}
	return a.records[id-1], true
}

// Count returns the total number of settlements ever created.
func (a *Arena) Count() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.records))
}
