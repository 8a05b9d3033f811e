package cooldown

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	at    time.Time
	found bool
}

// MemoryStore is a keyed in-memory cache of last-alert times. On a miss it
// reads through to the Source, if one is set, and caches the answer
// (including "never alerted") until the next Prune.
type MemoryStore struct {
	source  Source
	entries map[Key]entry
	mu      sync.RWMutex
}

// NewMemoryStore creates a store. source may be nil.
func NewMemoryStore(source Source) *MemoryStore {
	return &MemoryStore{
		source:  source,
		entries: make(map[Key]entry),
	}
}

// LastAlert implements Store
func (m *MemoryStore) LastAlert(ctx context.Context, userID, location string) (time.Time, bool, error) {
	key := Key{UserID: userID, Location: location}

	m.mu.RLock()
	e, cached := m.entries[key]
	m.mu.RUnlock()

	if cached || m.source == nil {
		return e.at, e.found, nil
	}

	at, found, err := m.source.LatestAlertAt(ctx, userID, location)
	if err != nil {
		return time.Time{}, false, err
	}

	m.mu.Lock()
	// A Record that raced the lookup wins if it is newer.
	if cur, ok := m.entries[key]; !ok || (found && at.After(cur.at)) {
		m.entries[key] = entry{at: at, found: found}
	} else {
		at, found = cur.at, cur.found
	}
	m.mu.Unlock()

	return at, found, nil
}

// Record implements Store
func (m *MemoryStore) Record(ctx context.Context, userID, location string, at time.Time) error {
	key := Key{UserID: userID, Location: location}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[key]; ok && cur.found && cur.at.After(at) {
		return nil
	}
	m.entries[key] = entry{at: at, found: true}
	return nil
}

// Prune removes entries older than cutoff along with cached misses, so the
// next lookup for those pairs goes back to the source.
func (m *MemoryStore) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if !e.found || e.at.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached pairs
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
