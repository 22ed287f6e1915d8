// Package dedup tracks which history-database rows have already been
// surfaced, so overlapping poll windows never re-deliver a row. The
// in-memory store implements the watcher's canonical policy; the Redis
// store is an optional variant whose state survives a restart.
package dedup

import (
	"context"
	"sync"
	"time"
)

const (
	// maxEntries triggers pruning of the in-memory store.
	maxEntries = 10_000
	// entryAge is how old an entry must be before pruning may drop it.
	// Generous relative to any plausible poll overlap, so pruning never
	// breaks the no-re-delivery invariant.
	entryAge = time.Hour
)

// Store records row ids. MarkSeen is the single entry point: it reports
// whether the id was new, and records it either way.
type Store interface {
	MarkSeen(ctx context.Context, rowID int64) (isNew bool, err error)
	Prune(ctx context.Context)
}

// Memory is the default store: a map owned by one watcher, pruned when
// it exceeds maxEntries by dropping entries older than entryAge.
type Memory struct {
	mu   sync.Mutex
	seen map[int64]time.Time // first-seen time per row id
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[int64]time.Time)}
}

// MarkSeen records rowID and reports whether it was previously unseen.
func (m *Memory) MarkSeen(_ context.Context, rowID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[rowID]; ok {
		return false, nil
	}
	m.seen[rowID] = time.Now()
	return true, nil
}

// Prune bounds memory. Entries are only dropped once the store is over
// its size cap AND the entry is older than entryAge.
func (m *Memory) Prune(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.seen) <= maxEntries {
		return
	}
	cutoff := time.Now().Add(-entryAge)
	for id, firstSeen := range m.seen {
		if firstSeen.Before(cutoff) {
			delete(m.seen, id)
		}
	}
}

// Len reports the current number of tracked ids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
