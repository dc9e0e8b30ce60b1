package review

import "sync"

// packageLocks provides per-package single-writer mutual exclusion.
// Entries are reference counted and removed when nobody holds or waits.
type packageLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPackageLocks() *packageLocks {
	return &packageLocks{entries: map[string]*lockEntry{}}
}

// acquire blocks until the per-id lock is held and returns the release func.
func (l *packageLocks) acquire(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
