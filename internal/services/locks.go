package services

import "sync"

// userLocks serializes state-changing operations per user identity. The
// webhook transport serves updates concurrently, so without this the
// "at most one active context per user" invariant could be raced.
type userLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

// lock acquires the per-user mutex for id and returns its unlock func.
// Mutexes are created on demand and kept for the process lifetime; the
// keyspace is bounded by the active user population.
func (l *userLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*sync.Mutex)
	}
	um, ok := l.m[id]
	if !ok {
		um = &sync.Mutex{}
		l.m[id] = um
	}
	l.mu.Unlock()

	um.Lock()
	return um.Unlock
}
