package service

import (
	"slices"
	"sync"
	"time"
)

// DefaultLockStaleAfter is how long a lock is honored before it may be reclaimed.
const DefaultLockStaleAfter = 30 * time.Minute

// LockToken identifies one acquisition of a source lock.
type LockToken uint64

type heldLock struct {
	at    time.Time
	token LockToken
}

// LockTable is a per-source advisory lock. A lock older than the staleness
// threshold is treated as abandoned and can be taken over. This keeps a
// crashed holder from blocking a source forever; it does not make two
// long-running scans of the same source safe.
type LockTable struct {
	mu         sync.Mutex
	locks      map[string]heldLock
	next       LockToken
	staleAfter time.Duration
	now        func() time.Time
}

// NewLockTable creates an empty lock table. staleAfter <= 0 uses DefaultLockStaleAfter.
func NewLockTable(staleAfter time.Duration) *LockTable {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &LockTable{
		locks:      make(map[string]heldLock),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// TryAcquire takes the lock for sourceID and returns the token to release it
// with. Returns false when a fresh lock is held.
func (t *LockTable) TryAcquire(sourceID string) (LockToken, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if held, ok := t.locks[sourceID]; ok && now.Sub(held.at) < t.staleAfter {
		return 0, false
	}
	t.next++
	t.locks[sourceID] = heldLock{at: now, token: t.next}
	return t.next, true
}

// Release drops the lock for sourceID if token still owns it. A holder whose
// lock was reclaimed as stale releases nothing.
func (t *LockTable) Release(sourceID string, token LockToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.locks[sourceID]; ok && held.token == token {
		delete(t.locks, sourceID)
	}
}

// IsActive reports whether a fresh lock is held for sourceID.
func (t *LockTable) IsActive(sourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	held, ok := t.locks[sourceID]
	return ok && t.now().Sub(held.at) < t.staleAfter
}

// Active lists the sources with a fresh lock, sorted.
func (t *LockTable) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]string, 0, len(t.locks))
	for id, held := range t.locks {
		if now.Sub(held.at) < t.staleAfter {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
