package polling

import "sync"

// keyLocks serializes poll cycles per target. The scheduler owns the map
// and passes it into cycle invocations; nothing else can reach it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[int64]*sync.Mutex)}
}

// tryAcquire attempts to take the lock for a target without blocking. A
// cycle that cannot acquire is skipped, not queued, so a slow target never
// builds a backlog.
func (k *keyLocks) tryAcquire(targetID int64) bool {
	k.mu.Lock()
	l, ok := k.locks[targetID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[targetID] = l
	}
	k.mu.Unlock()
	return l.TryLock()
}

func (k *keyLocks) release(targetID int64) {
	k.mu.Lock()
	l := k.locks[targetID]
	k.mu.Unlock()
	if l != nil {
		l.Unlock()
	}
}
