package services

import "sync"

// ownerLocks hands out one mutex per owner key. Entries are dropped when the
// last holder unlocks.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// lock blocks until key is free and returns the matching unlock.
func (l *ownerLocks) lock(key string) func() {
	l.mu.Lock()
	ol, ok := l.locks[key]
	if !ok {
		ol = &ownerLock{}
		l.locks[key] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()

	return func() {
		ol.mu.Unlock()

		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
