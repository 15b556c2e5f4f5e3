package files

import "sync"

// userLocks holds one RWMutex per user. Mutations of a user's tree share
// it; Reconcile holds it exclusively so the counter it writes cannot drop
// bytes reserved by an upload still in flight.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.RWMutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.RWMutex)}
}

func (l *userLocks) get(userID int64) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[userID] = m
	}
	return m
}

// shared locks userID for a mutation and returns the unlock function.
func (l *userLocks) shared(userID int64) func() {
	m := l.get(userID)
	m.RLock()
	return m.RUnlock
}

// exclusive locks userID against every mutation.
func (l *userLocks) exclusive(userID int64) func() {
	m := l.get(userID)
	m.Lock()
	return m.Unlock
}
