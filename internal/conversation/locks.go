package conversation

import "sync"

// userLocks is a keyed mutex. Entries are reference counted and removed when
// no goroutine holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

func (l *userLocks) lock(userID int64) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *userLocks) unlock(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[userID]
	if !ok {
		return
	}
	entry.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// heldLock tracks whether the current event still holds its user's lock
type heldLock struct {
	locks  *userLocks
	userID int64
	held   bool
}

func (l *userLocks) acquire(userID int64) *heldLock {
	l.lock(userID)
	return &heldLock{locks: l, userID: userID, held: true}
}

func (h *heldLock) release() {
	if h.held {
		h.held = false
		h.locks.unlock(h.userID)
	}
}

func (h *heldLock) reacquire() {
	if !h.held {
		h.locks.lock(h.userID)
		h.held = true
	}
}
