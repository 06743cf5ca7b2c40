package workflow

import "sync"

// lockTable serializes operations per request id. Decide and Cancel on
// the same request must not interleave; cross-request operations run
// in parallel without coordination.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*requestLock
}

type requestLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*requestLock)}
}

// acquire locks the given request id and returns the release
// function. Entries are reference-counted and removed when unused so
// the table does not grow with request history.
func (t *lockTable) acquire(id int64) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &requestLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
