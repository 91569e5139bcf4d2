package processor

import (
	"sync"

	id "trustledger/pkg/domain"
)

// subjectLocks serializes mirror application per subject. Locks are never
// reclaimed; the subject population is bounded by the registry.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[id.Address]*sync.Mutex
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[id.Address]*sync.Mutex)}
}

func (l *subjectLocks) lock(subject id.Address) func() {
	l.mu.Lock()
	m, ok := l.locks[subject]
	if !ok {
		m = &sync.Mutex{}
		l.locks[subject] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
