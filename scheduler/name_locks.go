package scheduler

import "sync"

// nameLocks hands out one mutex per alert name. Entries are dropped once no
// goroutine holds or waits for them.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*refLock)}
}

// lock blocks until name is free and returns its unlock func
func (l *nameLocks) lock(name string) func() {
	l.mu.Lock()
	rl, ok := l.locks[name]
	if !ok {
		rl = &refLock{}
		l.locks[name] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *nameLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
