package autotrade

import (
	"sync"
)

// symbolLocks serializes work per symbol instead of behind one global lock
type symbolLocks struct {
	locks map[string]*sync.Mutex // symbol -> mutex
	mu    sync.Mutex             // protects the map itself
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// tryLock reports false instead of waiting when symbol is busy
func (l *symbolLocks) tryLock(symbol string) bool {
	l.mu.Lock()
	m := l.locks[symbol]
	if m == nil {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	l.mu.Unlock()

	return m.TryLock()
}

func (l *symbolLocks) unlock(symbol string) {
	l.mu.Lock()
	m := l.locks[symbol]
	l.mu.Unlock()

	if m != nil {
		m.Unlock()
	}
}
