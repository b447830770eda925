package cache

import (
	"context"
	"sync"

	"github.com/erp/marketsync/internal/domain/shared"
)

// lockEntry is one held key. sem has capacity one; waiters counts holders
// plus goroutines waiting so the entry can be dropped when unused.
type lockEntry struct {
	sem     chan struct{}
	waiters int
}

// InMemoryKeyLocker serializes work per key inside one process
type InMemoryKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewInMemoryKeyLocker creates an empty key locker
func NewInMemoryKeyLocker() *InMemoryKeyLocker {
	return &InMemoryKeyLocker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until key is held or ctx is done
func (l *InMemoryKeyLocker) Lock(ctx context.Context, key string) (shared.UnlockFunc, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.waiters++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *InMemoryKeyLocker) release(key string, e *lockEntry, held bool) {
	if held {
		<-e.sem
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.waiters--
	if e.waiters == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited
func (l *InMemoryKeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ shared.KeyLocker = (*InMemoryKeyLocker)(nil)
