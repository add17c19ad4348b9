package memory

import (
	"context"
	"sync"
)

// Locker serialises work per key inside one process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		ch, held := l.locks[key]
		if !held {
			ch = make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			return func() { l.unlock(key, ch) }, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Locker) unlock(key string, ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == ch {
		delete(l.locks, key)
		close(ch)
	}
}
