package cart

import (
	"context"
	"sync"
)

// keyedMutex serializes work per product id while letting different ids proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyLock)}
}

// Lock blocks until id is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, id int64) error {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(id, l)
		return ctx.Err()
	}
}

func (k *keyedMutex) Unlock(id int64) {
	k.mu.Lock()
	l, ok := k.locks[id]
	k.mu.Unlock()
	if !ok {
		panic("cart: unlock of unlocked product")
	}

	<-l.sem
	k.release(id, l)
}

// Held reports whether a mutation on id currently holds the lock.
func (k *keyedMutex) Held(id int64) bool {
	k.mu.Lock()
	l, ok := k.locks[id]
	k.mu.Unlock()
	return ok && len(l.sem) > 0
}

func (k *keyedMutex) release(id int64, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}
