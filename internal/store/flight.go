package store

import (
	"context"
	"sync"
)

// keyedLock serializes work per key. Holders of different keys never wait
// on each other; a waiter gives up when its context ends.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock func
func (k *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// held returns the number of keys with a holder or waiter
func (k *keyedLock) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
