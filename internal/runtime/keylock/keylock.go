// Package keylock provides a mutex per int64 key. Entries are created on
// first use and dropped when the last holder or waiter leaves.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // one token; holding it means holding the lock
	refs int
}

type Locks struct {
	mu sync.Mutex
	m  map[int64]*entry
}

func New() *Locks {
	return &Locks{m: map[int64]*entry{}}
}

func (l *Locks) acquireRef(key int64) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.m[key]
	if e == nil {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		l.m[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) releaseRef(key int64, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.m, key)
	}
}

// Lock blocks until key is free or ctx ends. The returned func unlocks
// and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, key int64) (func(), error) {
	e := l.acquireRef(key)
	select {
	case <-e.ch:
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.ch <- struct{}{}
			l.releaseRef(key, e)
		})
	}, nil
}

// TryLock takes key only if it is free.
func (l *Locks) TryLock(key int64) (func(), bool) {
	e := l.acquireRef(key)
	select {
	case <-e.ch:
	default:
		l.releaseRef(key, e)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.ch <- struct{}{}
			l.releaseRef(key, e)
		})
	}, true
}

// Len is the number of keys currently held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
