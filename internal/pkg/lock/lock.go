// Package lock provides per-key locking for read-modify-write sequences on
// shared keys such as cache entries and files.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex wraps a mutex with the number of goroutines holding or waiting
// for it, so idle keys can be dropped.
type keyMutex struct {
	mu   sync.Mutex
	refs int
	held bool // guarded by KeyLock.mu
}

// KeyLock provides one mutex per string key. Entries exist only while some
// goroutine holds or waits for the key.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
	pool  sync.Pool
}

// New creates a KeyLock.
func New() *KeyLock {
	return &KeyLock{
		locks: make(map[string]*keyMutex),
		pool: sync.Pool{
			New: func() any {
				return &keyMutex{}
			},
		},
	}
}

// acquire returns the mutex for key with its reference taken.
func (kl *KeyLock) acquire(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = kl.pool.Get().(*keyMutex)
		m.refs = 0
		m.held = false
		kl.locks[key] = m
	}
	m.refs++
	return m
}

// release drops a reference and recycles the entry once nobody uses it.
func (kl *KeyLock) release(key string, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(kl.locks, key)
		kl.pool.Put(m)
	}
}

func (kl *KeyLock) markHeld(m *keyMutex) {
	kl.mu.Lock()
	m.held = true
	kl.mu.Unlock()
}

// Lock blocks until the key is held.
func (kl *KeyLock) Lock(key string) {
	m := kl.acquire(key)
	m.mu.Lock()
	kl.markHeld(m)
}

// Unlock releases the key. Unlocking a key that is not held, including
// one that others are only waiting for, is a no-op.
func (kl *KeyLock) Unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	if !ok || !m.held {
		kl.mu.Unlock()
		return
	}
	m.held = false
	kl.mu.Unlock()

	m.mu.Unlock()
	kl.release(key, m)
}

// TryLock acquires the key without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyLock) TryLock(key string) bool {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		kl.markHeld(m)
		return true
	}
	kl.release(key, m)
	return false
}

// LockWithTimeout waits up to timeout (or until ctx ends) for the key.
func (kl *KeyLock) LockWithTimeout(ctx context.Context, key string, timeout time.Duration) bool {
	m := kl.acquire(key)

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		kl.markHeld(m)
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-timeoutCtx.Done():
		// The waiter still owns a reference; hand the lock straight back
		// once it gets through.
		go func() {
			<-done
			kl.mu.Lock()
			m.held = false
			kl.mu.Unlock()
			m.mu.Unlock()
			kl.release(key, m)
		}()
		return false
	}
}

// WithLock runs fn while holding key.
func (kl *KeyLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext is WithLock bounded by timeout and ctx.
func (kl *KeyLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if !kl.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// IsLocked reports whether key is currently held.
// Note: This is a point-in-time check and may change immediately after.
func (kl *KeyLock) IsLocked(key string) bool {
	m := kl.acquire(key)
	defer kl.release(key, m)
	if m.mu.TryLock() {
		m.mu.Unlock()
		return false
	}
	return true
}

// Len returns the number of keys currently tracked.
func (kl *KeyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
