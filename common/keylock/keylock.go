// Package keylock implements simple per-key locks with ttl's on them,
// used to serialize mutating operations on a (guild, user) pair without a
// process-wide lock.
package keylock

import (
	"sync"
	"time"
)

type held struct {
	expires time.Time
	handle  int64
}

type KeyLock[K comparable] struct {
	mu    sync.Mutex
	locks map[K]held
	c     int64
}

func New[K comparable]() *KeyLock[K] {
	return &KeyLock[K]{
		locks: make(map[K]held),
	}
}

// Lock blocks until the key is locked or timeout has passed.
//
// On success it returns a non-negative handle to pass to Unlock; if the key
// could not be obtained within timeout it returns -1. The lock expires on
// its own after ttl so a crashed holder cannot wedge the key forever, and
// the handle guards against unlocking a key that expired and has since been
// re-locked by someone else.
func (kl *KeyLock[K]) Lock(key K, timeout time.Duration, ttl time.Duration) (handle int64) {
	started := time.Now()

	for {
		if handle, ok := kl.tryLock(key, ttl); ok {
			return handle
		}

		if time.Since(started) >= timeout {
			return -1
		}

		time.Sleep(time.Millisecond * 250)
	}
}

func (kl *KeyLock[K]) tryLock(key K, ttl time.Duration) (int64, bool) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := time.Now()
	if b, ok := kl.locks[key]; ok && now.Before(b.expires) {
		return -1, false
	}

	kl.c++
	kl.locks[key] = held{
		handle:  kl.c,
		expires: now.Add(ttl),
	}

	return kl.c, true
}

// Unlock releases the key if handle still holds it.
func (kl *KeyLock[K]) Unlock(key K, handle int64) {
	kl.mu.Lock()
	if b, ok := kl.locks[key]; ok && b.handle == handle {
		delete(kl.locks, key)
	}
	kl.mu.Unlock()
}
