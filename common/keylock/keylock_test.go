package keylock

import (
	"testing"
	"time"
)

type guildUserKey struct {
	GuildID int64
	UserID  int64
}

func TestKeyLockBlocks(t *testing.T) {
	locker := New[guildUserKey]()
	key := guildUserKey{GuildID: 1, UserID: 2}

	h := locker.Lock(key, time.Second, time.Minute)
	if h == -1 {
		t.Fatal("failed locking fresh key")
	}

	startedWaiting := time.Now()
	go func(lh int64) {
		time.Sleep(time.Second)
		locker.Unlock(key, lh)
	}(h)

	h2 := locker.Lock(key, time.Minute, time.Minute)
	locker.Unlock(key, h2)

	if time.Since(startedWaiting) < time.Second {
		t.Error("did not wait a second before locking key ", time.Since(startedWaiting))
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	locker := New[guildUserKey]()

	h := locker.Lock(guildUserKey{GuildID: 1, UserID: 2}, time.Second, time.Minute)
	if h == -1 {
		t.Fatal("failed locking fresh key")
	}

	// a different user in the same guild must not contend
	h2 := locker.Lock(guildUserKey{GuildID: 1, UserID: 3}, time.Millisecond*100, time.Minute)
	if h2 == -1 {
		t.Error("lock on unrelated key blocked")
	}
}

func TestKeyLockTimeout(t *testing.T) {
	locker := New[guildUserKey]()
	key := guildUserKey{GuildID: 1, UserID: 2}

	locker.Lock(key, time.Second, time.Minute)

	h := locker.Lock(key, time.Millisecond*300, time.Minute)
	if h != -1 {
		t.Error("expected -1 on timeout, got ", h)
	}
}

func TestKeyLockStaleHandle(t *testing.T) {
	locker := New[guildUserKey]()
	key := guildUserKey{GuildID: 1, UserID: 2}

	h := locker.Lock(key, time.Second, time.Millisecond*50)
	time.Sleep(time.Millisecond * 100)

	// ttl expired, someone else grabs the key
	h2 := locker.Lock(key, time.Second, time.Minute)
	if h2 == -1 {
		t.Fatal("failed locking expired key")
	}

	// the stale handle must not release the new holder's lock
	locker.Unlock(key, h)
	h3 := locker.Lock(key, time.Millisecond*300, time.Minute)
	if h3 != -1 {
		t.Error("stale handle released a re-locked key")
	}
}

func BenchmarkKeyLock(b *testing.B) {
	locker := New[guildUserKey]()
	key := guildUserKey{GuildID: 1, UserID: 2}

	for i := 0; i < b.N; i++ {
		h := locker.Lock(key, time.Minute, time.Minute)
		locker.Unlock(key, h)
	}
}
