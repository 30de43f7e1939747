package common

import (
	"time"

	"emperror.dev/errors"
	"github.com/mediocregopher/radix/v3"
)

// TryLockRedisKey locks the key and, if it succeeded, sets it to expire
// after maxDur seconds so that nothing stays locked forever if something
// goes wrong.
func TryLockRedisKey(key string, maxDur int) (bool, error) {
	var resp string
	err := RedisPool.Do(radix.FlatCmd(&resp, "SET", key, true, "NX", "EX", maxDur))
	if err != nil {
		return false, err
	}

	return resp == "OK", nil
}

var ErrMaxLockAttemptsExceeded = errors.Sentinel("max lock attempts exceeded")

// BlockingLockRedisKey blocks until it succeeded to lock the key, up to
// maxTryDuration (0 = no limit).
func BlockingLockRedisKey(key string, maxTryDuration time.Duration, maxLockDurSeconds int) error {
	started := time.Now()
	sleepDur := time.Millisecond * 100
	maxSleep := time.Second

	for {
		if maxTryDuration != 0 && time.Since(started) > maxTryDuration {
			return ErrMaxLockAttemptsExceeded
		}

		locked, err := TryLockRedisKey(key, maxLockDurSeconds)
		if err != nil {
			return ErrWithCaller(err)
		}

		if locked {
			return nil
		}

		time.Sleep(sleepDur)
		sleepDur *= 2
		if sleepDur > maxSleep {
			sleepDur = maxSleep
		}
	}
}

func UnlockRedisKey(key string) {
	RedisPool.Do(radix.Cmd(nil, "DEL", key))
}
