package limiter

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps a failure counter that expires after window and a block key that
// expires after blockFor.
type Redis struct {
	rdb      redis.Cmdable
	prefix   string
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a redis-backed limiter.
func NewRedis(rdb redis.Cmdable, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: "bs:login:", window: window, maxFails: maxFails, blockFor: blockFor}
}

func (l *Redis) keys(username string, ipHash []byte) (fails, block string) {
	base := l.prefix + username + ":" + hex.EncodeToString(ipHash)
	return base + ":fails", base + ":block"
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(username, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, err
	}
	// -2: no key, -1: key without expiry (never written by us)
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Redis) Success(ctx context.Context, username string, ipHash []byte) error {
	fails, block := l.keys(username, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure counts a failed attempt and places a block once maxFails is reached
// within window.
func (l *Redis) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := l.keys(username, ipHash)

	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, fails, l.window).Err(); err != nil {
			return false, 0, err
		}
	}
	if int(n) < l.maxFails {
		return false, 0, nil
	}
	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, block, 1, l.blockFor)
		p.Del(ctx, fails)
		return nil
	}); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
