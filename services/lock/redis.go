package locksvc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/timnyborg/redpot-unchained-sub001/core"
	"github.com/timnyborg/redpot-unchained-sub001/core/moodleid"
)

var (
	// ErrLockNotHeld is logged when the lock expired before fn returned.
	ErrLockNotHeld = errors.New("lock was not held or already expired")

	lockTries      = 30
	lockRetryDelay = 200 * time.Millisecond
)

// RedisLocker serialises critical sections across processes with a Redlock mutex.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger core.Logger
}

var _ moodleid.Locker = (*RedisLocker)(nil) // interface compliance check

func NewRedisClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

func NewRedisLocker(rdb redis.UniversalClient, conf *core.Config, logger core.Logger) *RedisLocker {
	expiry := conf.Moodle.LockExpiry
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		expiry: expiry,
		logger: logger,
	}
}

// WithLock runs fn while holding the lock named key and returns fn's error as is.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return errors.Wrapf(err, "acquiring lock %s", key)
	}

	defer func() {
		// ctx may be cancelled by now
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil {
			l.logger.Error(fmt.Sprintf("releasing lock %s: %v", key, err), err)
		} else if !ok {
			l.logger.Warn(fmt.Sprintf("releasing lock %s", key), ErrLockNotHeld)
		}
	}()

	return fn(ctx)
}
