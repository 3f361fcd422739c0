package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrEmptyKey  = errors.New("lock key cannot be empty")
	ErrNotHeld   = errors.New("lock was not held or already expired")
	ErrBadExpiry = errors.New("lock expiry must be greater than 0")
	ErrNilClient = errors.New("redis client is nil")
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// RedisLocker hands out single-attempt RedLock mutexes. A lock that is never
// released expires after the configured expiry.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client goredislib.UniversalClient, expiry time.Duration, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if expiry <= 0 {
		return nil, ErrBadExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}, nil
}

// TryLock makes one attempt at key. acquired is false with a nil error when
// someone else holds the lock.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			l.logger.Debug("lock busy", zap.String("key", key))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	unlock := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		if !ok {
			return ErrNotHeld
		}
		return nil
	}
	return unlock, true, nil
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
