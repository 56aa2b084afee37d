package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginAttemptsPrefix = "shop:login_attempts:"

	// DefaultMaxLoginAttempts: неудачных попыток до блокировки.
	DefaultMaxLoginAttempts = 5

	// DefaultLockout: длительность блокировки.
	DefaultLockout = 15 * time.Minute
)

// LoginLimiter считает неудачные попытки входа по email.
type LoginLimiter interface {
	IsLocked(ctx context.Context, email string) (bool, error)
	RecordFailure(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// RedisLoginLimiter: счётчик попыток в Redis с TTL блокировки.
type RedisLoginLimiter struct {
	rdb         redis.UniversalClient
	maxAttempts int
	lockout     time.Duration
}

// NewRedisLoginLimiter создаёт LoginLimiter. Нулевые параметры заменяются значениями по умолчанию.
func NewRedisLoginLimiter(rdb redis.UniversalClient, maxAttempts int, lockout time.Duration) *RedisLoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxLoginAttempts
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &RedisLoginLimiter{rdb: rdb, maxAttempts: maxAttempts, lockout: lockout}
}

// IsLocked сообщает, исчерпан ли лимит попыток.
func (l *RedisLoginLimiter) IsLocked(ctx context.Context, email string) (bool, error) {
	n, err := l.rdb.Get(ctx, loginAttemptsPrefix+email).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки блокировки: %w", err)
	}
	return n >= l.maxAttempts, nil
}

// incrWithTTL: INCR и EXPIRE одной командой: ключ без TTL заблокировал бы вход навсегда.
var incrWithTTL = redis.NewScript(`
local val = redis.call('INCR', KEYS[1])
if val == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return val
`)

// RecordFailure увеличивает счётчик неудачных попыток.
func (l *RedisLoginLimiter) RecordFailure(ctx context.Context, email string) error {
	if err := incrWithTTL.Run(ctx, l.rdb, []string{loginAttemptsPrefix + email}, int(l.lockout.Seconds())).Err(); err != nil {
		return fmt.Errorf("ошибка увеличения счётчика попыток: %w", err)
	}
	return nil
}

// Reset сбрасывает счётчик после успешного входа.
func (l *RedisLoginLimiter) Reset(ctx context.Context, email string) error {
	if err := l.rdb.Del(ctx, loginAttemptsPrefix+email).Err(); err != nil {
		return fmt.Errorf("ошибка сброса счётчика попыток: %w", err)
	}
	return nil
}
