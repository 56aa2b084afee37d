package lock

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertExclusive запускает n горутин на одном ключе и проверяет,
// что в критической секции никогда не больше одной.
func assertExclusive(t *testing.T, l Locker, n int) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "coupon-1")
			if !assert.NoError(t, err) {
				return
			}
			cur := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if cur <= m || atomic.CompareAndSwapInt32(&maxInside, m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

// =====================================
// Sharded
// =====================================

func TestSharded_Exclusive(t *testing.T) {
	assertExclusive(t, NewSharded(16), 20)
}

func TestSharded_ContextCancel(t *testing.T) {
	l := NewSharded(1)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "b")
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock2, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlock2()
}

func TestSharded_DifferentShardsDoNotBlock(t *testing.T) {
	l := NewSharded(DefaultShards)

	// Ищем два ключа из разных шардов.
	a := "coupon-0"
	b := ""
	for i := 1; i < 1000; i++ {
		k := "coupon-" + strconv.Itoa(i)
		if l.shard(k) != l.shard(a) {
			b = k
			break
		}
	}
	require.NotEmpty(t, b)

	unlockA, err := l.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, b)
	require.NoError(t, err)
	unlockB()
}

func TestNewSharded_Default(t *testing.T) {
	assert.Len(t, NewSharded(0).shards, DefaultShards)
}

// =====================================
// Redis
// =====================================

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_Exclusive(t *testing.T) {
	_, client := setupRedis(t)
	assertExclusive(t, NewRedis(client, time.Second), 10)
}

func TestRedis_UnlockOnlyOwnToken(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedis(client, time.Second)

	unlock, err := l.Lock(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisKeyPrefix+"c-1"))

	// Блокировку перехватил другой владелец после истечения TTL.
	mr.Set(redisKeyPrefix+"c-1", "someone-else")
	unlock()

	got, err := mr.Get(redisKeyPrefix + "c-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_ContextCancel(t *testing.T) {
	_, client := setupRedis(t)
	l := NewRedis(client, time.Second)

	unlock, err := l.Lock(context.Background(), "c-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "c-1")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestNoop(t *testing.T) {
	unlock, err := Noop{}.Lock(context.Background(), "x")
	require.NoError(t, err)
	unlock()
}
