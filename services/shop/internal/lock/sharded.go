package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards: размер таблицы блокировок по умолчанию.
const DefaultShards = 256

// Sharded: локальные блокировки фиксированной таблицей: ключ попадает
// в шард xxhash(key) mod N. Разные ключи одного шарда делят блокировку,
// память не растёт с числом купонов.
type Sharded struct {
	shards []chan struct{}
}

// NewSharded создаёт таблицу из n шардов. n <= 0: DefaultShards.
func NewSharded(n int) *Sharded {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Sharded{shards: make([]chan struct{}, n)}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	return s
}

func (s *Sharded) shard(key string) chan struct{} {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Lock занимает шард ключа. Ожидание прерывается отменой ctx.
func (s *Sharded) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := s.shard(key)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
