// Package lock: блокировки по ключу для выдачи купонов.
//
// Блокировка только снижает число конфликтов версий: корректность выдачи
// держится на compare-and-increment в хранилище.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired: блокировку не удалось взять до отмены context.
var ErrNotAcquired = errors.New("блокировка не получена")

// Unlock освобождает блокировку. Повторный вызов ничего не делает.
type Unlock func()

// Locker выдаёт эксклюзивную блокировку по ключу.
type Locker interface {
	// Lock ждёт блокировку key, пока не отменён ctx.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Noop: Locker без блокировки.
type Noop struct{}

func (Noop) Lock(context.Context, string) (Unlock, error) {
	return func() {}, nil
}
