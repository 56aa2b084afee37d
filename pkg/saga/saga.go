// Package saga: журнал компенсаций для многошаговых операций над
// хранилищем без общей транзакции.
//
// Каждый выполненный шаг регистрирует обратное действие; при ошибке
// Rollback вызывает их в обратном порядке.
//
//	var c saga.Compensations
//	if err := stock.Decrease(ctx, id, 1); err != nil { return err }
//	c.Add("restore_stock", func(ctx context.Context) error { return stock.Increase(ctx, id, 1) })
//	...
//	if err != nil { c.Rollback(ctx) }
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"example.com/storefront/pkg/logger"
)

// Step: обратное действие для уже выполненного шага.
type Step struct {
	Name string
	Undo func(ctx context.Context) error
}

// Compensations: стек обратных действий. Нулевое значение готово к работе.
type Compensations struct {
	mu    sync.Mutex
	steps []Step
}

// Add регистрирует обратное действие выполненного шага.
func (c *Compensations) Add(name string, undo func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, Step{Name: name, Undo: undo})
}

// Len возвращает число зарегистрированных шагов.
func (c *Compensations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

// Rollback выполняет все обратные действия в порядке, обратном регистрации.
// Ошибка одной компенсации не останавливает остальные; все ошибки
// возвращаются вместе. После вызова стек пуст.
func (c *Compensations) Rollback(ctx context.Context) error {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	log := logger.FromContext(ctx)
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.Undo(ctx); err != nil {
			log.Error().Err(err).Str("step", s.Name).Msg("Ошибка компенсации шага")
			errs = append(errs, fmt.Errorf("компенсация %s: %w", s.Name, err))
			continue
		}
		log.Debug().Str("step", s.Name).Msg("Шаг компенсирован")
	}
	return errors.Join(errs...)
}
