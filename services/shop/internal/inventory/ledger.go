// Package inventory: складской учёт: списание и возврат остатков товаров.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

// Ledger меняет остатки через CAS хранилища и повторяет операцию при конфликте версий.
type Ledger struct {
	stores repository.Stores
	policy retry.Policy
}

// NewLedger создаёт складской учёт поверх stores.
func NewLedger(stores repository.Stores, policy retry.Policy) *Ledger {
	return &Ledger{stores: stores, policy: policy}
}

// In возвращает учёт, работающий внутри единицы работы st.
func (l *Ledger) In(st repository.Stores) *Ledger {
	return &Ledger{stores: st, policy: l.policy}
}

// CreateProduct заводит товар в каталоге.
func (l *Ledger) CreateProduct(ctx context.Context, draft domain.ProductDraft) (*domain.Product, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	p, err := l.stores.Products().Create(ctx, &draft)
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("product_id", p.ID).
		Int64("price", p.Price).
		Int("stock", p.Stock).
		Msg("Товар добавлен в каталог")
	return p, nil
}

// Product возвращает товар.
func (l *Ledger) Product(ctx context.Context, productID string) (*domain.Product, error) {
	return l.stores.Products().Get(ctx, productID)
}

// Products возвращает каталог.
func (l *Ledger) Products(ctx context.Context) ([]*domain.Product, error) {
	return l.stores.Products().List(ctx)
}

// Stock возвращает текущий остаток товара.
func (l *Ledger) Stock(ctx context.Context, productID string) (int, error) {
	p, err := l.stores.Products().Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}

// DecreaseStock списывает qty единиц товара.
func (l *Ledger) DecreaseStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return retry.Do(ctx, l.policy.Named("inventory.decrease"), domain.IsRetryable, func(ctx context.Context) error {
		p, err := l.stores.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := p.Decrease(qty); err != nil {
			return err
		}
		return l.stores.Products().Update(ctx, p)
	})
}

// IncreaseStock возвращает qty единиц товара на склад.
func (l *Ledger) IncreaseStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return retry.Do(ctx, l.policy.Named("inventory.increase"), domain.IsRetryable, func(ctx context.Context) error {
		p, err := l.stores.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		if err := p.Increase(qty); err != nil {
			return err
		}
		return l.stores.Products().Update(ctx, p)
	})
}

// DecreaseBatch списывает все позиции или ни одной.
// Товары обрабатываются в порядке возрастания id.
func (l *Ledger) DecreaseBatch(ctx context.Context, adj []domain.StockAdjustment) error {
	items, err := domain.NormalizeAdjustments(adj)
	if err != nil {
		return err
	}
	if l.stores.Atomic() {
		return l.applyLocked(ctx, items, (*domain.Product).Decrease)
	}
	return l.applyCompensated(ctx, items, l.DecreaseStock, l.IncreaseStock)
}

// IncreaseBatch возвращает все позиции на склад или ни одну.
func (l *Ledger) IncreaseBatch(ctx context.Context, adj []domain.StockAdjustment) error {
	items, err := domain.NormalizeAdjustments(adj)
	if err != nil {
		return err
	}
	if l.stores.Atomic() {
		return l.applyLocked(ctx, items, (*domain.Product).Increase)
	}
	return l.applyCompensated(ctx, items, l.IncreaseStock, l.DecreaseStock)
}

// applyLocked работает в транзакции: строки товаров заблокированы
// в порядке возрастания id, поэтому конфликт версий невозможен и повтор не нужен.
// Количество берётся по id товара, а не по позиции в ответе хранилища.
func (l *Ledger) applyLocked(ctx context.Context, items []domain.StockAdjustment, change func(*domain.Product, int) error) error {
	return repository.Atomically(ctx, l.stores, func(ctx context.Context, st repository.Stores) error {
		ids := make([]string, len(items))
		qty := make(map[string]int, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
			qty[it.ProductID] = it.Quantity
		}

		products, err := st.Products().GetMany(ctx, ids)
		if err != nil {
			return err
		}

		for _, p := range products {
			q, ok := qty[p.ID]
			if !ok {
				return fmt.Errorf("товар %s: %w", p.ID, domain.ErrProductNotFound)
			}
			if err := change(p, q); err != nil {
				return fmt.Errorf("товар %s: %w", p.ID, err)
			}
			if err := st.Products().Update(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyCompensated применяет позиции по одной. При ошибке уже применённые
// откатываются в обратном порядке.
func (l *Ledger) applyCompensated(
	ctx context.Context,
	items []domain.StockAdjustment,
	apply, undo func(ctx context.Context, productID string, qty int) error,
) error {
	for i, it := range items {
		err := apply(ctx, it.ProductID, it.Quantity)
		if err == nil {
			continue
		}

		var undoErrs []error
		for j := i - 1; j >= 0; j-- {
			if uerr := undo(ctx, items[j].ProductID, items[j].Quantity); uerr != nil {
				undoErrs = append(undoErrs, uerr)
			}
		}
		if len(undoErrs) > 0 {
			logger.Ctx(ctx).Error().
				Err(errors.Join(undoErrs...)).
				Str("product_id", it.ProductID).
				Msg("Не удалось вернуть остатки после неудачного пакетного изменения")
		}
		return fmt.Errorf("товар %s: %w", it.ProductID, err)
	}
	return nil
}
