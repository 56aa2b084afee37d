// Package balance: баланс пользователя и его история.
//
// Каждое изменение баланса сопровождается ровно одной записью истории,
// поэтому CHARGE − USE + REFUND по истории всегда равно балансу.
package balance

import (
	"context"
	"fmt"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

// Ledger: операции над балансом.
type Ledger struct {
	stores repository.Stores
	policy retry.Policy
}

// NewLedger создаёт учёт баланса поверх stores.
func NewLedger(stores repository.Stores, policy retry.Policy) *Ledger {
	return &Ledger{stores: stores, policy: policy}
}

// In возвращает учёт, работающий внутри единицы работы st.
func (l *Ledger) In(st repository.Stores) *Ledger {
	return &Ledger{stores: st, policy: l.policy}
}

// Charge пополняет баланс.
func (l *Ledger) Charge(ctx context.Context, userID string, amount int64) (*domain.BalanceEntry, error) {
	return l.apply(ctx, userID, amount, domain.EntryCharge, "")
}

// Use списывает amount в оплату заказа orderID.
func (l *Ledger) Use(ctx context.Context, userID string, amount int64, orderID string) (*domain.BalanceEntry, error) {
	return l.apply(ctx, userID, amount, domain.EntryUse, orderID)
}

// Refund возвращает amount за заказ orderID.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, orderID string) (*domain.BalanceEntry, error) {
	return l.apply(ctx, userID, amount, domain.EntryRefund, orderID)
}

func (l *Ledger) apply(ctx context.Context, userID string, amount int64, typ domain.EntryType, orderID string) (*domain.BalanceEntry, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var entry *domain.BalanceEntry
	err := repository.Atomically(ctx, l.stores, func(ctx context.Context, st repository.Stores) error {
		scoped := l.In(st)

		var (
			u   *domain.User
			err error
		)
		if typ == domain.EntryUse {
			u, err = scoped.Deduct(ctx, userID, amount)
		} else {
			u, err = scoped.Credit(ctx, userID, amount)
		}
		if err != nil {
			return err
		}

		entry, err = scoped.Record(ctx, userID, typ, amount, u.Balance, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("type", string(typ)).
		Int64("amount", amount).
		Int64("balance_after", entry.BalanceAfter).
		Msg("Баланс изменён")

	return entry, nil
}

// Deduct только уменьшает баланс, без записи в историю.
// Запись делает вызывающий через Record в той же единице работы.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	return l.change(ctx, "balance.deduct", userID, func(u *domain.User) error { return u.Debit(amount) })
}

// Credit только увеличивает баланс, без записи в историю.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (*domain.User, error) {
	return l.change(ctx, "balance.credit", userID, func(u *domain.User) error { return u.Credit(amount) })
}

func (l *Ledger) change(ctx context.Context, op, userID string, fn func(u *domain.User) error) (*domain.User, error) {
	return retry.DoValue(ctx, l.policy.Named(op), domain.IsRetryable, func(ctx context.Context) (*domain.User, error) {
		u, err := l.stores.Users().Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(u); err != nil {
			return nil, err
		}
		if err := l.stores.Users().Update(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	})
}

// Record добавляет запись в историю.
func (l *Ledger) Record(ctx context.Context, userID string, typ domain.EntryType, amount, balanceAfter int64, orderID string) (*domain.BalanceEntry, error) {
	return l.stores.BalanceHistory().Append(ctx, &domain.BalanceEntryDraft{
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		OrderID:      orderID,
	})
}

// Discard удаляет запись истории при откате незавершённой операции.
func (l *Ledger) Discard(ctx context.Context, entryID string) error {
	return l.stores.BalanceHistory().Discard(ctx, entryID)
}

// Balance возвращает текущий баланс.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := l.stores.Users().Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// History возвращает историю баланса в порядке добавления.
func (l *Ledger) History(ctx context.Context, userID string) ([]*domain.BalanceEntry, error) {
	if _, err := l.stores.Users().Get(ctx, userID); err != nil {
		return nil, err
	}
	return l.stores.BalanceHistory().ListByUser(ctx, userID)
}

// Reconcile сверяет баланс с историей.
// Начальный баланс пользователя считается нулевым.
func (l *Ledger) Reconcile(ctx context.Context, userID string) error {
	u, err := l.stores.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	entries, err := l.stores.BalanceHistory().ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	values := make([]domain.BalanceEntry, len(entries))
	for i, e := range entries {
		values[i] = *e
	}
	if sum := domain.SumEntries(values); sum != u.Balance {
		return fmt.Errorf("%w: пользователь %s, баланс %d, по истории %d", domain.ErrLedgerMismatch, userID, u.Balance, sum)
	}
	return nil
}
