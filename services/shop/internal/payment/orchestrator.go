// Package payment: оплата заказа балансом с купоном и возврат.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/outbox"
	"example.com/storefront/pkg/saga"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/shop/internal/balance"
	"example.com/storefront/services/shop/internal/coupon"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/inventory"
	"example.com/storefront/services/shop/internal/order"
	"example.com/storefront/services/shop/internal/repository"
)

const (
	flowPay    = "pay"
	flowRefund = "refund"
)

// PayRequest: запрос на оплату. Пустой CouponCode: без купона.
type PayRequest struct {
	UserID     string
	OrderID    string
	CouponCode string
}

// PayResult: итог успешной оплаты.
type PayResult struct {
	OrderID          string
	Status           domain.OrderStatus
	TotalAmount      int64
	DiscountAmount   int64
	FinalAmount      int64
	RemainingBalance int64
	PaidAt           time.Time
}

// RefundRequest: запрос на возврат оплаченного заказа.
type RefundRequest struct {
	UserID  string
	OrderID string
}

// RefundResult: итог возврата.
type RefundResult struct {
	OrderID          string
	Status           domain.OrderStatus
	RefundAmount     int64
	RemainingBalance int64
	RefundedAt       time.Time
}

// =============================================================================
// Orchestrator: сага оплаты
// =============================================================================

// Orchestrator проводит оплату и возврат как одну единицу работы.
//
// Шаги оплаты:
//  1. проверка заказа (владелец, PENDING, срок)
//  2. чтение позиций
//  3. проверка купона и расчёт скидки
//  4. списание остатков пакетом
//  5. списание баланса (пропускается при нулевой сумме)
//  6. подтверждение заказа
//  7. погашение купона
//  8. запись о скидке
//  9. запись USE в историю баланса
//
// Шаги 4–9 и событие order.confirmed выполняются в UnitOfWork.Do.
// В транзакционном хранилище ошибка откатывает транзакцию, иначе
// выполненные шаги компенсируются в обратном порядке.
type Orchestrator struct {
	uow       repository.UnitOfWork
	orders    *order.Service
	inventory *inventory.Ledger
	coupons   *coupon.Allocator
	balance   *balance.Ledger
	now       func() time.Time
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator создаёт оркестратор оплаты.
func NewOrchestrator(
	uow repository.UnitOfWork,
	orders *order.Service,
	inv *inventory.Ledger,
	coupons *coupon.Allocator,
	bal *balance.Ledger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		uow:       uow,
		orders:    orders,
		inventory: inv,
		coupons:   coupons,
		balance:   bal,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pay оплачивает заказ.
// Неудачная оплата оставляет заказ в PENDING, остатки и баланс без изменений.
func (o *Orchestrator) Pay(ctx context.Context, req PayRequest) (res *PayResult, err error) {
	ctx, span := tracing.Start(ctx, "payment.Pay",
		attribute.String("order.id", req.OrderID),
		attribute.String("user.id", req.UserID),
		attribute.Bool("coupon", req.CouponCode != ""),
	)
	started := time.Now()
	inUnit := false
	defer func() {
		tracing.Fail(span, err)
		span.End()
		observe(flowPay, started, inUnit, err)
	}()

	log := logger.FromContext(ctx)
	now := o.now()

	// 1–2. Заказ и его позиции.
	ord, err := o.orders.ValidateForPayment(ctx, req.UserID, req.OrderID, now)
	if err != nil {
		return nil, err
	}

	// 3. Купон.
	discount, err := o.coupons.ValidateAndCalculateDiscount(ctx, req.UserID, req.CouponCode, ord.TotalAmount)
	if err != nil {
		return nil, err
	}
	applied := min(discount.Amount, ord.TotalAmount)
	final := ord.TotalAmount - applied

	// После начала изменений отмена клиента не должна прервать откат.
	ctx = context.WithoutCancel(ctx)
	inUnit = true

	res = &PayResult{
		OrderID:        ord.ID,
		TotalAmount:    ord.TotalAmount,
		DiscountAmount: applied,
		FinalAmount:    final,
		PaidAt:         now,
	}

	err = o.uow.Do(ctx, func(ctx context.Context, st repository.Stores) error {
		undo := &saga.Compensations{}
		err := o.paySteps(ctx, st, ord, discount, res, undo)
		if err != nil && !st.Atomic() {
			return rollback(ctx, undo, err)
		}
		return err
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("order_id", req.OrderID).
			Str("user_id", req.UserID).
			Msg("Оплата не прошла")
		return nil, err
	}

	log.Info().
		Str("order_id", res.OrderID).
		Str("user_id", req.UserID).
		Int64("total_amount", res.TotalAmount).
		Int64("discount_amount", res.DiscountAmount).
		Int64("final_amount", res.FinalAmount).
		Int64("remaining_balance", res.RemainingBalance).
		Msg("Заказ оплачен")
	return res, nil
}

func (o *Orchestrator) paySteps(
	ctx context.Context,
	st repository.Stores,
	ord *domain.Order,
	discount domain.Discount,
	res *PayResult,
	undo *saga.Compensations,
) error {
	inv := o.inventory.In(st)
	bal := o.balance.In(st)
	orders := o.orders.In(st)
	coupons := o.coupons.In(st)

	// 4. Остатки.
	adj := ord.Adjustments()
	if err := inv.DecreaseBatch(ctx, adj); err != nil {
		return err
	}
	undo.Add("restore_stock", func(ctx context.Context) error {
		return inv.IncreaseBatch(ctx, adj)
	})

	// 5. Баланс.
	if res.FinalAmount > 0 {
		u, err := bal.Deduct(ctx, ord.UserID, res.FinalAmount)
		if err != nil {
			return err
		}
		res.RemainingBalance = u.Balance
		undo.Add("credit_balance", func(ctx context.Context) error {
			_, err := bal.Credit(ctx, ord.UserID, res.FinalAmount)
			return err
		})
	} else {
		remaining, err := bal.Balance(ctx, ord.UserID)
		if err != nil {
			return err
		}
		res.RemainingBalance = remaining
	}

	// 6. Заказ.
	confirmed, err := orders.Confirm(ctx, ord.ID, res.FinalAmount, res.PaidAt)
	if err != nil {
		return err
	}
	res.Status = confirmed.Status
	undo.Add("reopen_order", func(ctx context.Context) error {
		return orders.RevertConfirmation(ctx, ord.ID)
	})

	if discount.Applied() {
		// 7. Купон.
		if _, err := coupons.MarkUsed(ctx, discount.GrantID); err != nil {
			return err
		}
		undo.Add("release_coupon", func(ctx context.Context) error {
			return coupons.ReleaseGrant(ctx, discount.GrantID)
		})

		// 8. Запись о скидке.
		record, err := st.Discounts().Create(ctx, &domain.OrderDiscountDraft{
			OrderID:       ord.ID,
			GrantID:       discount.GrantID,
			CouponID:      discount.CouponID,
			DiscountType:  discount.Type,
			DiscountValue: discount.Value,
			AppliedAmount: res.DiscountAmount,
		})
		if err != nil {
			return err
		}
		undo.Add("delete_discount", func(ctx context.Context) error {
			return st.Discounts().Delete(ctx, record.ID)
		})
	}

	// 9. История баланса.
	if res.FinalAmount > 0 {
		entry, err := bal.Record(ctx, ord.UserID, domain.EntryUse, res.FinalAmount, res.RemainingBalance, ord.ID)
		if err != nil {
			return err
		}
		undo.Add("discard_entry", func(ctx context.Context) error {
			return bal.Discard(ctx, entry.ID)
		})
	}

	return writeEvent(ctx, st, ord.ID, domain.EventOrderConfirmed, domain.OrderConfirmedEvent{
		OrderID:        ord.ID,
		UserID:         ord.UserID,
		TotalAmount:    res.TotalAmount,
		DiscountAmount: res.DiscountAmount,
		FinalAmount:    res.FinalAmount,
		CouponID:       discount.CouponID,
		PaidAt:         res.PaidAt,
	})
}

// Refund возвращает деньги и остатки за оплаченный заказ.
// Купон остаётся погашенным.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (res *RefundResult, err error) {
	ctx, span := tracing.Start(ctx, "payment.Refund",
		attribute.String("order.id", req.OrderID),
		attribute.String("user.id", req.UserID),
	)
	started := time.Now()
	inUnit := false
	defer func() {
		tracing.Fail(span, err)
		span.End()
		observe(flowRefund, started, inUnit, err)
	}()

	ord, err := o.orders.Get(ctx, req.UserID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(ord.Status, domain.OrderStatusRefunded) {
		return nil, &domain.TransitionError{From: ord.Status, To: domain.OrderStatusRefunded}
	}

	ctx = context.WithoutCancel(ctx)
	inUnit = true

	res = &RefundResult{
		OrderID:      ord.ID,
		RefundAmount: ord.FinalAmount,
		RefundedAt:   o.now(),
	}

	err = o.uow.Do(ctx, func(ctx context.Context, st repository.Stores) error {
		undo := &saga.Compensations{}
		err := o.refundSteps(ctx, st, ord, res, undo)
		if err != nil && !st.Atomic() {
			return rollback(ctx, undo, err)
		}
		return err
	})
	if err != nil {
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("order_id", req.OrderID).
			Msg("Возврат не прошёл")
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", res.OrderID).
		Str("user_id", req.UserID).
		Int64("refund_amount", res.RefundAmount).
		Msg("Заказ возвращён")
	return res, nil
}

func (o *Orchestrator) refundSteps(
	ctx context.Context,
	st repository.Stores,
	ord *domain.Order,
	res *RefundResult,
	undo *saga.Compensations,
) error {
	inv := o.inventory.In(st)
	bal := o.balance.In(st)
	orders := o.orders.In(st)

	steps := []func() error{
		func() error { return restoreStock(ctx, inv, ord, undo) },
		func() error { return creditRefund(ctx, bal, ord, res, undo) },
		func() error { return claimRefund(ctx, orders, ord, res, undo) },
	}
	if !st.Atomic() {
		// Без транзакции заказ захватывается первым: из двух одновременных
		// возвратов второй останавливается до изменения баланса и остатков.
		// В транзакции порядок блокировок как у оплаты: товары, пользователь, заказ.
		steps = []func() error{steps[2], steps[1], steps[0]}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	return writeEvent(ctx, st, ord.ID, domain.EventOrderRefunded, domain.OrderRefundedEvent{
		OrderID:      ord.ID,
		UserID:       ord.UserID,
		RefundAmount: res.RefundAmount,
		RefundedAt:   res.RefundedAt,
	})
}

// claimRefund переводит заказ в REFUNDED. Проходит только у одного из конкурентов.
func claimRefund(ctx context.Context, orders *order.Service, ord *domain.Order, res *RefundResult, undo *saga.Compensations) error {
	refunded, err := orders.Refund(ctx, ord.ID, res.RefundedAt)
	if err != nil {
		return err
	}
	res.Status = refunded.Status
	undo.Add("reconfirm_order", func(ctx context.Context) error {
		return orders.RevertRefund(ctx, ord.ID)
	})
	return nil
}

// creditRefund возвращает деньги и пишет запись REFUND.
func creditRefund(ctx context.Context, bal *balance.Ledger, ord *domain.Order, res *RefundResult, undo *saga.Compensations) error {
	if res.RefundAmount <= 0 {
		remaining, err := bal.Balance(ctx, ord.UserID)
		if err != nil {
			return err
		}
		res.RemainingBalance = remaining
		return nil
	}

	u, err := bal.Credit(ctx, ord.UserID, res.RefundAmount)
	if err != nil {
		return err
	}
	res.RemainingBalance = u.Balance
	undo.Add("deduct_balance", func(ctx context.Context) error {
		_, err := bal.Deduct(ctx, ord.UserID, res.RefundAmount)
		return err
	})

	entry, err := bal.Record(ctx, ord.UserID, domain.EntryRefund, res.RefundAmount, u.Balance, ord.ID)
	if err != nil {
		return err
	}
	undo.Add("discard_entry", func(ctx context.Context) error {
		return bal.Discard(ctx, entry.ID)
	})
	return nil
}

// restoreStock возвращает на склад все позиции заказа.
func restoreStock(ctx context.Context, inv *inventory.Ledger, ord *domain.Order, undo *saga.Compensations) error {
	adj := ord.Adjustments()
	if err := inv.IncreaseBatch(ctx, adj); err != nil {
		return err
	}
	undo.Add("take_stock_back", func(ctx context.Context) error {
		return inv.DecreaseBatch(ctx, adj)
	})
	return nil
}

func writeEvent(ctx context.Context, st repository.Stores, orderID, eventType string, payload any) error {
	event, err := outbox.NewEvent(ctx, domain.AggregateOrder, orderID, eventType, kafka.TopicOrderEvents, payload)
	if err != nil {
		return err
	}
	return st.Outbox().Create(ctx, event)
}

// rollback выполняет компенсации и возвращает исходную ошибку.
// Ошибки компенсаций логируются и добавляются к ней.
func rollback(ctx context.Context, undo *saga.Compensations, cause error) error {
	steps := undo.Len()
	if rbErr := undo.Rollback(ctx); rbErr != nil {
		logger.Ctx(ctx).Error().
			Err(rbErr).
			AnErr("cause", cause).
			Int("steps", steps).
			Msg("Компенсация оплаты выполнена не полностью")
		return errors.Join(cause, fmt.Errorf("компенсация: %w", rbErr))
	}
	if steps > 0 {
		logger.Ctx(ctx).Info().
			AnErr("cause", cause).
			Int("steps", steps).
			Msg("Выполненные шаги откатаны")
	}
	return cause
}

// observe пишет метрики исхода саги.
func observe(flow string, started time.Time, inUnit bool, err error) {
	metrics.PaymentDuration.WithLabelValues(flow).Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		metrics.PaymentsTotal.WithLabelValues(flow, "confirmed", "").Inc()
	case inUnit:
		metrics.PaymentsTotal.WithLabelValues(flow, "rolled_back", domain.Kind(err)).Inc()
	default:
		metrics.PaymentsTotal.WithLabelValues(flow, "failed", domain.Kind(err)).Inc()
	}
}
