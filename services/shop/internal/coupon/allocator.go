// Package coupon: выдача купонов с ограниченным тиражом и расчёт скидки.
//
// Выдача защищена двумя слоями. Первый: блокировка по купону (lock.Locker),
// она убирает большую часть конфликтов. Второй: повтор внутренней атомарной
// операции при конфликте версий. Гарантия «не больше TotalQuantity выдач»
// держится на compare-and-increment в хранилище и не зависит от блокировки.
package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/outbox"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/lock"
	"example.com/storefront/services/shop/internal/repository"
)

// Allocator выдаёт купоны и проверяет их при оплате.
type Allocator struct {
	stores repository.Stores
	locker lock.Locker
	policy retry.Policy
	now    func() time.Time
}

// Option настраивает Allocator.
type Option func(*Allocator)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator создаёт Allocator. locker == nil: без блокировки.
func NewAllocator(stores repository.Stores, locker lock.Locker, policy retry.Policy, opts ...Option) *Allocator {
	if locker == nil {
		locker = lock.Noop{}
	}
	a := &Allocator{
		stores: stores,
		locker: locker,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// In возвращает Allocator, работающий внутри единицы работы st.
func (a *Allocator) In(st repository.Stores) *Allocator {
	cp := *a
	cp.stores = st
	return &cp
}

// Create заводит новый купон.
func (a *Allocator) Create(ctx context.Context, draft domain.CouponDraft) (*domain.Coupon, error) {
	draft.Code = strings.TrimSpace(draft.Code)
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	c, err := a.stores.Coupons().Create(ctx, &draft)
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("coupon_id", c.ID).
		Str("code", c.Code).
		Int("total_quantity", c.TotalQuantity).
		Msg("Купон создан")
	return c, nil
}

// Get возвращает купон по id.
func (a *Allocator) Get(ctx context.Context, couponID string) (*domain.Coupon, error) {
	return a.stores.Coupons().Get(ctx, couponID)
}

// List возвращает все купоны.
func (a *Allocator) List(ctx context.Context) ([]*domain.Coupon, error) {
	return a.stores.Coupons().List(ctx)
}

// Grants возвращает купоны, выданные пользователю.
func (a *Allocator) Grants(ctx context.Context, userID string) ([]*domain.CouponGrant, error) {
	return a.stores.Grants().ListByUser(ctx, userID)
}

// Issue выдаёт купон couponID пользователю userID.
func (a *Allocator) Issue(ctx context.Context, userID, couponID string) (grant *domain.CouponGrant, err error) {
	ctx, span := tracing.Start(ctx, "coupon.Issue",
		attribute.String("coupon.id", couponID),
		attribute.String("user.id", userID),
	)
	defer func() {
		tracing.Fail(span, err)
		span.End()
		result := "issued"
		if err != nil {
			result = domain.Kind(err)
		}
		metrics.CouponIssueTotal.WithLabelValues(result).Inc()
	}()

	waitStart := time.Now()
	unlock, err := a.locker.Lock(ctx, couponID)
	metrics.CouponLockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return nil, err
	}
	defer unlock()

	grant, err = retry.DoValue(ctx, a.policy.Named("coupon.issue"), domain.IsRetryable,
		func(ctx context.Context) (*domain.CouponGrant, error) {
			return a.tryIssue(ctx, userID, couponID)
		})
	if err != nil {
		log := logger.FromContext(ctx)
		ev := log.Debug()
		if domain.Kind(err) == "internal" || errors.Is(err, domain.ErrVersionConflict) {
			ev = log.Error()
		}
		ev.Err(err).
			Str("coupon_id", couponID).
			Str("user_id", userID).
			Msg("Купон не выдан")
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("coupon_id", couponID).
		Str("user_id", userID).
		Str("grant_id", grant.ID).
		Msg("Купон выдан")
	return grant, nil
}

// tryIssue: одна попытка выдачи. Проверки повторяются на каждой попытке,
// потому что проигравший гонку должен увидеть свежее состояние купона.
func (a *Allocator) tryIssue(ctx context.Context, userID, couponID string) (*domain.CouponGrant, error) {
	now := a.now()

	if _, err := a.stores.Users().Get(ctx, userID); err != nil {
		return nil, err
	}
	c, err := a.stores.Coupons().Get(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if !c.IssueWindow.Contains(now) {
		return nil, domain.ErrIssuePeriodExpired
	}

	_, err = a.stores.Grants().Find(ctx, userID, couponID)
	switch {
	case err == nil:
		return nil, domain.ErrAlreadyIssued
	case !errors.Is(err, domain.ErrGrantNotFound):
		return nil, err
	}

	if c.Remaining() <= 0 {
		return nil, domain.ErrSoldOut
	}

	var grant *domain.CouponGrant
	err = repository.Atomically(ctx, a.stores, func(ctx context.Context, st repository.Stores) error {
		g, err := st.Coupons().Issue(ctx, c, userID, now)
		if err != nil {
			return err
		}

		event, err := outbox.NewEvent(ctx, domain.AggregateCoupon, c.ID, domain.EventCouponIssued,
			kafka.TopicCouponEvents, domain.CouponIssuedEvent{
				GrantID:  g.ID,
				CouponID: c.ID,
				UserID:   userID,
				IssuedAt: now,
			})
		if err != nil {
			return err
		}
		if err := st.Outbox().Create(ctx, event); err != nil {
			return err
		}

		grant = g
		return nil
	})
	return grant, err
}

// ValidateAndCalculateDiscount проверяет купон пользователя и считает скидку
// для суммы заказа. Пустой код: нулевая скидка без обращения к хранилищу.
func (a *Allocator) ValidateAndCalculateDiscount(ctx context.Context, userID, code string, orderAmount int64) (domain.Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Discount{}, nil
	}

	c, err := a.stores.Coupons().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return domain.Discount{}, domain.ErrCouponInvalid
		}
		return domain.Discount{}, err
	}
	if !c.UseWindow.Contains(a.now()) {
		return domain.Discount{}, domain.ErrCouponNotInUsePeriod
	}

	g, err := a.stores.Grants().Find(ctx, userID, c.ID)
	if err != nil {
		if errors.Is(err, domain.ErrGrantNotFound) {
			return domain.Discount{}, domain.ErrCouponInvalid
		}
		return domain.Discount{}, err
	}
	if g.Used {
		return domain.Discount{}, domain.ErrCouponAlreadyUsed
	}

	return domain.Discount{
		CouponID: c.ID,
		GrantID:  g.ID,
		Code:     c.Code,
		Type:     c.DiscountType,
		Value:    c.DiscountValue,
		Amount:   c.DiscountFor(orderAmount),
	}, nil
}

// MarkUsed гасит выданный купон. Не идемпотентна: второй вызов
// возвращает domain.ErrCouponAlreadyUsed.
func (a *Allocator) MarkUsed(ctx context.Context, grantID string) (*domain.CouponGrant, error) {
	return a.stores.Grants().MarkUsed(ctx, grantID, a.now())
}

// ReleaseGrant снимает отметку об использовании. Только для отката оплаты.
func (a *Allocator) ReleaseGrant(ctx context.Context, grantID string) error {
	return a.stores.Grants().Release(ctx, grantID)
}
