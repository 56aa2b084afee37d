package coupon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/lock"
	"example.com/storefront/services/shop/internal/repository/memory"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	allocator *Allocator
	coupon    *domain.Coupon
}

func newFixture(t *testing.T, locker lock.Locker, total int) *fixture {
	t.Helper()
	store := memory.New()
	a := NewAllocator(store, locker, retry.DefaultPolicy("test"), WithClock(func() time.Time { return now }))

	c, err := a.Create(context.Background(), domain.CouponDraft{
		Code:          "SALE10",
		Name:          "Весенняя скидка",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 10,
		TotalQuantity: total,
		IssueWindow:   domain.Window{Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
		UseWindow:     domain.Window{Start: now.Add(-time.Hour), End: now.Add(24 * time.Hour)},
	})
	require.NoError(t, err)

	return &fixture{store: store, allocator: a, coupon: c}
}

func (f *fixture) user(t *testing.T, n int) string {
	t.Helper()
	u, err := f.store.Users().Create(context.Background(), &domain.UserDraft{
		Email: fmt.Sprintf("user%d@example.com", n),
		Role:  domain.RoleCustomer,
	})
	require.NoError(t, err)
	return u.ID
}

func redisLocker(t *testing.T) lock.Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedis(client, 5*time.Second)
}

// =====================================
// Конкурентная выдача
// =====================================

// TestIssue_ExactlyTotalQuantity: 100 пользователей, 10 купонов: ровно 10 выдач.
// Проверяется для каждого вида блокировки, включая её отсутствие.
func TestIssue_ExactlyTotalQuantity(t *testing.T) {
	lockers := map[string]func(t *testing.T) lock.Locker{
		"шардированная блокировка": func(*testing.T) lock.Locker { return lock.NewSharded(lock.DefaultShards) },
		"без блокировки":           func(*testing.T) lock.Locker { return lock.Noop{} },
		"блокировка в redis":       redisLocker,
	}

	for name, mk := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk(t), 10)
			users := make([]string, 100)
			for i := range users {
				users[i] = f.user(t, i)
			}

			var issued, soldOut int32
			var wg sync.WaitGroup
			for _, userID := range users {
				wg.Add(1)
				go func(userID string) {
					defer wg.Done()
					_, err := f.allocator.Issue(context.Background(), userID, f.coupon.ID)
					switch {
					case err == nil:
						atomic.AddInt32(&issued, 1)
					case assert.ErrorIs(t, err, domain.ErrSoldOut):
						atomic.AddInt32(&soldOut, 1)
					}
				}(userID)
			}
			wg.Wait()

			assert.Equal(t, int32(10), issued)
			assert.Equal(t, int32(90), soldOut)

			c, err := f.allocator.Get(context.Background(), f.coupon.ID)
			require.NoError(t, err)
			assert.Equal(t, 10, c.IssuedQuantity)
			assert.Len(t, f.store.OutboxEvents(domain.EventCouponIssued), 10)
		})
	}
}

// TestIssue_SameUserOnce: 10 одновременных запросов одного пользователя: одна выдача.
func TestIssue_SameUserOnce(t *testing.T) {
	for name, locker := range map[string]lock.Locker{
		"шардированная блокировка": lock.NewSharded(8),
		"без блокировки":           lock.Noop{},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker, 100)
			userID := f.user(t, 1)

			var issued, already int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.allocator.Issue(context.Background(), userID, f.coupon.ID)
					switch {
					case err == nil:
						atomic.AddInt32(&issued, 1)
					case assert.ErrorIs(t, err, domain.ErrAlreadyIssued):
						atomic.AddInt32(&already, 1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), issued)
			assert.Equal(t, int32(9), already)

			grants, err := f.allocator.Grants(context.Background(), userID)
			require.NoError(t, err)
			assert.Len(t, grants, 1)
		})
	}
}

// =====================================
// Проверки выдачи
// =====================================

func TestIssue_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("неизвестный пользователь", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		_, err := f.allocator.Issue(ctx, "missing", f.coupon.ID)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("неизвестный купон", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		_, err := f.allocator.Issue(ctx, f.user(t, 1), "missing")
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})

	t.Run("вне периода выдачи", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		userID := f.user(t, 1)
		late := NewAllocator(f.store, nil, retry.DefaultPolicy("test"),
			WithClock(func() time.Time { return now.Add(time.Hour + time.Nanosecond) }))
		_, err := late.Issue(ctx, userID, f.coupon.ID)
		assert.ErrorIs(t, err, domain.ErrIssuePeriodExpired)
	})

	t.Run("граница периода включена", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		userID := f.user(t, 1)
		edge := NewAllocator(f.store, nil, retry.DefaultPolicy("test"),
			WithClock(func() time.Time { return now.Add(time.Hour) }))
		_, err := edge.Issue(ctx, userID, f.coupon.ID)
		assert.NoError(t, err)
	})

	t.Run("тираж исчерпан", func(t *testing.T) {
		f := newFixture(t, nil, 1)
		_, err := f.allocator.Issue(ctx, f.user(t, 1), f.coupon.ID)
		require.NoError(t, err)
		_, err = f.allocator.Issue(ctx, f.user(t, 2), f.coupon.ID)
		assert.ErrorIs(t, err, domain.ErrSoldOut)
	})
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, nil, 1)

	_, err := f.allocator.Create(context.Background(), domain.CouponDraft{
		Code:          "BAD",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 150,
		TotalQuantity: 1,
		IssueWindow:   domain.Window{Start: now, End: now},
		UseWindow:     domain.Window{Start: now, End: now},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDiscount)

	_, err = f.allocator.Create(context.Background(), domain.CouponDraft{
		Code:          " SALE10 ",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: 100,
		TotalQuantity: 1,
		IssueWindow:   domain.Window{Start: now, End: now},
		UseWindow:     domain.Window{Start: now, End: now},
	})
	assert.ErrorIs(t, err, domain.ErrCouponCodeExists)
}

// =====================================
// Проверка купона при оплате
// =====================================

func TestValidateAndCalculateDiscount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, 5)
	holder := f.user(t, 1)
	stranger := f.user(t, 2)

	grant, err := f.allocator.Issue(ctx, holder, f.coupon.ID)
	require.NoError(t, err)

	t.Run("пустой код", func(t *testing.T) {
		d, err := f.allocator.ValidateAndCalculateDiscount(ctx, holder, "   ", 30000)
		require.NoError(t, err)
		assert.False(t, d.Applied())
		assert.Zero(t, d.Amount)
	})

	t.Run("процентная скидка", func(t *testing.T) {
		d, err := f.allocator.ValidateAndCalculateDiscount(ctx, holder, "SALE10", 30000)
		require.NoError(t, err)
		assert.True(t, d.Applied())
		assert.Equal(t, grant.ID, d.GrantID)
		assert.Equal(t, int64(3000), d.Amount)
	})

	t.Run("округление вниз", func(t *testing.T) {
		d, err := f.allocator.ValidateAndCalculateDiscount(ctx, holder, "SALE10", 999)
		require.NoError(t, err)
		assert.Equal(t, int64(99), d.Amount)
	})

	t.Run("неизвестный код", func(t *testing.T) {
		_, err := f.allocator.ValidateAndCalculateDiscount(ctx, holder, "NOPE", 100)
		assert.ErrorIs(t, err, domain.ErrCouponInvalid)
	})

	t.Run("купон не выдан", func(t *testing.T) {
		_, err := f.allocator.ValidateAndCalculateDiscount(ctx, stranger, "SALE10", 100)
		assert.ErrorIs(t, err, domain.ErrCouponInvalid)
	})

	t.Run("вне периода использования", func(t *testing.T) {
		late := NewAllocator(f.store, nil, retry.DefaultPolicy("test"),
			WithClock(func() time.Time { return now.Add(25 * time.Hour) }))
		_, err := late.ValidateAndCalculateDiscount(ctx, holder, "SALE10", 100)
		assert.ErrorIs(t, err, domain.ErrCouponNotInUsePeriod)
	})

	t.Run("купон уже использован", func(t *testing.T) {
		_, err := f.allocator.MarkUsed(ctx, grant.ID)
		require.NoError(t, err)

		_, err = f.allocator.ValidateAndCalculateDiscount(ctx, holder, "SALE10", 100)
		assert.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)
	})
}

func TestMarkUsed_NotIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, 1)

	grant, err := f.allocator.Issue(ctx, f.user(t, 1), f.coupon.ID)
	require.NoError(t, err)

	used, err := f.allocator.MarkUsed(ctx, grant.ID)
	require.NoError(t, err)
	assert.True(t, used.Used)
	require.NotNil(t, used.UsedAt)
	assert.Equal(t, now, *used.UsedAt)

	_, err = f.allocator.MarkUsed(ctx, grant.ID)
	assert.ErrorIs(t, err, domain.ErrCouponAlreadyUsed)

	require.NoError(t, f.allocator.ReleaseGrant(ctx, grant.ID))
	_, err = f.allocator.MarkUsed(ctx, grant.ID)
	assert.NoError(t, err)
}
