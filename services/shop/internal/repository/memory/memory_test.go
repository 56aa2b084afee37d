package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

func TestStore_Atomic(t *testing.T) {
	s := New()
	assert.False(t, s.Atomic())

	called := false
	err := s.Do(context.Background(), func(ctx context.Context, st repository.Stores) error {
		called = true
		assert.Same(t, s, st)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestProductStore_UpdateCAS(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, err := s.Products().Create(ctx, &domain.ProductDraft{Name: "Кружка", Price: 500, Stock: 3})
	require.NoError(t, err)

	a, _ := s.Products().Get(ctx, p.ID)
	b, _ := s.Products().Get(ctx, p.ID)

	a.Stock = 2
	require.NoError(t, s.Products().Update(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	b.Stock = 1
	assert.ErrorIs(t, s.Products().Update(ctx, b), domain.ErrVersionConflict)

	cur, _ := s.Products().Get(ctx, p.ID)
	assert.Equal(t, 2, cur.Stock)
}

func TestProductStore_GetMany(t *testing.T) {
	ctx := context.Background()
	s := New()

	var ids []string
	for _, name := range []string{"x", "y", "z"} {
		p, err := s.Products().Create(ctx, &domain.ProductDraft{Name: name, Price: 1, Stock: 1})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	got, err := s.Products().GetMany(ctx, []string{ids[2], ids[0], ids[1], ids[0]})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].ID, got[i].ID)
	}

	_, err = s.Products().GetMany(ctx, []string{ids[0], "missing"})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCouponStore_Issue(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	c, err := s.Coupons().Create(ctx, &domain.CouponDraft{
		Code:          "ONE",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: 100,
		TotalQuantity: 1,
	})
	require.NoError(t, err)

	_, err = s.Coupons().Create(ctx, &domain.CouponDraft{Code: "ONE"})
	assert.ErrorIs(t, err, domain.ErrCouponCodeExists)

	stale := *c
	g, err := s.Coupons().Issue(ctx, c, "u-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, c.IssuedQuantity)
	assert.Equal(t, "u-1", g.UserID)

	_, err = s.Coupons().Issue(ctx, &stale, "u-2", now)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = s.Coupons().Issue(ctx, c, "u-1", now)
	assert.ErrorIs(t, err, domain.ErrVersionConflict, "тираж исчерпан")

	found, err := s.Grants().Find(ctx, "u-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, found.ID)
}

func TestGrantStore_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	c, err := s.Coupons().Create(ctx, &domain.CouponDraft{Code: "X", TotalQuantity: 5})
	require.NoError(t, err)
	g, err := s.Coupons().Issue(ctx, c, "u-1", now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Grants().MarkUsed(ctx, g.ID, now); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)

	require.NoError(t, s.Grants().Release(ctx, g.ID))
	got, _ := s.Grants().Get(ctx, g.ID)
	assert.False(t, got.Used)
}

func TestBalanceStore_Discard(t *testing.T) {
	ctx := context.Background()
	s := New()

	e1, _ := s.BalanceHistory().Append(ctx, &domain.BalanceEntryDraft{UserID: "u-1", Type: domain.EntryCharge, Amount: 100, BalanceAfter: 100})
	e2, _ := s.BalanceHistory().Append(ctx, &domain.BalanceEntryDraft{UserID: "u-1", Type: domain.EntryUse, Amount: 40, BalanceAfter: 60})
	_, _ = s.BalanceHistory().Append(ctx, &domain.BalanceEntryDraft{UserID: "u-2", Type: domain.EntryCharge, Amount: 5, BalanceAfter: 5})

	require.NoError(t, s.BalanceHistory().Discard(ctx, e2.ID))

	entries, err := s.BalanceHistory().ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e1.ID, entries[0].ID)
}

func TestOrderStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	draft, err := domain.NewOrderDraft("u-1", []domain.OrderLine{{ProductID: "p", UnitPrice: 10, Quantity: 1}}, time.Now(), 0)
	require.NoError(t, err)
	o, err := s.Orders().Create(ctx, draft)
	require.NoError(t, err)

	o.Lines[0].Quantity = 100
	got, _ := s.Orders().Get(ctx, o.ID)
	assert.Equal(t, 1, got.Lines[0].Quantity)

	require.NoError(t, got.Confirm(10, time.Now()))
	require.NoError(t, s.Orders().Update(ctx, got))
	assert.Equal(t, int64(1), got.Version)

	o.Version = 0
	assert.ErrorIs(t, s.Orders().Update(ctx, o), domain.ErrVersionConflict)
}
