package inventory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
	"example.com/storefront/services/shop/internal/repository/memory"
)

func setup(t *testing.T, stocks ...int) (*Ledger, *memory.Store, []string) {
	t.Helper()
	store := memory.New()
	var ids []string
	for i, s := range stocks {
		p, err := store.Products().Create(context.Background(), &domain.ProductDraft{
			Name:  string(rune('A' + i)),
			Price: 100,
			Stock: s,
		})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	return NewLedger(store, retry.DefaultPolicy("test")), store, ids
}

// =====================================
// Одиночные операции
// =====================================

func TestLedger_DecreaseStock(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 5)

	require.NoError(t, l.DecreaseStock(ctx, ids[0], 3))
	stock, err := l.Stock(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	assert.ErrorIs(t, l.DecreaseStock(ctx, ids[0], 3), domain.ErrOutOfStock)
	assert.ErrorIs(t, l.DecreaseStock(ctx, ids[0], 0), domain.ErrInvalidInput)
	assert.ErrorIs(t, l.DecreaseStock(ctx, "missing", 1), domain.ErrProductNotFound)

	stock, _ = l.Stock(ctx, ids[0])
	assert.Equal(t, 2, stock)
}

func TestLedger_IncreaseStock(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 0)

	require.NoError(t, l.IncreaseStock(ctx, ids[0], 4))
	assert.ErrorIs(t, l.IncreaseStock(ctx, ids[0], -1), domain.ErrInvalidQuantity)

	stock, _ := l.Stock(ctx, ids[0])
	assert.Equal(t, 4, stock)
}

// TestLedger_ConcurrentDecrease: 20 покупателей на 10 единиц: ровно 10 успешных.
func TestLedger_ConcurrentDecrease(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 10)

	var ok, outOfStock int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.DecreaseStock(ctx, ids[0], 1)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case assert.ErrorIs(t, err, domain.ErrOutOfStock):
				atomic.AddInt32(&outOfStock, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok)
	assert.Equal(t, int32(10), outOfStock)
	stock, _ := l.Stock(ctx, ids[0])
	assert.Zero(t, stock)
}

// =====================================
// Пакетные операции
// =====================================

func TestLedger_DecreaseBatch_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 5, 5, 1)

	err := l.DecreaseBatch(ctx, []domain.StockAdjustment{
		{ProductID: ids[0], Quantity: 2},
		{ProductID: ids[1], Quantity: 2},
		{ProductID: ids[2], Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	for i, want := range []int{5, 5, 1} {
		stock, _ := l.Stock(ctx, ids[i])
		assert.Equal(t, want, stock, "товар %d", i)
	}
}

func TestLedger_DecreaseBatch_MergesDuplicates(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 3)

	require.NoError(t, l.DecreaseBatch(ctx, []domain.StockAdjustment{
		{ProductID: ids[0], Quantity: 1},
		{ProductID: ids[0], Quantity: 2},
	}))
	stock, _ := l.Stock(ctx, ids[0])
	assert.Zero(t, stock)

	assert.ErrorIs(t, l.DecreaseBatch(ctx, nil), domain.ErrEmptyOrder)
}

func TestLedger_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 4, 7)

	adj := []domain.StockAdjustment{
		{ProductID: ids[1], Quantity: 3},
		{ProductID: ids[0], Quantity: 4},
	}
	require.NoError(t, l.DecreaseBatch(ctx, adj))
	require.NoError(t, l.IncreaseBatch(ctx, adj))

	a, _ := l.Stock(ctx, ids[0])
	b, _ := l.Stock(ctx, ids[1])
	assert.Equal(t, 4, a)
	assert.Equal(t, 7, b)
}

// TestLedger_OppositeOrderBatches: пакеты [A,B,C] и [C,B,A] не блокируют друг друга.
func TestLedger_OppositeOrderBatches(t *testing.T) {
	ctx := context.Background()
	l, _, ids := setup(t, 100, 100, 100)

	forward := []domain.StockAdjustment{{ProductID: ids[0], Quantity: 1}, {ProductID: ids[1], Quantity: 1}, {ProductID: ids[2], Quantity: 1}}
	backward := []domain.StockAdjustment{{ProductID: ids[2], Quantity: 1}, {ProductID: ids[1], Quantity: 1}, {ProductID: ids[0], Quantity: 1}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); assert.NoError(t, l.DecreaseBatch(ctx, forward)) }()
			go func() { defer wg.Done(); assert.NoError(t, l.DecreaseBatch(ctx, backward)) }()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("пакетные списания не завершились")
	}

	for _, id := range ids {
		stock, _ := l.Stock(ctx, id)
		assert.Equal(t, 80, stock)
	}
}

// reversedStore отдаёт GetMany в обратном порядке и ведёт себя как транзакционное хранилище.
type reversedStore struct{ *memory.Store }

func (s reversedStore) Atomic() bool { return true }

func (s reversedStore) Do(ctx context.Context, fn func(ctx context.Context, st repository.Stores) error) error {
	return fn(ctx, s)
}

func (s reversedStore) Products() repository.ProductStore {
	return reversedProducts{s.Store.Products()}
}

type reversedProducts struct{ repository.ProductStore }

func (p reversedProducts) GetMany(ctx context.Context, ids []string) ([]*domain.Product, error) {
	products, err := p.ProductStore.GetMany(ctx, ids)
	slices.Reverse(products)
	return products, err
}

func TestLedger_DecreaseBatch_MatchesQuantityByID(t *testing.T) {
	ctx := context.Background()
	_, store, ids := setup(t, 10, 10, 10)
	l := NewLedger(reversedStore{store}, retry.DefaultPolicy("test"))

	require.NoError(t, l.DecreaseBatch(ctx, []domain.StockAdjustment{
		{ProductID: ids[0], Quantity: 1},
		{ProductID: ids[1], Quantity: 2},
		{ProductID: ids[2], Quantity: 3},
	}))

	for i, want := range []int{9, 8, 7} {
		got, err := l.Stock(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, got, "товар %d", i)
	}
}

func TestLedger_CreateProduct(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t)

	p, err := l.CreateProduct(ctx, domain.ProductDraft{Name: "Чайник", Price: 2500, Stock: 3})
	require.NoError(t, err)

	got, err := l.Product(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Чайник", got.Name)

	all, err := l.Products(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = l.CreateProduct(ctx, domain.ProductDraft{Name: "Бесплатно", Price: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
