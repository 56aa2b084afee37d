// Package domain содержит unit тесты доменных сущностей магазина.
package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pendingOrder() *Order {
	return &Order{
		ID:          "order-1",
		UserID:      "user-1",
		Status:      OrderStatusPending,
		Lines:       []OrderLine{{ProductID: "p-1", ProductName: "Чайник", UnitPrice: 1500, Quantity: 2}},
		TotalAmount: 3000,
		CreatedAt:   testNow,
		ExpiresAt:   testNow.Add(OrderTTL),
	}
}

// =====================================
// Тесты NewOrderDraft
// =====================================

func TestNewOrderDraft(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		lines       []OrderLine
		expectedErr error
		total       int64
	}{
		{
			name:   "валидные позиции",
			userID: "user-1",
			lines: []OrderLine{
				{ProductID: "p-1", UnitPrice: 1000, Quantity: 2},
				{ProductID: "p-2", UnitPrice: 250, Quantity: 3},
			},
			total: 2750,
		},
		{
			name:        "пустой пользователь",
			userID:      "  ",
			lines:       []OrderLine{{ProductID: "p-1", UnitPrice: 1000, Quantity: 1}},
			expectedErr: ErrUserNotFound,
		},
		{
			name:        "пустой заказ",
			userID:      "user-1",
			expectedErr: ErrEmptyOrder,
		},
		{
			name:        "нулевое количество",
			userID:      "user-1",
			lines:       []OrderLine{{ProductID: "p-1", UnitPrice: 1000, Quantity: 0}},
			expectedErr: ErrInvalidQuantity,
		},
		{
			name:        "отрицательная цена",
			userID:      "user-1",
			lines:       []OrderLine{{ProductID: "p-1", UnitPrice: -1, Quantity: 1}},
			expectedErr: ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := NewOrderDraft(tt.userID, tt.lines, testNow, OrderTTL)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.total, draft.TotalAmount)
			assert.Equal(t, testNow.Add(30*time.Minute), draft.ExpiresAt)
		})
	}
}

func TestNewOrderDraft_DefaultTTL(t *testing.T) {
	draft, err := NewOrderDraft("user-1", []OrderLine{{ProductID: "p-1", UnitPrice: 1, Quantity: 1}}, testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(OrderTTL), draft.ExpiresAt)
}

// =====================================
// Тесты переходов
// =====================================

// TestCanTransition_Closure проверяет, что разрешены ровно три перехода.
func TestCanTransition_Closure(t *testing.T) {
	all := []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled, OrderStatusRefunded}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusConfirmed}:  true,
		{OrderStatusPending, OrderStatusCancelled}:  true,
		{OrderStatusConfirmed, OrderStatusRefunded}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusRefunded.IsTerminal())
	assert.False(t, OrderStatusConfirmed.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestOrder_Confirm(t *testing.T) {
	o := pendingOrder()
	paidAt := testNow.Add(time.Minute)

	require.NoError(t, o.Confirm(2500, paidAt))

	assert.Equal(t, OrderStatusConfirmed, o.Status)
	assert.Equal(t, int64(2500), o.FinalAmount)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, paidAt, *o.PaidAt)
	assert.Nil(t, o.CanceledAt)
	assert.Nil(t, o.RefundedAt)

	err := o.Confirm(2500, paidAt)
	assert.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestOrder_Cancel(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, o.Cancel(testNow))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	require.NotNil(t, o.CanceledAt)
	assert.Nil(t, o.PaidAt)

	var te *TransitionError
	err := o.Refund(testNow)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OrderStatusCancelled, te.From)
	assert.Equal(t, OrderStatusRefunded, te.To)
}

func TestOrder_Refund(t *testing.T) {
	o := pendingOrder()
	assert.ErrorIs(t, o.Refund(testNow), ErrInvalidOrderState)

	require.NoError(t, o.Confirm(3000, testNow))
	require.NoError(t, o.Refund(testNow.Add(time.Hour)))
	assert.Equal(t, OrderStatusRefunded, o.Status)
	require.NotNil(t, o.RefundedAt)
	assert.Equal(t, int64(3000), o.FinalAmount)

	assert.ErrorIs(t, o.Cancel(testNow), ErrInvalidOrderState)
}

func TestOrder_RevertConfirmation(t *testing.T) {
	o := pendingOrder()
	assert.ErrorIs(t, o.RevertConfirmation(testNow), ErrInvalidOrderState)

	require.NoError(t, o.Confirm(1000, testNow))
	require.NoError(t, o.RevertConfirmation(testNow))

	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Zero(t, o.FinalAmount)
	assert.Nil(t, o.PaidAt)
}

func TestOrder_RevertRefund(t *testing.T) {
	o := pendingOrder()
	assert.ErrorIs(t, o.RevertRefund(testNow), ErrInvalidOrderState)

	require.NoError(t, o.Confirm(1000, testNow))
	require.NoError(t, o.Refund(testNow))
	require.NoError(t, o.RevertRefund(testNow))

	assert.Equal(t, OrderStatusConfirmed, o.Status)
	assert.Nil(t, o.RefundedAt)
	assert.Equal(t, int64(1000), o.FinalAmount)
	require.NotNil(t, o.PaidAt)
}

// =====================================
// Тесты срока оплаты
// =====================================

func TestOrder_IsExpired_Boundary(t *testing.T) {
	o := pendingOrder()

	assert.False(t, o.IsExpired(o.ExpiresAt.Add(-time.Nanosecond)), "за наносекунду до срока")
	assert.True(t, o.IsExpired(o.ExpiresAt), "ровно в момент срока")
	assert.True(t, o.IsExpired(o.ExpiresAt.Add(time.Second)), "после срока")
}

func TestOrder_CheckPayable(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func(o *Order)
		userID      string
		now         time.Time
		expectedErr error
	}{
		{
			name:   "можно оплатить",
			userID: "user-1",
			now:    testNow.Add(29 * time.Minute),
		},
		{
			name:        "чужой заказ",
			userID:      "user-2",
			now:         testNow,
			expectedErr: ErrOrderNotFound,
		},
		{
			name:        "заказ уже оплачен",
			prepare:     func(o *Order) { _ = o.Confirm(3000, testNow) },
			userID:      "user-1",
			now:         testNow,
			expectedErr: ErrInvalidOrderState,
		},
		{
			name:        "срок истёк ровно сейчас",
			userID:      "user-1",
			now:         testNow.Add(OrderTTL),
			expectedErr: ErrOrderExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder()
			if tt.prepare != nil {
				tt.prepare(o)
			}
			err := o.CheckPayable(tt.userID, tt.now)
			if tt.expectedErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestOrder_Clone(t *testing.T) {
	o := pendingOrder()
	require.NoError(t, o.Confirm(3000, testNow))

	cp := o.Clone()
	cp.Lines[0].Quantity = 99
	*cp.PaidAt = testNow.Add(time.Hour)

	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, testNow, *o.PaidAt)
}

// =====================================
// Тесты склада
// =====================================

func TestProduct_DecreaseIncrease(t *testing.T) {
	p := &Product{ID: "p-1", Stock: 3}

	assert.ErrorIs(t, p.Decrease(0), ErrInvalidInput)
	assert.ErrorIs(t, p.Decrease(4), ErrOutOfStock)
	assert.Equal(t, 3, p.Stock)

	require.NoError(t, p.Decrease(3))
	assert.Equal(t, 0, p.Stock)

	assert.ErrorIs(t, p.Increase(-1), ErrInvalidQuantity)
	require.NoError(t, p.Increase(2))
	assert.Equal(t, 2, p.Stock)
}

func TestNormalizeAdjustments(t *testing.T) {
	out, err := NormalizeAdjustments([]StockAdjustment{
		{ProductID: "c", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "c", Quantity: 3},
		{ProductID: "b", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []StockAdjustment{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 1},
		{ProductID: "c", Quantity: 4},
	}, out)

	_, err = NormalizeAdjustments(nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = NormalizeAdjustments([]StockAdjustment{{ProductID: "a", Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
