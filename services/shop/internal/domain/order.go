package domain

import (
	"strings"
	"time"
)

// OrderStatus: статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// OrderTTL: срок, за который заказ нужно оплатить.
const OrderTTL = 30 * time.Minute

// transitions: допустимые переходы. CANCELLED и REFUNDED терминальные.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusRefunded},
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// OrderLine: позиция заказа. Название и цена: снимок каталога на момент создания.
type OrderLine struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
}

// Subtotal возвращает цену позиции.
func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order: заказ. Меняется только переходами Confirm, Cancel, Refund.
type Order struct {
	ID          string
	UserID      string
	Status      OrderStatus
	Lines       []OrderLine
	TotalAmount int64
	FinalAmount int64 // задаётся только при подтверждении
	ExpiresAt   time.Time
	PaidAt      *time.Time
	CanceledAt  *time.Time
	RefundedAt  *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderDraft: заказ до сохранения, без id.
type OrderDraft struct {
	UserID      string
	Lines       []OrderLine
	TotalAmount int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// NewOrderDraft проверяет позиции, считает сумму и срок оплаты.
func NewOrderDraft(userID string, lines []OrderLine, now time.Time, ttl time.Duration) (*OrderDraft, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserNotFound
	}
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	if ttl <= 0 {
		ttl = OrderTTL
	}

	var total int64
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, ErrProductNotFound
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.UnitPrice < 0 {
			return nil, ErrInvalidPrice
		}
		total += l.Subtotal()
	}

	return &OrderDraft{
		UserID:      userID,
		Lines:       append([]OrderLine(nil), lines...),
		TotalAmount: total,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// IsExpired: now >= ExpiresAt. Момент ExpiresAt уже считается истёкшим.
func (o *Order) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

func (o *Order) transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// Confirm переводит PENDING -> CONFIRMED и фиксирует итоговую сумму.
func (o *Order) Confirm(finalAmount int64, paidAt time.Time) error {
	if finalAmount < 0 {
		return ErrInvalidAmount
	}
	if err := o.transition(OrderStatusConfirmed); err != nil {
		return err
	}
	o.FinalAmount = finalAmount
	o.PaidAt = &paidAt
	o.UpdatedAt = paidAt
	return nil
}

// Cancel переводит PENDING -> CANCELLED.
func (o *Order) Cancel(at time.Time) error {
	if err := o.transition(OrderStatusCancelled); err != nil {
		return err
	}
	o.CanceledAt = &at
	o.UpdatedAt = at
	return nil
}

// Refund переводит CONFIRMED -> REFUNDED.
func (o *Order) Refund(at time.Time) error {
	if err := o.transition(OrderStatusRefunded); err != nil {
		return err
	}
	o.RefundedAt = &at
	o.UpdatedAt = at
	return nil
}

// RevertConfirmation отменяет Confirm при откате саги на хранилище без транзакций.
// Это не переход жизненного цикла: заказ возвращается в состояние до оплаты.
func (o *Order) RevertConfirmation(at time.Time) error {
	if o.Status != OrderStatusConfirmed || o.RefundedAt != nil {
		return &TransitionError{From: o.Status, To: OrderStatusPending}
	}
	o.Status = OrderStatusPending
	o.FinalAmount = 0
	o.PaidAt = nil
	o.UpdatedAt = at
	return nil
}

// RevertRefund отменяет Refund при откате возврата на хранилище без транзакций.
func (o *Order) RevertRefund(at time.Time) error {
	if o.Status != OrderStatusRefunded {
		return &TransitionError{From: o.Status, To: OrderStatusConfirmed}
	}
	o.Status = OrderStatusConfirmed
	o.RefundedAt = nil
	o.UpdatedAt = at
	return nil
}

// CheckPayable проверяет, что userID может оплатить заказ в момент now.
// Чужой заказ неотличим от несуществующего.
func (o *Order) CheckPayable(userID string, now time.Time) error {
	if o.UserID != userID {
		return ErrOrderNotFound
	}
	if o.Status != OrderStatusPending {
		return &TransitionError{From: o.Status, To: OrderStatusConfirmed}
	}
	if o.IsExpired(now) {
		return ErrOrderExpired
	}
	return nil
}

// Adjustments возвращает изменения склада для всех позиций заказа.
func (o *Order) Adjustments() []StockAdjustment {
	adj := make([]StockAdjustment, 0, len(o.Lines))
	for _, l := range o.Lines {
		adj = append(adj, StockAdjustment{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return adj
}

// Clone возвращает глубокую копию заказа.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	cp.PaidAt = cloneTime(o.PaidAt)
	cp.CanceledAt = cloneTime(o.CanceledAt)
	cp.RefundedAt = cloneTime(o.RefundedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
