package domain

import "time"

// Типы событий outbox.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
	EventCouponIssued   = "coupon.issued"
)

// Типы агрегатов outbox.
const (
	AggregateOrder  = "order"
	AggregateCoupon = "coupon"
)

// OrderConfirmedEvent публикуется после успешной оплаты.
type OrderConfirmedEvent struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	TotalAmount    int64     `json:"total_amount"`
	DiscountAmount int64     `json:"discount_amount"`
	FinalAmount    int64     `json:"final_amount"`
	CouponID       string    `json:"coupon_id,omitempty"`
	PaidAt         time.Time `json:"paid_at"`
}

// OrderCancelledEvent публикуется при отмене заказа.
type OrderCancelledEvent struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	CanceledAt time.Time `json:"canceled_at"`
}

// OrderRefundedEvent публикуется после возврата.
type OrderRefundedEvent struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	RefundAmount int64     `json:"refund_amount"`
	RefundedAt   time.Time `json:"refunded_at"`
}

// CouponIssuedEvent публикуется при выдаче купона.
type CouponIssuedEvent struct {
	GrantID  string    `json:"grant_id"`
	CouponID string    `json:"coupon_id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// CouponIssueRequest: заявка на асинхронную выдачу купона.
type CouponIssueRequest struct {
	UserID   string `json:"user_id"`
	CouponID string `json:"coupon_id"`
}
