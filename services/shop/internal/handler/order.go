package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/middleware"
	"example.com/storefront/services/shop/internal/order"
	"example.com/storefront/services/shop/internal/payment"
)

// OrderHandler: заказы, оплата и возврат.
type OrderHandler struct {
	orders   *order.Service
	payments *payment.Orchestrator
}

// NewOrderHandler создаёт обработчик.
func NewOrderHandler(orders *order.Service, payments *payment.Orchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments}
}

// === Request/Response DTOs ===

// PlaceOrderRequest: тело запроса на создание заказа.
type PlaceOrderRequest struct {
	Items []PlaceOrderItem `json:"items" binding:"required,min=1,dive"`
}

// PlaceOrderItem: позиция заказа.
type PlaceOrderItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// PayOrderRequest: тело запроса оплаты. Тело необязательно.
type PayOrderRequest struct {
	CouponCode string `json:"coupon_code"`
}

// OrderResponse: заказ в ответе.
type OrderResponse struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Items       []OrderItemResponse `json:"items"`
	TotalAmount int64               `json:"total_amount"`
	FinalAmount int64               `json:"final_amount"`
	ExpiresAt   time.Time           `json:"expires_at"`
	PaidAt      *time.Time          `json:"paid_at,omitempty"`
	CanceledAt  *time.Time          `json:"canceled_at,omitempty"`
	RefundedAt  *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// OrderItemResponse: позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// PaymentResponse: итог оплаты.
type PaymentResponse struct {
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	TotalAmount      int64     `json:"total_amount"`
	DiscountAmount   int64     `json:"discount_amount"`
	FinalAmount      int64     `json:"final_amount"`
	RemainingBalance int64     `json:"remaining_balance"`
	PaidAt           time.Time `json:"paid_at"`
}

// RefundResponse: итог возврата.
type RefundResponse struct {
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	RefundAmount     int64     `json:"refund_amount"`
	RemainingBalance int64     `json:"remaining_balance"`
	RefundedAt       time.Time `json:"refunded_at"`
}

func orderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = OrderItemResponse{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
		}
	}
	return OrderResponse{
		ID:          o.ID,
		Status:      string(o.Status),
		Items:       items,
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		ExpiresAt:   o.ExpiresAt,
		PaidAt:      o.PaidAt,
		CanceledAt:  o.CanceledAt,
		RefundedAt:  o.RefundedAt,
		CreatedAt:   o.CreatedAt,
	}
}

// === Handlers ===

// Place: POST /api/v1/orders
func (h *OrderHandler) Place(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	lines := make([]order.LineRequest, len(req.Items))
	for i, it := range req.Items {
		lines[i] = order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.orders.Place(c.Request.Context(), middleware.UserID(c), lines)
	if err != nil {
		HandleError(c, err, "PlaceOrder")
		return
	}
	c.JSON(http.StatusCreated, orderResponse(o))
}

// List: GET /api/v1/orders
func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.orders.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "ListOrders")
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

// Get: GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}
	c.JSON(http.StatusOK, orderResponse(o))
}

// Cancel: POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "CancelOrder")
		return
	}
	c.JSON(http.StatusOK, orderResponse(o))
}

// Pay: POST /api/v1/orders/:id/pay
func (h *OrderHandler) Pay(c *gin.Context) {
	var req PayOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, err := h.payments.Pay(c.Request.Context(), payment.PayRequest{
		UserID:     middleware.UserID(c),
		OrderID:    c.Param("id"),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		HandleError(c, err, "PayOrder")
		return
	}

	c.JSON(http.StatusOK, PaymentResponse{
		OrderID:          res.OrderID,
		Status:           string(res.Status),
		TotalAmount:      res.TotalAmount,
		DiscountAmount:   res.DiscountAmount,
		FinalAmount:      res.FinalAmount,
		RemainingBalance: res.RemainingBalance,
		PaidAt:           res.PaidAt,
	})
}

// Refund: POST /api/v1/orders/:id/refund
func (h *OrderHandler) Refund(c *gin.Context) {
	res, err := h.payments.Refund(c.Request.Context(), payment.RefundRequest{
		UserID:  middleware.UserID(c),
		OrderID: c.Param("id"),
	})
	if err != nil {
		HandleError(c, err, "RefundOrder")
		return
	}

	c.JSON(http.StatusOK, RefundResponse{
		OrderID:          res.OrderID,
		Status:           string(res.Status),
		RefundAmount:     res.RefundAmount,
		RemainingBalance: res.RemainingBalance,
		RefundedAt:       res.RefundedAt,
	})
}
