package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/shop/internal/balance"
	"example.com/storefront/services/shop/internal/middleware"
)

// BalanceHandler: баланс покупателя.
type BalanceHandler struct {
	balance *balance.Ledger
}

// NewBalanceHandler создаёт обработчик.
func NewBalanceHandler(bal *balance.Ledger) *BalanceHandler {
	return &BalanceHandler{balance: bal}
}

// ChargeRequest: тело запроса пополнения.
type ChargeRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

// EntryResponse: запись истории баланса.
type EntryResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	OrderID      string    `json:"order_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Get: GET /api/v1/balance
func (h *BalanceHandler) Get(c *gin.Context) {
	amount, err := h.balance.Balance(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "GetBalance")
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": amount})
}

// Charge: POST /api/v1/balance/charge
func (h *BalanceHandler) Charge(c *gin.Context) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	e, err := h.balance.Charge(c.Request.Context(), middleware.UserID(c), req.Amount)
	if err != nil {
		HandleError(c, err, "ChargeBalance")
		return
	}
	c.JSON(http.StatusOK, EntryResponse{
		ID:           e.ID,
		Type:         string(e.Type),
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt,
	})
}

// History: GET /api/v1/balance/history
func (h *BalanceHandler) History(c *gin.Context) {
	entries, err := h.balance.History(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "BalanceHistory")
		return
	}

	resp := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, EntryResponse{
			ID:           e.ID,
			Type:         string(e.Type),
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			OrderID:      e.OrderID,
			CreatedAt:    e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp})
}
