package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/shop/internal/coupon"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/middleware"
)

// IssueQueue ставит заявку на асинхронную выдачу купона.
type IssueQueue interface {
	Enqueue(ctx context.Context, req domain.CouponIssueRequest) error
}

// CouponHandler: купоны.
type CouponHandler struct {
	coupons *coupon.Allocator
	queue   IssueQueue
}

// NewCouponHandler создаёт обработчик. queue может быть nil,
// тогда асинхронная выдача отвечает 503.
func NewCouponHandler(coupons *coupon.Allocator, queue IssueQueue) *CouponHandler {
	return &CouponHandler{coupons: coupons, queue: queue}
}

// WindowRequest: период в запросе.
type WindowRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// CreateCouponRequest: тело запроса на создание купона.
type CreateCouponRequest struct {
	Code          string        `json:"code" binding:"required"`
	Name          string        `json:"name"`
	DiscountType  string        `json:"discount_type" binding:"required,oneof=FIXED PERCENTAGE"`
	DiscountValue int64         `json:"discount_value" binding:"required,min=1"`
	TotalQuantity int           `json:"total_quantity" binding:"required,min=1"`
	IssueWindow   WindowRequest `json:"issue_window" binding:"required"`
	UseWindow     WindowRequest `json:"use_window" binding:"required"`
}

// CouponResponse: купон в ответе.
type CouponResponse struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	DiscountType   string    `json:"discount_type"`
	DiscountValue  int64     `json:"discount_value"`
	TotalQuantity  int       `json:"total_quantity"`
	IssuedQuantity int       `json:"issued_quantity"`
	IssueStart     time.Time `json:"issue_start"`
	IssueEnd       time.Time `json:"issue_end"`
	UseStart       time.Time `json:"use_start"`
	UseEnd         time.Time `json:"use_end"`
}

// GrantResponse: выданный купон в ответе.
type GrantResponse struct {
	ID       string     `json:"id"`
	CouponID string     `json:"coupon_id"`
	Used     bool       `json:"used"`
	UsedAt   *time.Time `json:"used_at,omitempty"`
	IssuedAt time.Time  `json:"issued_at"`
}

func couponResponse(c *domain.Coupon) CouponResponse {
	return CouponResponse{
		ID:             c.ID,
		Code:           c.Code,
		Name:           c.Name,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		TotalQuantity:  c.TotalQuantity,
		IssuedQuantity: c.IssuedQuantity,
		IssueStart:     c.IssueWindow.Start,
		IssueEnd:       c.IssueWindow.End,
		UseStart:       c.UseWindow.Start,
		UseEnd:         c.UseWindow.End,
	}
}

func grantResponse(g *domain.CouponGrant) GrantResponse {
	return GrantResponse{ID: g.ID, CouponID: g.CouponID, Used: g.Used, UsedAt: g.UsedAt, IssuedAt: g.IssuedAt}
}

// List: GET /api/v1/coupons
func (h *CouponHandler) List(c *gin.Context) {
	coupons, err := h.coupons.List(c.Request.Context())
	if err != nil {
		HandleError(c, err, "ListCoupons")
		return
	}

	resp := make([]CouponResponse, 0, len(coupons))
	for _, cp := range coupons {
		resp = append(resp, couponResponse(cp))
	}
	c.JSON(http.StatusOK, gin.H{"coupons": resp})
}

// Mine: GET /api/v1/coupons/mine
func (h *CouponHandler) Mine(c *gin.Context) {
	grants, err := h.coupons.Grants(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "ListGrants")
		return
	}

	resp := make([]GrantResponse, 0, len(grants))
	for _, g := range grants {
		resp = append(resp, grantResponse(g))
	}
	c.JSON(http.StatusOK, gin.H{"grants": resp})
}

// Issue: POST /api/v1/coupons/:id/issue
func (h *CouponHandler) Issue(c *gin.Context) {
	g, err := h.coupons.Issue(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "IssueCoupon")
		return
	}
	c.JSON(http.StatusCreated, grantResponse(g))
}

// RequestIssue: POST /api/v1/coupons/:id/issue-requests
func (h *CouponHandler) RequestIssue(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "service_unavailable",
			Message: "Асинхронная выдача купонов отключена",
		})
		return
	}

	err := h.queue.Enqueue(c.Request.Context(), domain.CouponIssueRequest{
		UserID:   middleware.UserID(c),
		CouponID: c.Param("id"),
	})
	if err != nil {
		HandleError(c, err, "RequestIssue")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// Create: POST /api/v1/admin/coupons
func (h *CouponHandler) Create(c *gin.Context) {
	var req CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cp, err := h.coupons.Create(c.Request.Context(), domain.CouponDraft{
		Code:          req.Code,
		Name:          req.Name,
		DiscountType:  domain.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		TotalQuantity: req.TotalQuantity,
		IssueWindow:   domain.Window{Start: req.IssueWindow.Start, End: req.IssueWindow.End},
		UseWindow:     domain.Window{Start: req.UseWindow.Start, End: req.UseWindow.End},
	})
	if err != nil {
		HandleError(c, err, "CreateCoupon")
		return
	}
	c.JSON(http.StatusCreated, couponResponse(cp))
}
