package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/inventory"
)

// CatalogHandler: товары.
type CatalogHandler struct {
	inventory *inventory.Ledger
}

// NewCatalogHandler создаёт обработчик.
func NewCatalogHandler(inv *inventory.Ledger) *CatalogHandler {
	return &CatalogHandler{inventory: inv}
}

// CreateProductRequest: тело запроса на создание товара.
type CreateProductRequest struct {
	Name  string `json:"name" binding:"required"`
	Price int64  `json:"price" binding:"required,min=1"`
	Stock int    `json:"stock" binding:"min=0"`
}

// ProductResponse: товар в ответе.
type ProductResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
}

func productResponse(p *domain.Product) ProductResponse {
	return ProductResponse{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, CreatedAt: p.CreatedAt}
}

// List: GET /api/v1/products
func (h *CatalogHandler) List(c *gin.Context) {
	products, err := h.inventory.Products(c.Request.Context())
	if err != nil {
		HandleError(c, err, "ListProducts")
		return
	}

	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": resp})
}

// Get: GET /api/v1/products/:id
func (h *CatalogHandler) Get(c *gin.Context) {
	p, err := h.inventory.Product(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "GetProduct")
		return
	}
	c.JSON(http.StatusOK, productResponse(p))
}

// Create: POST /api/v1/admin/products
func (h *CatalogHandler) Create(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.inventory.CreateProduct(c.Request.Context(), domain.ProductDraft{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		HandleError(c, err, "CreateProduct")
		return
	}
	c.JSON(http.StatusCreated, productResponse(p))
}
