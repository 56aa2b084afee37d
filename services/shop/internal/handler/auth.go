package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/shop/internal/middleware"
	"example.com/storefront/services/shop/internal/user"
)

// AuthHandler: регистрация, вход и выход.
type AuthHandler struct {
	users *user.Service
}

// NewAuthHandler создаёт обработчик.
func NewAuthHandler(users *user.Service) *AuthHandler {
	return &AuthHandler{users: users}
}

// RegisterRequest: тело запроса регистрации.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

// LoginRequest: тело запроса входа.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse: пользователь в ответе.
type UserResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Balance int64  `json:"balance"`
}

// Register: POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	u, err := h.users.Register(c.Request.Context(), user.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		HandleError(c, err, "Register")
		return
	}

	c.JSON(http.StatusCreated, UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Balance: u.Balance})
}

// Login: POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		HandleError(c, err, "Login")
		return
	}

	c.JSON(http.StatusOK, pair)
}

// Logout: POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Требуется авторизация"})
		return
	}

	if err := h.users.Logout(c.Request.Context(), token); err != nil {
		HandleError(c, err, "Logout")
		return
	}
	c.Status(http.StatusNoContent)
}

// Me: GET /api/v1/users/me
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		HandleError(c, err, "Me")
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Balance: u.Balance})
}
