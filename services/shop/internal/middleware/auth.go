// Package middleware содержит HTTP middleware магазина.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/logger"
)

// Ключи gin.Context с данными аутентифицированного пользователя.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextJTI    = "jti"
)

// TokenValidator проверяет access токен с учётом отзыва. Реализуется *jwt.Manager.
type TokenValidator interface {
	ValidateWithBlacklist(ctx context.Context, tokenString string) (*jwt.Claims, error)
}

// Auth пропускает только запросы с действующим Bearer токеном.
type Auth struct {
	validator TokenValidator
}

// NewAuth создаёт middleware аутентификации.
func NewAuth(validator TokenValidator) *Auth {
	return &Auth{validator: validator}
}

// Handle возвращает gin handler.
func (m *Auth) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateWithBlacklist(ctx, token)
		if err != nil {
			log.Debug().Err(err).Msg("Токен не прошёл проверку")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Токен недействителен",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextJTI, claims.ID)
		c.Request = c.Request.WithContext(logger.WithUserID(ctx, claims.UserID))

		c.Next()
	}
}

// RequireAdmin пропускает только администраторов. Ставится после Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != jwt.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		}
		c.Next()
	}
}

// UserID возвращает ID пользователя, установленный Auth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// BearerToken извлекает токен из заголовка "Authorization: Bearer <token>".
// Префикс регистронезависимый.
func BearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
