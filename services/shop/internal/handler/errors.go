// Package handler: HTTP API магазина.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/shop/internal/domain"
)

// ErrorResponse: стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusByKind: HTTP статус для каждого вида доменной ошибки.
var statusByKind = map[string]int{
	"not_found":                http.StatusNotFound,
	"invalid_input":            http.StatusBadRequest,
	"invalid_order_state":      http.StatusConflict,
	"order_expired":            http.StatusConflict,
	"out_of_stock":             http.StatusConflict,
	"sold_out":                 http.StatusConflict,
	"already_issued":           http.StatusConflict,
	"issue_period_expired":     http.StatusUnprocessableEntity,
	"coupon_not_in_use_period": http.StatusUnprocessableEntity,
	"coupon_invalid":           http.StatusUnprocessableEntity,
	"coupon_already_used":      http.StatusConflict,
	"insufficient_balance":     http.StatusPaymentRequired,
	"version_conflict":         http.StatusConflict,
	"conflict":                 http.StatusConflict,
	"invalid_credentials":      http.StatusUnauthorized,
	"forbidden":                http.StatusForbidden,
	"account_locked":           http.StatusTooManyRequests,
}

// HandleError пишет ответ для ошибки сервиса.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func HandleError(c *gin.Context, err error, method string) {
	if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrTokenRevoked) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Токен недействителен"})
		return
	}

	kind := domain.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		logger.Ctx(c.Request.Context()).Error().
			Err(err).
			Str("method", method).
			Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(status, ErrorResponse{Error: kind, Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	logger.Ctx(c.Request.Context()).Debug().Err(err).Msg("Невалидный запрос")
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: "Невалидные данные запроса",
	})
}
