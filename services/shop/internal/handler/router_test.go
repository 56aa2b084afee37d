package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/balance"
	"example.com/storefront/services/shop/internal/coupon"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/inventory"
	"example.com/storefront/services/shop/internal/lock"
	"example.com/storefront/services/shop/internal/middleware"
	"example.com/storefront/services/shop/internal/order"
	"example.com/storefront/services/shop/internal/payment"
	"example.com/storefront/services/shop/internal/repository/memory"
	"example.com/storefront/services/shop/internal/user"
)

// =============================================================================
// Тестовое окружение
// =============================================================================

type queueStub struct {
	requests []domain.CouponIssueRequest
}

func (q *queueStub) Enqueue(_ context.Context, req domain.CouponIssueRequest) error {
	q.requests = append(q.requests, req)
	return nil
}

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	users  *user.Service
	queue  *queueStub
}

func newTestAPI(t *testing.T, ready ReadinessChecker) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	manager := jwt.NewManagerFromKeys(key, nil, jwt.Config{Issuer: "storefront", AccessTokenTTL: time.Minute})
	manager.SetBlacklist(jwt.NewBlacklist(rdb))

	store := memory.New()
	policy := retry.DefaultPolicy("test")
	users := user.NewService(store, manager, user.WithBcryptCost(bcrypt.MinCost))
	orders := order.NewService(store, policy)
	inv := inventory.NewLedger(store, policy)
	coupons := coupon.NewAllocator(store, lock.NewSharded(lock.DefaultShards), policy)
	bal := balance.NewLedger(store, policy)
	queue := &queueStub{}

	router := NewRouter(RouterConfig{
		Users:          users,
		Orders:         orders,
		Payments:       payment.NewOrchestrator(store, orders, inv, coupons, bal),
		Coupons:        coupons,
		Balance:        bal,
		Inventory:      inv,
		IssueQueue:     queue,
		Auth:           middleware.NewAuth(manager),
		IssueRateLimit: middleware.NewRateLimit(middleware.RateLimitConfig{Redis: rdb, Prefix: "issue", Limit: 5}),
		ReadinessCheck: ready,
	})
	return &testAPI{t: t, engine: router.Engine(), users: users, queue: queue}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testAPI) decode(w *httptest.ResponseRecorder, out any) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (a *testAPI) login(email, password string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: email, Password: password})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var pair jwt.TokenPair
	a.decode(w, &pair)
	return pair.AccessToken
}

func (a *testAPI) customer(email string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: email, Password: "secret-pass", Name: "Покупатель"})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return a.login(email, "secret-pass")
}

func (a *testAPI) admin() string {
	a.t.Helper()
	_, err := a.users.EnsureAdmin(context.Background(), "admin@example.com", "admin-pass")
	require.NoError(a.t, err)
	return a.login("admin@example.com", "admin-pass")
}

// =============================================================================
// Сценарии
// =============================================================================

func TestAPI_PurchaseWithCouponAndRefund(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.admin()
	buyer := api.customer("buyer@example.com")

	// Каталог и купон.
	w := api.do(http.MethodPost, "/api/v1/admin/products", adminToken, CreateProductRequest{Name: "Чайник", Price: 2500, Stock: 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product ProductResponse
	api.decode(w, &product)

	window := WindowRequest{Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)}
	w = api.do(http.MethodPost, "/api/v1/admin/coupons", adminToken, CreateCouponRequest{
		Code: "SALE10", Name: "Минус 10%", DiscountType: "PERCENTAGE", DiscountValue: 10,
		TotalQuantity: 10, IssueWindow: window, UseWindow: window,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cp CouponResponse
	api.decode(w, &cp)

	// Покупатель пополняет баланс и получает купон.
	w = api.do(http.MethodPost, "/api/v1/balance/charge", buyer, ChargeRequest{Amount: 10000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/coupons/"+cp.ID+"/issue", buyer, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/coupons/"+cp.ID+"/issue", buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "повторная выдача")

	// Заказ и оплата.
	w = api.do(http.MethodPost, "/api/v1/orders", buyer, PlaceOrderRequest{Items: []PlaceOrderItem{{ProductID: product.ID, Quantity: 2}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed OrderResponse
	api.decode(w, &placed)
	assert.Equal(t, "PENDING", placed.Status)
	assert.Equal(t, int64(5000), placed.TotalAmount)

	w = api.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/pay", buyer, PayOrderRequest{CouponCode: "SALE10"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var paid PaymentResponse
	api.decode(w, &paid)
	assert.Equal(t, "CONFIRMED", paid.Status)
	assert.Equal(t, int64(500), paid.DiscountAmount)
	assert.Equal(t, int64(4500), paid.FinalAmount)
	assert.Equal(t, int64(5500), paid.RemainingBalance)

	w = api.do(http.MethodGet, "/api/v1/products/"+product.ID, "", nil)
	api.decode(w, &product)
	assert.Equal(t, 3, product.Stock)

	// Возврат.
	w = api.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/refund", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/balance", buyer, nil)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	api.decode(w, &bal)
	assert.Equal(t, int64(10000), bal.Balance)

	w = api.do(http.MethodGet, "/api/v1/balance/history", buyer, nil)
	var history struct {
		Entries []EntryResponse `json:"entries"`
	}
	api.decode(w, &history)
	require.Len(t, history.Entries, 3)
	assert.Equal(t, "CHARGE", history.Entries[0].Type)
	assert.Equal(t, "USE", history.Entries[1].Type)
	assert.Equal(t, "REFUND", history.Entries[2].Type)

	w = api.do(http.MethodGet, "/api/v1/orders/"+placed.ID, buyer, nil)
	api.decode(w, &placed)
	assert.Equal(t, "REFUNDED", placed.Status)
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, nil)
	adminToken := api.admin()
	buyer := api.customer("buyer@example.com")
	other := api.customer("other@example.com")

	w := api.do(http.MethodPost, "/api/v1/admin/products", adminToken, CreateProductRequest{Name: "Чайник", Price: 2500, Stock: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var product ProductResponse
	api.decode(w, &product)

	w = api.do(http.MethodPost, "/api/v1/orders", buyer, PlaceOrderRequest{Items: []PlaceOrderItem{{ProductID: product.ID, Quantity: 1}}})
	require.Equal(t, http.StatusCreated, w.Code)
	var placed OrderResponse
	api.decode(w, &placed)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		body           any
		expectedStatus int
		expectedError  string
	}{
		{"без токена", http.MethodGet, "/api/v1/orders", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"покупатель в админке", http.MethodPost, "/api/v1/admin/products", buyer, CreateProductRequest{Name: "x", Price: 1}, http.StatusForbidden, "forbidden"},
		{"невалидное тело", http.MethodPost, "/api/v1/orders", buyer, map[string]any{"items": []any{}}, http.StatusBadRequest, "invalid_request"},
		{"неизвестный товар", http.MethodPost, "/api/v1/orders", buyer, PlaceOrderRequest{Items: []PlaceOrderItem{{ProductID: "missing", Quantity: 1}}}, http.StatusNotFound, "not_found"},
		{"чужой заказ", http.MethodGet, "/api/v1/orders/" + placed.ID, other, nil, http.StatusNotFound, "not_found"},
		{"недостаточно средств", http.MethodPost, "/api/v1/orders/" + placed.ID + "/pay", buyer, nil, http.StatusPaymentRequired, "insufficient_balance"},
		{"неизвестный купон", http.MethodPost, "/api/v1/orders/" + placed.ID + "/pay", buyer, PayOrderRequest{CouponCode: "NOPE"}, http.StatusUnprocessableEntity, "coupon_invalid"},
		{"возврат неоплаченного", http.MethodPost, "/api/v1/orders/" + placed.ID + "/refund", buyer, nil, http.StatusConflict, "invalid_order_state"},
		{"занятый email", http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: "buyer@example.com", Password: "secret-pass"}, http.StatusConflict, "conflict"},
		{"неверный пароль", http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "buyer@example.com", Password: "wrong-pass"}, http.StatusUnauthorized, "invalid_credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			var resp ErrorResponse
			api.decode(w, &resp)
			assert.Equal(t, tt.expectedError, resp.Error)
		})
	}

	w = api.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/pay", buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "оплата отменённого заказа")
}

func TestAPI_LogoutRevokesToken(t *testing.T) {
	api := newTestAPI(t, nil)
	buyer := api.customer("buyer@example.com")

	w := api.do(http.MethodGet, "/api/v1/users/me", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/api/v1/auth/logout", buyer, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, "/api/v1/users/me", buyer, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_IssueRequestsAreQueuedAndLimited(t *testing.T) {
	api := newTestAPI(t, nil)
	buyer := api.customer("buyer@example.com")

	for i := 0; i < 5; i++ {
		w := api.do(http.MethodPost, fmt.Sprintf("/api/v1/coupons/c-%d/issue-requests", i), buyer, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	require.Len(t, api.queue.requests, 5)
	assert.Equal(t, "c-0", api.queue.requests[0].CouponID)

	w := api.do(http.MethodPost, "/api/v1/coupons/c-5/issue-requests", buyer, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAPI_Probes(t *testing.T) {
	ready := newTestAPI(t, nil)
	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		w := ready.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	notReady := newTestAPI(t, func(context.Context) error { return errors.New("mysql down") })
	w := notReady.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleError_UnknownIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	HandleError(c, errors.New("db exploded"), "Test")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db exploded")
}
