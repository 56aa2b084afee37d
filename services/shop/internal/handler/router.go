package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/shop/internal/balance"
	"example.com/storefront/services/shop/internal/coupon"
	"example.com/storefront/services/shop/internal/inventory"
	"example.com/storefront/services/shop/internal/middleware"
	"example.com/storefront/services/shop/internal/order"
	"example.com/storefront/services/shop/internal/payment"
	"example.com/storefront/services/shop/internal/user"
)

const serviceName = "shop"

// ReadinessChecker: проверка готовности зависимостей.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig: зависимости HTTP API.
type RouterConfig struct {
	Users     *user.Service
	Orders    *order.Service
	Payments  *payment.Orchestrator
	Coupons   *coupon.Allocator
	Balance   *balance.Ledger
	Inventory *inventory.Ledger

	IssueQueue IssueQueue // nil: асинхронная выдача отключена

	Auth           *middleware.Auth
	IssueRateLimit *middleware.RateLimit // nil: без ограничения
	ReadinessCheck ReadinessChecker
	Debug          bool
}

// Router: HTTP роутер магазина.
type Router struct {
	engine *gin.Engine
	cfg    RouterConfig
}

// NewRouter создаёт роутер и регистрирует маршруты.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(metrics.GinMetricsMiddleware(serviceName))
	engine.Use(middleware.RequestIDs())

	r := &Router{engine: engine, cfg: cfg}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")
	auth := r.cfg.Auth.Handle()

	// === Auth ===
	authHandler := NewAuthHandler(r.cfg.Users)
	{
		g := v1.Group("/auth")
		g.POST("/register", authHandler.Register)
		g.POST("/login", authHandler.Login)
		g.POST("/logout", authHandler.Logout)
	}
	v1.GET("/users/me", auth, authHandler.Me)

	// === Каталог ===
	catalog := NewCatalogHandler(r.cfg.Inventory)
	v1.GET("/products", catalog.List)
	v1.GET("/products/:id", catalog.Get)

	// === Заказы ===
	orders := NewOrderHandler(r.cfg.Orders, r.cfg.Payments)
	{
		g := v1.Group("/orders", auth)
		g.POST("", orders.Place)
		g.GET("", orders.List)
		g.GET("/:id", orders.Get)
		g.POST("/:id/cancel", orders.Cancel)
		g.POST("/:id/pay", orders.Pay)
		g.POST("/:id/refund", orders.Refund)
	}

	// === Купоны ===
	coupons := NewCouponHandler(r.cfg.Coupons, r.cfg.IssueQueue)
	{
		g := v1.Group("/coupons", auth)
		g.GET("", coupons.List)
		g.GET("/mine", coupons.Mine)

		g.POST("/:id/issue", r.issueLimited(coupons.Issue)...)
		g.POST("/:id/issue-requests", r.issueLimited(coupons.RequestIssue)...)
	}

	// === Баланс ===
	bal := NewBalanceHandler(r.cfg.Balance)
	{
		g := v1.Group("/balance", auth)
		g.GET("", bal.Get)
		g.POST("/charge", bal.Charge)
		g.GET("/history", bal.History)
	}

	// === Администрирование ===
	{
		g := v1.Group("/admin", auth, middleware.RequireAdmin())
		g.POST("/products", catalog.Create)
		g.POST("/coupons", coupons.Create)
	}
}

func (r *Router) issueLimited(h gin.HandlerFunc) []gin.HandlerFunc {
	if r.cfg.IssueRateLimit == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{r.cfg.IssueRateLimit.Handle(), h}
}

// Engine возвращает gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.cfg.ReadinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.cfg.ReadinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
