package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/storefront/pkg/logger"
)

// fixedWindow: INCR с TTL окна на первом запросе.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimitConfig: параметры ограничения.
type RateLimitConfig struct {
	Redis  redis.UniversalClient
	Prefix string        // пространство счётчиков, например "issue"
	Limit  int           // запросов за окно (по умолчанию 100)
	Window time.Duration // по умолчанию минута
}

// RateLimit ограничивает число запросов клиента за окно.
// Клиент: аутентифицированный пользователь, иначе IP.
type RateLimit struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimit создаёт middleware.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "api"
	}
	return &RateLimit{redis: cfg.Redis, prefix: cfg.Prefix, limit: cfg.Limit, window: cfg.Window}
}

// Handle возвращает gin handler. Недоступный Redis не блокирует запросы.
func (m *RateLimit) Handle() gin.HandlerFunc {
	windowSec := int(m.window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		client := UserID(c)
		if client == "" {
			client = c.ClientIP()
		}
		key := fmt.Sprintf("shop:rate:%s:%s", m.prefix, client)

		count, err := fixedWindow.Run(ctx, m.redis, []string{key}, windowSec).Int()
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := max(m.limit-count, 0)
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > m.limit {
			logger.Ctx(ctx).Warn().
				Str("client", client).
				Str("scope", m.prefix).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", strconv.Itoa(windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", windowSec),
			})
			return
		}

		c.Next()
	}
}
