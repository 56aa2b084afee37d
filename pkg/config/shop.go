package config

import (
	"fmt"
	"time"
)

// HTTPConfig содержит настройки HTTP API магазина.
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RateLimit       int           `env:"HTTP_RATE_LIMIT" envDefault:"100"`
	RateWindow      time.Duration `env:"HTTP_RATE_WINDOW" envDefault:"1m"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCConfig содержит настройки gRPC health сервера.
type GRPCConfig struct {
	Host          string        `env:"GRPC_HOST" envDefault:"0.0.0.0"`
	Port          int           `env:"GRPC_PORT" envDefault:"50051"`
	ProbeInterval time.Duration `env:"GRPC_PROBE_INTERVAL" envDefault:"10s"`
}

// Addr возвращает адрес gRPC сервера.
func (c GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Бэкенды хранилища и блокировок купонов.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	LockLocal = "local"
	LockRedis = "redis"
	LockNone  = "none"
)

// ShopConfig содержит бизнес-настройки: срок жизни заказа, блокировки купонов, retry.
type ShopConfig struct {
	Store        string        `env:"SHOP_STORE" envDefault:"mysql"`
	OrderTTL     time.Duration `env:"SHOP_ORDER_TTL" envDefault:"30m"`
	CouponLock   string        `env:"SHOP_COUPON_LOCK" envDefault:"local"`
	LockShards   int           `env:"SHOP_LOCK_SHARDS" envDefault:"256"`
	RedisLockTTL time.Duration `env:"SHOP_REDIS_LOCK_TTL" envDefault:"5s"`

	RetryMaxAttempts uint          `env:"SHOP_RETRY_MAX_ATTEMPTS" envDefault:"50"`
	RetryInitial     time.Duration `env:"SHOP_RETRY_INITIAL" envDefault:"2ms"`
	RetryMax         time.Duration `env:"SHOP_RETRY_MAX" envDefault:"50ms"`

	OutboxPollInterval time.Duration `env:"SHOP_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxBatchSize    int           `env:"SHOP_OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxRetries   int           `env:"SHOP_OUTBOX_MAX_RETRIES" envDefault:"5"`

	LoginMaxAttempts int           `env:"SHOP_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginLockout     time.Duration `env:"SHOP_LOGIN_LOCKOUT" envDefault:"15m"`

	// Учётная запись администратора создаётся при старте, если задан email.
	AdminEmail    string `env:"SHOP_ADMIN_EMAIL"`
	AdminPassword string `env:"SHOP_ADMIN_PASSWORD"`
}

// Validate проверяет согласованность бизнес-настроек.
func (c ShopConfig) Validate() error {
	switch c.Store {
	case StoreMySQL, StoreMemory:
	default:
		return fmt.Errorf("неизвестное хранилище %q", c.Store)
	}

	switch c.CouponLock {
	case LockLocal, LockRedis, LockNone:
	default:
		return fmt.Errorf("неизвестный тип блокировки купонов %q", c.CouponLock)
	}

	if c.OrderTTL <= 0 {
		return fmt.Errorf("SHOP_ORDER_TTL должен быть положительным")
	}
	if c.LockShards <= 0 {
		return fmt.Errorf("SHOP_LOCK_SHARDS должен быть положительным")
	}
	if c.RetryMaxAttempts == 0 {
		return fmt.Errorf("SHOP_RETRY_MAX_ATTEMPTS должен быть больше нуля")
	}
	return nil
}
