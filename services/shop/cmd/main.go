// Shop Service: магазин с заказами, складом, купонами и балансом.
// Предоставляет HTTP API, gRPC health и метрики Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/storefront/pkg/circuitbreaker"
	"example.com/storefront/pkg/config"
	"example.com/storefront/pkg/db"
	"example.com/storefront/pkg/healthcheck"
	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/outbox"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/shop/internal/balance"
	"example.com/storefront/services/shop/internal/coupon"
	"example.com/storefront/services/shop/internal/handler"
	"example.com/storefront/services/shop/internal/inventory"
	"example.com/storefront/services/shop/internal/issuequeue"
	"example.com/storefront/services/shop/internal/lock"
	"example.com/storefront/services/shop/internal/middleware"
	"example.com/storefront/services/shop/internal/order"
	"example.com/storefront/services/shop/internal/payment"
	"example.com/storefront/services/shop/internal/probe"
	"example.com/storefront/services/shop/internal/repository"
	"example.com/storefront/services/shop/internal/repository/memory"
	"example.com/storefront/services/shop/internal/user"
)

const serviceName = "shop-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.With().Str("service", serviceName).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("store", cfg.Shop.Store).
		Str("coupon_lock", cfg.Shop.CouponLock).
		Msg("Запуск Shop Service")

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	// ==================== Хранилище ====================

	var (
		store  repository.UnitOfWork
		gormDB *gorm.DB
		checks []healthcheck.Check
	)
	switch cfg.Shop.Store {
	case config.StoreMySQL:
		gormDB, err = db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
		}
		if cfg.MySQL.AutoMigrate {
			if err := repository.Migrate(gormDB); err != nil {
				log.Fatal().Err(err).Msg("Ошибка миграции схемы")
			}
		}
		store = repository.NewStore(gormDB)
		checks = append(checks, healthcheck.MySQL(gormDB))
		log.Info().Msg("Подключение к MySQL установлено")
	default:
		if cfg.IsProduction() {
			log.Fatal().Msg("Хранилище в памяти запрещено в production")
		}
		store = memory.New()
		log.Warn().Msg("Используется хранилище в памяти, данные не сохраняются между запусками")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = db.ConnectRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
		}
		checks = append(checks, healthcheck.Redis(rdb))
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключение к Redis установлено")
	}

	var locker lock.Locker
	switch cfg.Shop.CouponLock {
	case config.LockRedis:
		locker = lock.NewRedis(rdb, cfg.Shop.RedisLockTTL)
	case config.LockNone:
		locker = lock.Noop{}
	default:
		locker = lock.NewSharded(cfg.Shop.LockShards)
	}

	// ==================== Сервисы ====================

	policy := retry.DefaultPolicy("shop")
	policy.MaxAttempts = cfg.Shop.RetryMaxAttempts
	policy.InitialInterval = cfg.Shop.RetryInitial
	policy.MaxInterval = cfg.Shop.RetryMax

	orders := order.NewService(store, policy, order.WithTTL(cfg.Shop.OrderTTL))
	stock := inventory.NewLedger(store, policy)
	coupons := coupon.NewAllocator(store, locker, policy)
	wallet := balance.NewLedger(store, policy)
	payments := payment.NewOrchestrator(store, orders, stock, coupons, wallet)

	tokens, err := jwt.NewManager(jwt.Config{
		PrivateKeyPath:  cfg.JWT.PrivateKeyPath,
		PublicKeyPath:   cfg.JWT.PublicKeyPath,
		Issuer:          cfg.JWT.Issuer,
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки ключей JWT")
	}

	userOpts := []user.Option{}
	var issueLimit *middleware.RateLimit
	if rdb != nil {
		tokens.SetBlacklist(jwt.NewBlacklist(rdb))
		userOpts = append(userOpts, user.WithLoginLimiter(
			user.NewRedisLoginLimiter(rdb, cfg.Shop.LoginMaxAttempts, cfg.Shop.LoginLockout),
		))
		issueLimit = middleware.NewRateLimit(middleware.RateLimitConfig{
			Redis:  rdb,
			Prefix: "coupon_issue",
			Limit:  cfg.HTTP.RateLimit,
			Window: cfg.HTTP.RateWindow,
		})
	}
	users := user.NewService(store, tokens, userOpts...)

	if cfg.Shop.AdminEmail != "" {
		if _, err := users.EnsureAdmin(context.Background(), cfg.Shop.AdminEmail, cfg.Shop.AdminPassword); err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания администратора")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// ==================== Kafka ====================

	var (
		producer   *kafka.Producer
		consumer   *kafka.Consumer
		issueQueue handler.IssueQueue
	)
	if cfg.Kafka.Enabled {
		kafkaCfg := kafka.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}

		producer, err = kafka.NewProducer(kafkaCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		checks = append(checks, healthcheck.Kafka(cfg.Kafka.Brokers))

		workerCfg := outbox.DefaultWorkerConfig()
		workerCfg.PollInterval = cfg.Shop.OutboxPollInterval
		workerCfg.BatchSize = cfg.Shop.OutboxBatchSize
		workerCfg.MaxRetries = cfg.Shop.OutboxMaxRetries
		relay := outbox.NewWorker(
			store.Outbox(),
			circuitbreaker.WrapProducer(producer, circuitbreaker.New("kafka-outbox")),
			workerCfg,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx)
		}()

		consumer, err = kafka.NewConsumer(kafkaCfg, kafka.TopicCouponIssueRequests, cfg.Kafka.ConsumerGroup)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		consumer.SetDLQProducer(producer)

		issueHandler := issuequeue.NewHandler(coupons)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := issueHandler.Run(ctx, consumer, cfg.Kafka.MaxRetries); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Consumer заявок на купоны остановлен с ошибкой")
			}
		}()

		issueQueue = issuequeue.NewPublisher(producer)
	} else {
		log.Warn().Msg("Kafka отключена: события outbox не отправляются, асинхронная выдача купонов недоступна")
	}

	ready := healthcheck.Composite(checks...)

	// ==================== HTTP ====================

	router := handler.NewRouter(handler.RouterConfig{
		Users:          users,
		Orders:         orders,
		Payments:       payments,
		Coupons:        coupons,
		Balance:        wallet,
		Inventory:      stock,
		IssueQueue:     issueQueue,
		Auth:           middleware.NewAuth(tokens),
		IssueRateLimit: issueLimit,
		ReadinessCheck: handler.ReadinessChecker(ready),
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// ==================== gRPC health и метрики ====================

	healthProbe := probe.New(ready, cfg.GRPC.ProbeInterval)
	grpcAddr := cfg.GRPC.Addr()
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", grpcAddr).Msg("Ошибка создания listener")
	}
	go func() {
		if err := healthProbe.Serve(listener); err != nil {
			log.Error().Err(err).Msg("Ошибка gRPC сервера")
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthProbe.Run(ctx)
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName, metrics.WithReadinessCheck(metrics.ReadinessChecker(ready)))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics сервера")
			}
		}()
	}

	// ==================== Graceful shutdown ====================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Получен сигнал завершения")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	healthProbe.Stop()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics сервера")
		}
	}

	cancel()
	wg.Wait()

	if consumer != nil {
		_ = consumer.Close()
	}
	if producer != nil {
		_ = producer.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if gormDB != nil {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка завершения tracing")
	}

	log.Info().Msg("Shop Service остановлен")
}
