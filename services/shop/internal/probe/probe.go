// Package probe: gRPC Health сервер магазина.
// Статус обновляется периодической проверкой зависимостей.
package probe

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"example.com/storefront/pkg/healthcheck"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/middleware"
)

// ServiceName: имя сервиса в gRPC Health.
const ServiceName = "storefront.Shop"

// Probe отдаёт статус SERVING, пока проверка зависимостей проходит.
type Probe struct {
	server   *grpc.Server
	health   *health.Server
	check    healthcheck.Check
	interval time.Duration
}

// New создаёт Probe. Пустой check означает «всегда готов».
func New(check healthcheck.Check, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if check == nil {
		check = func(context.Context) error { return nil }
	}

	srv := grpc.NewServer(middleware.ServerOptions()...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Probe{server: srv, health: hs, check: check, interval: interval}
}

// Serve принимает соединения на lis до Stop.
func (p *Probe) Serve(lis net.Listener) error {
	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC Health сервер запущен")
	return p.server.Serve(lis)
}

// Run обновляет статус до отмены ctx. Первая проверка выполняется сразу.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh выполняет проверку один раз и выставляет статус.
func (p *Probe) Refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := p.check(checkCtx); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Зависимости недоступны")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	p.health.SetServingStatus(ServiceName, status)
	p.health.SetServingStatus("", status)
}

// Stop переводит сервис в NOT_SERVING и останавливает сервер.
func (p *Probe) Stop() {
	p.health.Shutdown()
	p.server.GracefulStop()
}
