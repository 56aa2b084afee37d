package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"example.com/storefront/pkg/logger"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestTracingUnaryInterceptor(t *testing.T) {
	t.Run("берёт ids из metadata", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(),
			metadata.Pairs(TraceIDKey, "trace-1", CorrelationIDKey, "corr-1"))

		var got context.Context
		_, err := TracingUnaryInterceptor()(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
			got = ctx
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "trace-1", logger.TraceIDFromContext(got))
		assert.Equal(t, "corr-1", logger.CorrelationIDFromContext(got))
	})

	t.Run("генерирует trace_id", func(t *testing.T) {
		var got context.Context
		_, _ = TracingUnaryInterceptor()(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
			got = ctx
			return nil, nil
		})
		assert.NotEmpty(t, logger.TraceIDFromContext(got))
		assert.Equal(t, logger.TraceIDFromContext(got), logger.CorrelationIDFromContext(got))
	})
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	_, err := RecoveryUnaryInterceptor()(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})

	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingUnaryInterceptor_PassesThrough(t *testing.T) {
	want := status.Error(codes.NotFound, "нет")
	resp, err := LoggingUnaryInterceptor()(context.Background(), "req", info, func(_ context.Context, req any) (any, error) {
		return req, want
	})

	assert.Equal(t, "req", resp)
	assert.Equal(t, want, err)
}
