package middleware

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"example.com/storefront/pkg/logger"
)

// LoggingUnaryInterceptor пишет метод, код и длительность каждого вызова.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err, "gRPC запрос")
		return resp, err
	}
}

// LoggingStreamInterceptor: то же для stream RPC (например, Health/Watch).
func LoggingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), info.FullMethod, start, err, "gRPC stream")
		return err
	}
}

func logCall(ctx context.Context, fullMethod string, start time.Time, err error, kind string) {
	log := logger.FromContext(ctx)
	ev := log.Debug()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("grpc_service", path.Dir(fullMethod)[1:]).
		Str("grpc_method", path.Base(fullMethod)).
		Str("grpc_code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg(kind)
}
