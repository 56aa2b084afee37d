package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"example.com/storefront/pkg/logger"
)

// Ключи metadata, совпадают с HTTP заголовками X-Trace-ID / X-Correlation-ID.
const (
	TraceIDKey       = "x-trace-id"
	CorrelationIDKey = "x-correlation-id"
)

// TracingUnaryInterceptor кладёт trace_id и correlation_id из metadata в context
// (pkg/logger), генерируя недостающие.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(withTraceIDs(ctx), req)
	}
}

// TracingStreamInterceptor: то же для stream RPC.
func TracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: withTraceIDs(ss.Context())})
	}
}

func withTraceIDs(ctx context.Context) context.Context {
	var traceID, correlationID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(TraceIDKey); len(v) > 0 {
			traceID = v[0]
		}
		if v := md.Get(CorrelationIDKey); len(v) > 0 {
			correlationID = v[0]
		}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if correlationID == "" {
		correlationID = traceID
	}
	return logger.NewContextWithIDs(ctx, traceID, correlationID)
}
