// Package middleware: gRPC interceptors сервера: recovery, trace ids, логирование.
package middleware

import (
	"context"

	"google.golang.org/grpc"
)

// ServerOptions возвращает цепочки interceptors в порядке recovery → tracing → logging.
// Recovery первым, чтобы паника в любом следующем звене превращалась в codes.Internal.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(),
			TracingUnaryInterceptor(),
			LoggingUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			RecoveryStreamInterceptor(),
			TracingStreamInterceptor(),
			LoggingStreamInterceptor(),
		),
	}
}

// wrappedStream подменяет context у grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *wrappedStream) Context() context.Context {
	return s.ctx
}
