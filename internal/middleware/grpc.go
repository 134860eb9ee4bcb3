package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-shift-reviews/internal/logger"
)

// UnaryAuth reads the bearer token from the "authorization" metadata key and
// attaches the caller to the context. Anonymous calls pass through.
func UnaryAuth(m *JWTManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		for _, v := range md.Get("authorization") {
			raw := BearerToken(v)
			if raw == "" {
				continue
			}
			if claims, err := m.Verify(raw); err == nil {
				ctx = WithActor(ctx, claims.Actor())
			}
			break
		}
		return handler(ctx, req)
	}
}

// UnaryRequestID propagates x-request-id from incoming metadata.
func UnaryRequestID(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			ctx = context.WithValue(ctx, requestIDKey, ids[0])
		}
	}
	return handler(ctx, req)
}

// UnaryLogger logs each call with its status code.
func UnaryLogger(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		event := log.Info()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Str("request_id", RequestIDFromContext(ctx)).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}
