package interceptor

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// LoggingInterceptor リクエストのログとメトリクスを記録する
func LoggingInterceptor(logger *otelinfra.Logger, metrics *otelinfra.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := status.Code(err)
		metrics.RecordRequest(ctx, "grpc", info.FullMethod)
		metrics.RecordResponseTime(ctx, "grpc", info.FullMethod, duration.Seconds())

		fields := map[string]interface{}{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": duration.Milliseconds(),
		}

		switch code {
		case codes.OK:
			logger.Info(ctx, "gRPC request completed", fields)
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			metrics.RecordError(ctx, "server_error")
			logger.Error(ctx, "gRPC request failed", err, fields)
		default:
			metrics.RecordError(ctx, "client_error")
			logger.Warn(ctx, "gRPC request rejected", fields)
		}

		return resp, err
	}
}

// RecoveryInterceptor ハンドラー内のパニックを Internal エラーに変換する
func RecoveryInterceptor(logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "Recovered from panic in gRPC handler", fmt.Errorf("%v", r), map[string]interface{}{
					"method": info.FullMethod,
				})
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
