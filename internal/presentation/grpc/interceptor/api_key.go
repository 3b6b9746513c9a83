package interceptor

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// APIKeyInterceptor APIキー認証インターセプター（service 配下のメソッドのみ検証する）
func APIKeyInterceptor(cfg *config.AdminAPIConfig, logger *otelinfra.Logger, service string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !belongsTo(info.FullMethod, service) {
			return handler(ctx, req)
		}

		// 管理APIが無効化されている場合はエラー
		if !cfg.Enabled {
			logger.Warn(ctx, "Admin API is disabled", nil)
			return nil, status.Error(codes.PermissionDenied, "admin API is disabled")
		}

		// メタデータからAPIキーを取得
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			logger.Warn(ctx, "Missing X-API-Key metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing X-API-Key metadata")
		}

		if !cfg.ValidKey(apiKeys[0]) {
			logger.Warn(ctx, "Invalid API key", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		}

		// IP制限のチェック（設定されている場合）
		if clientIP := clientIP(ctx, md); !cfg.AllowsIP(clientIP) {
			logger.Warn(ctx, "IP address not allowed", map[string]interface{}{
				"ip": clientIP,
			})
			return nil, status.Error(codes.PermissionDenied, "IP address not allowed")
		}

		return handler(ctx, req)
	}
}

// clientIP メタデータ、無ければ接続元アドレスからクライアントのIPアドレスを取得
func clientIP(ctx context.Context, md metadata.MD) string {
	// X-Forwarded-Forメタデータから取得（カンマ区切りの最初のIP）
	if forwardedFor := md.Get("x-forwarded-for"); len(forwardedFor) > 0 {
		ip, _, _ := strings.Cut(forwardedFor[0], ",")
		return strings.TrimSpace(ip)
	}

	if realIP := md.Get("x-real-ip"); len(realIP) > 0 {
		return realIP[0]
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err == nil {
			return host
		}
		return p.Addr.String()
	}
	return ""
}
