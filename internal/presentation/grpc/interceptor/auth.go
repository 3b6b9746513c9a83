package interceptor

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authapp "credit-server/internal/application/auth"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

type walletIDKey struct{}

// TokenValidator JWTトークンの検証
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*authapp.Claims, error)
}

// WalletIDFromContext 認証済みウォレットIDを取得
func WalletIDFromContext(ctx context.Context) (string, bool) {
	walletID, ok := ctx.Value(walletIDKey{}).(string)
	return walletID, ok && walletID != ""
}

// ContextWithWalletID 認証済みウォレットIDをコンテキストに設定
func ContextWithWalletID(ctx context.Context, walletID string) context.Context {
	return context.WithValue(ctx, walletIDKey{}, walletID)
}

// AuthInterceptor JWT認証インターセプター（service 配下のメソッドのみ検証する）
func AuthInterceptor(validator TokenValidator, logger *otelinfra.Logger, service string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !belongsTo(info.FullMethod, service) {
			return handler(ctx, req)
		}

		// メタデータからトークンを取得
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		// Authorizationヘッダーからトークンを取得
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warn(ctx, "Missing authorization header", nil)
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		// Bearerトークンの形式を確認
		parts := strings.Split(authHeaders[0], " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Warn(ctx, "Invalid authorization header format", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		claims, err := validator.ValidateToken(ctx, parts[1])
		if err != nil {
			logger.Warn(ctx, "Invalid token", map[string]interface{}{
				"error":  err.Error(),
				"method": info.FullMethod,
			})
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(ContextWithWalletID(ctx, claims.WalletID), req)
	}
}

// belongsTo フルメソッド名が service のメソッドか
func belongsTo(fullMethod, service string) bool {
	return strings.HasPrefix(fullMethod, "/"+service+"/")
}
