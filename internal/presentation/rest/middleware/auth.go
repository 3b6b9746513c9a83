package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	authapp "credit-server/internal/application/auth"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// WalletIDKey 認証済みウォレットIDを格納するコンテキストキー
const WalletIDKey = "wallet_id"

// TokenValidator JWTトークンの検証
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*authapp.Claims, error)
}

// AuthMiddleware JWT認証ミドルウェア
func AuthMiddleware(validator TokenValidator, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			// Authorizationヘッダーからトークンを取得
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				logger.Warn(ctx, "Missing authorization header", nil)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Missing authorization header",
				})
			}

			// Bearerトークンの形式を確認
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Warn(ctx, "Invalid authorization header format", nil)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid authorization header format",
				})
			}

			claims, err := validator.ValidateToken(ctx, parts[1])
			if err != nil {
				logger.Warn(ctx, "Invalid token", map[string]interface{}{
					"error": err.Error(),
				})
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid or expired token",
				})
			}

			c.Set(WalletIDKey, claims.WalletID)

			return next(c)
		}
	}
}

// WalletAccessMiddleware パスの :wallet_id がトークンのウォレットと一致するか確認する
func WalletAccessMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenWalletID, _ := c.Get(WalletIDKey).(string)
			if tokenWalletID == "" || tokenWalletID != c.Param("wallet_id") {
				logger.Warn(c.Request().Context(), "Wallet access denied", map[string]interface{}{
					"wallet_id":       c.Param("wallet_id"),
					"token_wallet_id": tokenWalletID,
				})
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden",
					Message: "Token does not grant access to this wallet",
				})
			}
			return next(c)
		}
	}
}
