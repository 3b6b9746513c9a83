package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// MetricsMiddleware メトリクス記録ミドルウェア
//
// エラーハンドリングミドルウェアより外側に置き、書き込まれたステータスコードで分類する。
func MetricsMiddleware(metrics *otelinfra.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			// ルーティング後のパステンプレートで集計する
			ctx := c.Request().Context()
			method := c.Request().Method
			path := c.Path()
			metrics.RecordRequest(ctx, method, path)
			metrics.RecordResponseTime(ctx, method, path, time.Since(start).Seconds())

			status := c.Response().Status
			if err != nil {
				status, _ = StatusCode(err)
			}
			if errorType := ErrorType(status); errorType != "" {
				metrics.RecordError(ctx, errorType)
			}

			return err
		}
	}
}

// ErrorType ステータスコードをエラー種別に分類する（成功時は空文字）
func ErrorType(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	}
	return ""
}
