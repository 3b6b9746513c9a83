package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	authapp "credit-server/internal/application/auth"
	paymentapp "credit-server/internal/application/payment"
	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// errorMapping ドメインエラーとHTTPステータスの対応
type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings 先頭から順に errors.Is で判定する（個別のエラーを分類エラーより前に置く）
var errorMappings = []errorMapping{
	{wallet.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
	{transaction.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{fulfillment.ErrFulfillmentNotFound, http.StatusNotFound, "fulfillment_not_found"},
	{paymentapp.ErrChargeNotFound, http.StatusNotFound, "charge_not_found"},
	{paymentapp.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{transaction.ErrDuplicateSourceRef, http.StatusConflict, "duplicate_source_ref"},
	{fulfillment.ErrDuplicateSourceRef, http.StatusConflict, "duplicate_source_ref"},
	{wallet.ErrWalletAlreadyExists, http.StatusConflict, "wallet_already_exists"},
	{wallet.ErrInvalidOwner, http.StatusBadRequest, "invalid_owner"},
	{transaction.ErrInvalidTransaction, http.StatusBadRequest, "invalid_request"},
	{authapp.ErrMissingWalletID, http.StatusBadRequest, "invalid_request"},
	{authapp.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
	{credit.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
	{credit.ErrInvalidOperation, http.StatusUnprocessableEntity, "invalid_operation"},
	{credit.ErrConcurrency, http.StatusConflict, "concurrency_conflict"},
	{credit.ErrConfiguration, http.StatusBadRequest, "configuration_error"},
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			if c.Response().Committed {
				return nil
			}

			return handleError(c, err, logger)
		}
	}
}

// StatusCode エラーに対応するHTTPステータスとエラーコードを返す
func StatusCode(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, http.StatusText(httpErr.Code)
	}
	return http.StatusInternalServerError, "internal_server_error"
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	status, code := StatusCode(err)

	var httpErr *echo.HTTPError
	switch {
	case status == http.StatusInternalServerError && !errors.As(err, &httpErr):
		// 予期しないエラーの詳細は返さない
		logger.Error(ctx, "Internal server error", err, map[string]interface{}{
			"path": c.Request().URL.Path,
		})
		return c.JSON(status, ErrorResponse{
			Error:   code,
			Message: "An unexpected error occurred",
		})

	case errors.As(err, &httpErr):
		message, ok := httpErr.Message.(string)
		if !ok {
			message = http.StatusText(httpErr.Code)
		}
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     message,
		})
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   code,
			Message: message,
		})
	}

	logger.Warn(ctx, "Request rejected", map[string]interface{}{
		"status_code": status,
		"code":        code,
		"error":       err.Error(),
	})
	return c.JSON(status, ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}
