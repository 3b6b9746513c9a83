package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	authapp "credit-server/internal/application/auth"
	fulfillmentapp "credit-server/internal/application/fulfillment"
)

// AdminHandler 運用向けハンドラー（管理API用）
type AdminHandler struct {
	authService *authapp.AuthApplicationService
	runner      fulfillmentapp.Runner
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(authService *authapp.AuthApplicationService, runner fulfillmentapp.Runner) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		runner:      runner,
	}
}

// IssueToken ウォレット用トークン発行ハンドラー
// @Summary ウォレットにアクセスするJWTを発行
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param wallet_id path string true "ウォレットID"
// @Success 200 {object} GenerateTokenResponse "トークン生成成功"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Router /admin/wallets/{wallet_id}/token [post]
func (h *AdminHandler) IssueToken(c echo.Context) error {
	resp, err := h.authService.GenerateToken(c.Request().Context(), &authapp.GenerateTokenRequest{
		WalletID: c.Param("wallet_id"),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, GenerateTokenResponse{
		Token:     resp.Token,
		ExpiresIn: resp.ExpiresIn,
		TokenType: resp.TokenType,
	})
}

// ProcessFulfillments 付与処理の手動実行ハンドラー
// @Summary 期限到来分の付与と失効残高の再計算を実行
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Success 200 {object} ProcessFulfillmentsResponse "実行結果"
// @Router /admin/fulfillments/process [post]
func (h *AdminHandler) ProcessFulfillments(c echo.Context) error {
	ctx := c.Request().Context()

	batch, err := h.runner.ProcessPendingFulfillments(ctx)
	if err != nil {
		return err
	}
	sweep, err := h.runner.RefreshExpiredBalances(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ProcessFulfillmentsResponse{
		Processed:        batch.Processed,
		Granted:          batch.Granted,
		Failed:           batch.Failed,
		ExpiredWallets:   sweep.Wallets,
		RefreshedWallets: sweep.Refreshed,
		SweepFailed:      sweep.Failed,
		SweptUntil:       sweep.To,
	})
}
