package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/wallet"
)

// WalletHandler ウォレット関連ハンドラー
type WalletHandler struct {
	walletService *walletapp.WalletApplicationService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(walletService *walletapp.WalletApplicationService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// CreateWallet ウォレット作成ハンドラー（管理API用）
// @Summary 所有者のウォレットを取得または作成
// @Tags admin
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body CreateWalletRequest true "ウォレット作成リクエスト"
// @Success 200 {object} WalletResponse "取得・作成成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /admin/wallets [post]
func (h *WalletHandler) CreateWallet(c echo.Context) error {
	var reqBody CreateWalletRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	owner, err := wallet.ParseOwner(reqBody.Owner)
	if err != nil {
		return err
	}

	resp, err := h.walletService.FindOrCreateWallet(c.Request().Context(), owner, reqBody.Metadata)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, WalletResponse{
		WalletID:  resp.WalletID,
		Owner:     resp.Owner,
		Balance:   resp.Balance,
		Metadata:  resp.Metadata,
		CreatedAt: resp.CreatedAt,
	})
}

// GetBalance 残高取得ハンドラー
// @Summary 残高を取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID"
// @Success 200 {object} BalanceResponse "取得成功"
// @Failure 404 {object} ErrorResponse "ウォレットが存在しない"
// @Router /wallets/{wallet_id}/balance [get]
func (h *WalletHandler) GetBalance(c echo.Context) error {
	resp, err := h.walletService.GetBalance(c.Request().Context(), c.Param("wallet_id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		WalletID: resp.WalletID,
		Balance:  resp.Balance,
	})
}

// AddCredits クレジット付与ハンドラー（管理API用）
// @Summary クレジットを付与
// @Tags admin
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param wallet_id path string true "ウォレットID"
// @Param request body AddCreditsRequest true "付与リクエスト"
// @Success 201 {object} CreditsResponse "付与成功"
// @Failure 422 {object} ErrorResponse "金額・カテゴリが不正"
// @Router /wallets/{wallet_id}/credits [post]
func (h *WalletHandler) AddCredits(c echo.Context) error {
	var reqBody AddCreditsRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.walletService.AddCredits(c.Request().Context(), &walletapp.AddCreditsRequest{
		WalletID:  c.Param("wallet_id"),
		Amount:    reqBody.Amount,
		Category:  reqBody.Category,
		Metadata:  reqBody.Metadata,
		ExpiresAt: reqBody.ExpiresAt,
		SourceRef: reqBody.SourceRef,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toCreditsResponse(resp))
}

// DeductCredits クレジット減算ハンドラー（管理API用）
// @Summary クレジットを減算
// @Tags admin
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param wallet_id path string true "ウォレットID"
// @Param request body DeductCreditsRequest true "減算リクエスト"
// @Success 201 {object} CreditsResponse "減算成功"
// @Failure 402 {object} ErrorResponse "クレジット不足"
// @Router /wallets/{wallet_id}/deductions [post]
func (h *WalletHandler) DeductCredits(c echo.Context) error {
	var reqBody DeductCreditsRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.walletService.DeductCredits(c.Request().Context(), &walletapp.DeductCreditsRequest{
		WalletID:      c.Param("wallet_id"),
		Amount:        reqBody.Amount,
		Category:      reqBody.Category,
		Metadata:      reqBody.Metadata,
		SourceRef:     reqBody.SourceRef,
		AllowNegative: reqBody.AllowNegative,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toCreditsResponse(resp))
}

// SpendCreditsOn オペレーション消費ハンドラー
// @Summary オペレーションのコストを消費
// @Tags wallet
// @Accept json
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID"
// @Param operation path string true "オペレーション名"
// @Param request body SpendRequest false "パラメータ"
// @Success 201 {object} SpendResponse "消費成功"
// @Failure 402 {object} ErrorResponse "クレジット不足"
// @Failure 422 {object} ErrorResponse "未定義のオペレーション・検証違反"
// @Router /wallets/{wallet_id}/spend/{operation} [post]
func (h *WalletHandler) SpendCreditsOn(c echo.Context) error {
	var reqBody SpendRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.walletService.SpendCreditsOn(c.Request().Context(), &walletapp.SpendRequest{
		WalletID:  c.Param("wallet_id"),
		Operation: c.Param("operation"),
		Params:    cost.Params(reqBody.Params),
		Metadata:  reqBody.Metadata,
	}, nil)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, SpendResponse{
		CreditsResponse: toCreditsResponse(&resp.CreditsResponse),
		Operation:       resp.Operation,
		Cost:            resp.Cost,
	})
}

// EstimateCreditsTo コスト見積もりハンドラー
// @Summary オペレーションのコストを見積もる
// @Description クエリパラメータをオペレーションのパラメータとして扱い、台帳は変更しない
// @Tags wallet
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID"
// @Param operation path string true "オペレーション名"
// @Success 200 {object} EstimateResponse "見積もり成功"
// @Failure 422 {object} ErrorResponse "未定義のオペレーション・検証違反"
// @Router /wallets/{wallet_id}/estimate/{operation} [get]
func (h *WalletHandler) EstimateCreditsTo(c echo.Context) error {
	params := cost.Params{}
	for key, values := range c.QueryParams() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	req := &walletapp.EstimateRequest{
		Operation: c.Param("operation"),
		Params:    params,
	}

	ctx := c.Request().Context()
	estimate, err := h.walletService.EstimateCreditsTo(ctx, req)
	if err != nil {
		return err
	}

	hasEnough, err := h.walletService.HasEnoughCreditsTo(ctx, c.Param("wallet_id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, EstimateResponse{
		Operation: estimate.Operation,
		Cost:      estimate.Cost,
		HasEnough: hasEnough,
	})
}

func toCreditsResponse(resp *walletapp.CreditsResponse) CreditsResponse {
	allocations := make([]AllocationItem, len(resp.Allocations))
	for i, a := range resp.Allocations {
		allocations[i] = AllocationItem{
			SourceTransactionID: a.SourceTransactionID,
			Amount:              a.Amount,
		}
	}

	return CreditsResponse{
		WalletID:      resp.WalletID,
		TransactionID: resp.TransactionID,
		Amount:        resp.Amount,
		Category:      resp.Category,
		BalanceBefore: resp.BalanceBefore,
		BalanceAfter:  resp.BalanceAfter,
		Allocations:   allocations,
		Shortfall:     resp.Shortfall,
	}
}
