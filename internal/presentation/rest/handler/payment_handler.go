package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	paymentapp "credit-server/internal/application/payment"
	"credit-server/internal/domain/wallet"
)

// PaymentHandler 決済イベント受信ハンドラー（管理API用）
//
// 決済事業者のWebhookを検証済みの形で中継する前提で、署名の検証は行わない。
type PaymentHandler struct {
	paymentService *paymentapp.PaymentApplicationService
}

// NewPaymentHandler 新しいPaymentHandlerを作成
func NewPaymentHandler(paymentService *paymentapp.PaymentApplicationService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// ChargeSucceeded クレジットパック購入の決済成功
// @Summary クレジットパックを付与
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body ChargeSucceededRequest true "決済成功イベント"
// @Success 200 {object} PaymentEventResponse "処理成功（処理済みなら duplicate=true）"
// @Failure 400 {object} ErrorResponse "未定義のパック"
// @Router /admin/payments/charges/succeeded [post]
func (h *PaymentHandler) ChargeSucceeded(c echo.Context) error {
	var reqBody ChargeSucceededRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.ChargeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "charge_id is required")
	}
	owner, err := wallet.ParseOwner(reqBody.Owner)
	if err != nil {
		return err
	}

	resp, err := h.paymentService.HandleChargeSucceeded(c.Request().Context(), &paymentapp.ChargeSucceededRequest{
		ChargeID: reqBody.ChargeID,
		Owner:    owner,
		PackID:   reqBody.PackID,
		Metadata: reqBody.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

// ChargeRefunded 決済の返金
// @Summary 返金額に応じてクレジットを回収
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body ChargeRefundedRequest true "返金イベント"
// @Success 200 {object} PaymentEventResponse "処理成功"
// @Failure 404 {object} ErrorResponse "決済が存在しない"
// @Router /admin/payments/charges/refunded [post]
func (h *PaymentHandler) ChargeRefunded(c echo.Context) error {
	var reqBody ChargeRefundedRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.ChargeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "charge_id is required")
	}
	owner, err := wallet.ParseOwner(reqBody.Owner)
	if err != nil {
		return err
	}

	resp, err := h.paymentService.HandleChargeRefunded(c.Request().Context(), &paymentapp.ChargeRefundedRequest{
		ChargeID:      reqBody.ChargeID,
		RefundID:      reqBody.RefundID,
		Owner:         owner,
		AmountCents:   reqBody.AmountCents,
		RefundedCents: reqBody.RefundedCents,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

// SubscriptionCreated サブスクリプション開始
// @Summary サブスクリプションの付与スケジュールを作成
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body SubscriptionCreatedRequest true "サブスクリプション開始イベント"
// @Success 200 {object} PaymentEventResponse "処理成功"
// @Router /admin/payments/subscriptions/created [post]
func (h *PaymentHandler) SubscriptionCreated(c echo.Context) error {
	var reqBody SubscriptionCreatedRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.SubscriptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subscription_id is required")
	}
	owner, err := wallet.ParseOwner(reqBody.Owner)
	if err != nil {
		return err
	}

	resp, err := h.paymentService.HandleSubscriptionCreated(c.Request().Context(), &paymentapp.SubscriptionCreatedRequest{
		SubscriptionID: reqBody.SubscriptionID,
		Owner:          owner,
		PlanID:         reqBody.PlanID,
		StartedAt:      reqBody.StartedAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

// SubscriptionRenewed サブスクリプション更新
// @Summary 停止予定を取り消し、期限到来分を付与
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body SubscriptionRenewedRequest true "更新イベント"
// @Success 200 {object} PaymentEventResponse "処理成功"
// @Router /admin/payments/subscriptions/renewed [post]
func (h *PaymentHandler) SubscriptionRenewed(c echo.Context) error {
	var reqBody SubscriptionRenewedRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.SubscriptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subscription_id is required")
	}

	resp, err := h.paymentService.HandleSubscriptionRenewed(c.Request().Context(), &paymentapp.SubscriptionRenewedRequest{
		SubscriptionID: reqBody.SubscriptionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

// SubscriptionPlanChanged プラン変更
// @Summary 次回サイクルからのプラン変更を予約
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body SubscriptionPlanChangedRequest true "プラン変更イベント"
// @Success 200 {object} PaymentEventResponse "処理成功"
// @Router /admin/payments/subscriptions/plan_changed [post]
func (h *PaymentHandler) SubscriptionPlanChanged(c echo.Context) error {
	var reqBody SubscriptionPlanChangedRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.SubscriptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subscription_id is required")
	}

	resp, err := h.paymentService.HandleSubscriptionPlanChanged(c.Request().Context(), &paymentapp.SubscriptionPlanChangedRequest{
		SubscriptionID: reqBody.SubscriptionID,
		PlanID:         reqBody.PlanID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

// SubscriptionCanceled サブスクリプション解約
// @Summary 付与スケジュールの停止時刻を設定
// @Tags payment
// @Accept json
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param request body SubscriptionCanceledRequest true "解約イベント"
// @Success 200 {object} PaymentEventResponse "処理成功"
// @Router /admin/payments/subscriptions/canceled [post]
func (h *PaymentHandler) SubscriptionCanceled(c echo.Context) error {
	var reqBody SubscriptionCanceledRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.SubscriptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subscription_id is required")
	}

	resp, err := h.paymentService.HandleSubscriptionCanceled(c.Request().Context(), &paymentapp.SubscriptionCanceledRequest{
		SubscriptionID: reqBody.SubscriptionID,
		EndsAt:         reqBody.EndsAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPaymentEventResponse(resp))
}

func toPaymentEventResponse(resp *paymentapp.PaymentEventResponse) PaymentEventResponse {
	return PaymentEventResponse{
		WalletID:      resp.WalletID,
		FulfillmentID: resp.FulfillmentID,
		TransactionID: resp.TransactionID,
		Credits:       resp.Credits,
		BalanceAfter:  resp.BalanceAfter,
		NextAt:        resp.NextAt,
		StopsAt:       resp.StopsAt,
		Duplicate:     resp.Duplicate,
	}
}
