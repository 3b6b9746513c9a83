package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	historyapp "credit-server/internal/application/history"
)

// HistoryHandler 履歴関連ハンドラー
type HistoryHandler struct {
	historyService *historyapp.HistoryApplicationService
}

// NewHistoryHandler 新しいHistoryHandlerを作成
func NewHistoryHandler(historyService *historyapp.HistoryApplicationService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
	}
}

// GetCreditHistory 台帳履歴取得ハンドラー
// @Summary 台帳履歴を取得
// @Description ウォレットの台帳エントリを時系列順で取得します。ページネーションとフィルタリングに対応しています
// @Tags history
// @Produce json
// @Security Bearer
// @Param wallet_id path string true "ウォレットID"
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット（デフォルト: 0)" default(0)
// @Param category query string false "カテゴリでフィルタ" example(subscription_credits)
// @Param from query string false "作成日時の下限（RFC3339、含む）"
// @Param to query string false "作成日時の上限（RFC3339、含まない）"
// @Success 200 {object} HistoryResponse "履歴取得成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /wallets/{wallet_id}/history [get]
func (h *HistoryHandler) GetCreditHistory(c echo.Context) error {
	limit := historyapp.DefaultLimit
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > historyapp.MaxLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
		}
	}

	offset := 0
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		var err error
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset parameter")
		}
	}

	from, err := parseTimeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		return err
	}

	resp, err := h.historyService.GetCreditHistory(c.Request().Context(), &historyapp.GetCreditHistoryRequest{
		WalletID: c.Param("wallet_id"),
		Category: c.QueryParam("category"),
		From:     from,
		To:       to,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}

	entries := make([]HistoryItem, len(resp.Entries))
	for i, e := range resp.Entries {
		entries[i] = HistoryItem{
			TransactionID: e.TransactionID,
			Amount:        e.Amount,
			Category:      e.Category,
			ExpiresAt:     e.ExpiresAt,
			Expired:       e.Expired,
			FulfillmentID: e.FulfillmentID,
			SourceRef:     e.SourceRef,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		}
	}

	return c.JSON(http.StatusOK, HistoryResponse{
		WalletID: resp.WalletID,
		Entries:  entries,
		Total:    resp.Total,
		Limit:    resp.Limit,
		Offset:   resp.Offset,
	})
}

// parseTimeParam RFC3339形式のクエリパラメータを解釈する（未指定は nil）
func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	value := c.QueryParam(name)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" parameter")
	}
	return &t, nil
}
