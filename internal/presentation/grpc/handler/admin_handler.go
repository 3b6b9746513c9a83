package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	fulfillmentapp "credit-server/internal/application/fulfillment"
	walletapp "credit-server/internal/application/wallet"
)

// AdminHandler gRPC管理サービスハンドラー
type AdminHandler struct {
	walletService *walletapp.WalletApplicationService
	runner        fulfillmentapp.Runner
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(walletService *walletapp.WalletApplicationService, runner fulfillmentapp.Runner) *AdminHandler {
	return &AdminHandler{
		walletService: walletService,
		runner:        runner,
	}
}

// AddCredits クレジット付与
func (h *AdminHandler) AddCredits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	walletID := stringField(req, "wallet_id")
	if walletID == "" {
		return nil, status.Error(codes.InvalidArgument, "wallet_id is required")
	}
	amount, err := intField(req, "amount", 0)
	if err != nil {
		return nil, err
	}

	addReq := &walletapp.AddCreditsRequest{
		WalletID: walletID,
		Amount:   amount,
		Category: stringField(req, "category"),
		Metadata: mapField(req, "metadata"),
	}
	if ref := stringField(req, "source_ref"); ref != "" {
		addReq.SourceRef = &ref
	}
	if expiresAt := stringField(req, "expires_at"); expiresAt != "" {
		t, err := time.Parse(time.RFC3339, expiresAt)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid expires_at")
		}
		addReq.ExpiresAt = &t
	}

	resp, err := h.walletService.AddCredits(ctx, addReq)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(creditsFields(resp))
}

// ProcessFulfillments 期限到来分の付与と失効残高の再計算を実行
func (h *AdminHandler) ProcessFulfillments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	batch, err := h.runner.ProcessPendingFulfillments(ctx)
	if err != nil {
		return nil, handleError(err)
	}
	sweep, err := h.runner.RefreshExpiredBalances(ctx)
	if err != nil {
		return nil, handleError(err)
	}

	return newStruct(map[string]interface{}{
		"processed":         batch.Processed,
		"granted":           batch.Granted,
		"failed":            batch.Failed,
		"expired_wallets":   sweep.Wallets,
		"refreshed_wallets": sweep.Refreshed,
		"sweep_failed":      sweep.Failed,
		"swept_until":       sweep.To.Format(time.RFC3339Nano),
	})
}
