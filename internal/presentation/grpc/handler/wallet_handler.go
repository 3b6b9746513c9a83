package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	historyapp "credit-server/internal/application/history"
	walletapp "credit-server/internal/application/wallet"
	"credit-server/internal/domain/cost"
	"credit-server/internal/presentation/grpc/interceptor"
)

// WalletHandler gRPCウォレットサービスハンドラー
//
// 対象ウォレットは認証済みトークンのウォレットに限る。
type WalletHandler struct {
	walletService  *walletapp.WalletApplicationService
	historyService *historyapp.HistoryApplicationService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(
	walletService *walletapp.WalletApplicationService,
	historyService *historyapp.HistoryApplicationService,
) *WalletHandler {
	return &WalletHandler{
		walletService:  walletService,
		historyService: historyService,
	}
}

// GetBalance 残高取得
func (h *WalletHandler) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	walletID, err := authenticatedWallet(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := h.walletService.GetBalance(ctx, walletID)
	if err != nil {
		return nil, handleError(err)
	}

	return newStruct(map[string]interface{}{
		"wallet_id": resp.WalletID,
		"balance":   resp.Balance,
	})
}

// EstimateCreditsTo コスト見積もり
func (h *WalletHandler) EstimateCreditsTo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	walletID, err := authenticatedWallet(ctx)
	if err != nil {
		return nil, err
	}
	operation := stringField(req, "operation")
	if operation == "" {
		return nil, status.Error(codes.InvalidArgument, "operation is required")
	}

	estimateReq := &walletapp.EstimateRequest{
		Operation: operation,
		Params:    cost.Params(mapField(req, "params")),
	}
	estimate, err := h.walletService.EstimateCreditsTo(ctx, estimateReq)
	if err != nil {
		return nil, handleError(err)
	}
	hasEnough, err := h.walletService.HasEnoughCreditsTo(ctx, walletID, estimateReq)
	if err != nil {
		return nil, handleError(err)
	}

	return newStruct(map[string]interface{}{
		"operation":  estimate.Operation,
		"cost":       estimate.Cost,
		"has_enough": hasEnough,
	})
}

// SpendCreditsOn オペレーション消費
func (h *WalletHandler) SpendCreditsOn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	walletID, err := authenticatedWallet(ctx)
	if err != nil {
		return nil, err
	}
	operation := stringField(req, "operation")
	if operation == "" {
		return nil, status.Error(codes.InvalidArgument, "operation is required")
	}

	resp, err := h.walletService.SpendCreditsOn(ctx, &walletapp.SpendRequest{
		WalletID:  walletID,
		Operation: operation,
		Params:    cost.Params(mapField(req, "params")),
		Metadata:  mapField(req, "metadata"),
	}, nil)
	if err != nil {
		return nil, handleError(err)
	}

	fields := creditsFields(&resp.CreditsResponse)
	fields["operation"] = resp.Operation
	fields["cost"] = resp.Cost
	return newStruct(fields)
}

// GetCreditHistory 台帳履歴取得
func (h *WalletHandler) GetCreditHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	walletID, err := authenticatedWallet(ctx)
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit", historyapp.DefaultLimit)
	if err != nil {
		return nil, err
	}
	offset, err := intField(req, "offset", 0)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > historyapp.MaxLimit {
		return nil, status.Error(codes.InvalidArgument, "invalid limit")
	}
	if offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "invalid offset")
	}

	resp, err := h.historyService.GetCreditHistory(ctx, &historyapp.GetCreditHistoryRequest{
		WalletID: walletID,
		Category: stringField(req, "category"),
		Limit:    int(limit),
		Offset:   int(offset),
	})
	if err != nil {
		return nil, handleError(err)
	}

	entries := make([]interface{}, len(resp.Entries))
	for i, e := range resp.Entries {
		entry := map[string]interface{}{
			"transaction_id": e.TransactionID,
			"amount":         e.Amount,
			"category":       e.Category,
			"expired":        e.Expired,
			"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
		}
		if e.ExpiresAt != nil {
			entry["expires_at"] = e.ExpiresAt.Format(time.RFC3339Nano)
		}
		if e.SourceRef != nil {
			entry["source_ref"] = *e.SourceRef
		}
		entries[i] = entry
	}

	return newStruct(map[string]interface{}{
		"wallet_id": resp.WalletID,
		"entries":   entries,
		"total":     resp.Total,
		"limit":     resp.Limit,
		"offset":    resp.Offset,
	})
}

func authenticatedWallet(ctx context.Context) (string, error) {
	walletID, ok := interceptor.WalletIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing wallet credentials")
	}
	return walletID, nil
}

func creditsFields(resp *walletapp.CreditsResponse) map[string]interface{} {
	allocations := make([]interface{}, len(resp.Allocations))
	for i, a := range resp.Allocations {
		allocations[i] = map[string]interface{}{
			"source_transaction_id": a.SourceTransactionID,
			"amount":                a.Amount,
		}
	}
	return map[string]interface{}{
		"wallet_id":      resp.WalletID,
		"transaction_id": resp.TransactionID,
		"amount":         resp.Amount,
		"category":       resp.Category,
		"balance_before": resp.BalanceBefore,
		"balance_after":  resp.BalanceAfter,
		"allocations":    allocations,
		"shortfall":      resp.Shortfall,
	}
}
