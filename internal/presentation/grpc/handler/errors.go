package handler

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/fulfillment"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
)

// handleError エラーをgRPCステータスコードに変換
func handleError(err error) error {
	// ドメインエラーの判定と処理
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, transaction.ErrTransactionNotFound),
		errors.Is(err, fulfillment.ErrFulfillmentNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, transaction.ErrDuplicateSourceRef),
		errors.Is(err, fulfillment.ErrDuplicateSourceRef):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, credit.ErrInsufficientCredits):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, credit.ErrConcurrency):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, credit.ErrInvalidOperation),
		errors.Is(err, credit.ErrConfiguration),
		errors.Is(err, wallet.ErrInvalidOwner),
		errors.Is(err, transaction.ErrInvalidTransaction):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	// gRPCステータスエラーの場合はそのまま返す
	if _, ok := status.FromError(err); ok {
		return err
	}

	// 予期しないエラー
	return status.Error(codes.Internal, "internal server error")
}
