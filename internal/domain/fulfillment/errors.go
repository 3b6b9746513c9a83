package fulfillment

import (
	"errors"
	"fmt"

	"credit-server/internal/domain/credit"
)

var (
	// ErrFulfillmentNotFound 付与スケジュールが見つからないエラー
	ErrFulfillmentNotFound = errors.New("fulfillment not found")
	// ErrDuplicateSourceRef 同じ種別・ソース参照の付与スケジュールが既に存在する
	ErrDuplicateSourceRef = errors.New("duplicate fulfillment source reference")

	// ErrMissingWallet ウォレット参照が無い
	ErrMissingWallet = fmt.Errorf("%w: fulfillment must reference a wallet", credit.ErrConfiguration)
	// ErrInvalidType 未対応の種別
	ErrInvalidType = fmt.Errorf("%w: invalid fulfillment type", credit.ErrConfiguration)
	// ErrMissingMetadata 種別ごとに必須のメタデータが無い
	ErrMissingMetadata = fmt.Errorf("%w: missing fulfillment metadata", credit.ErrConfiguration)
	// ErrInvalidPeriod 周期が0以下
	ErrInvalidPeriod = fmt.Errorf("%w: fulfillment period must be positive", credit.ErrConfiguration)
)
