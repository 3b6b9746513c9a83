package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// 台帳エントリ数
	LedgerEntryCount metric.Int64Counter

	// 付与・消費したクレジット量
	CreditVolume metric.Int64Counter

	// ウォレット残高
	WalletBalance metric.Int64Gauge

	// クレジット不足による拒否件数
	InsufficientCreditsCount metric.Int64Counter

	// マイナス残高の発生件数
	NegativeBalanceCount metric.Int64Counter

	// 付与スケジュールの処理件数
	FulfillmentCount metric.Int64Counter

	// コールバック失敗件数
	CallbackFailureCount metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー率
	ErrorCount metric.Int64Counter
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	ledgerEntryCount, err := meter.Int64Counter(
		"credit_ledger_entries_total",
		metric.WithDescription("Total number of ledger entries"),
	)
	if err != nil {
		return nil, err
	}

	creditVolume, err := meter.Int64Counter(
		"credit_volume_total",
		metric.WithDescription("Total credits granted or debited"),
	)
	if err != nil {
		return nil, err
	}

	walletBalance, err := meter.Int64Gauge(
		"credit_wallet_balance",
		metric.WithDescription("Wallet balance"),
	)
	if err != nil {
		return nil, err
	}

	insufficientCreditsCount, err := meter.Int64Counter(
		"credit_insufficient_total",
		metric.WithDescription("Total number of debits rejected for insufficient credits"),
	)
	if err != nil {
		return nil, err
	}

	negativeBalanceCount, err := meter.Int64Counter(
		"credit_negative_balance_total",
		metric.WithDescription("Total number of negative balance occurrences"),
	)
	if err != nil {
		return nil, err
	}

	fulfillmentCount, err := meter.Int64Counter(
		"credit_fulfillments_total",
		metric.WithDescription("Total number of processed fulfillments"),
	)
	if err != nil {
		return nil, err
	}

	callbackFailureCount, err := meter.Int64Counter(
		"credit_callback_failures_total",
		metric.WithDescription("Total number of failed callback handlers"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of requests"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		LedgerEntryCount:         ledgerEntryCount,
		CreditVolume:             creditVolume,
		WalletBalance:            walletBalance,
		InsufficientCreditsCount: insufficientCreditsCount,
		NegativeBalanceCount:     negativeBalanceCount,
		FulfillmentCount:         fulfillmentCount,
		CallbackFailureCount:     callbackFailureCount,
		RequestCount:             requestCount,
		ResponseTime:             responseTime,
		ErrorCount:               errorCount,
	}, nil
}

// RecordLedgerEntry 台帳エントリを記録
func (m *Metrics) RecordLedgerEntry(ctx context.Context, category string, amount int64) {
	direction := "credit"
	volume := amount
	if amount < 0 {
		direction = "debit"
		volume = -amount
	}
	attrs := metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("direction", direction),
	)
	m.LedgerEntryCount.Add(ctx, 1, attrs)
	m.CreditVolume.Add(ctx, volume, attrs)
}

// RecordWalletBalance ウォレット残高を記録
func (m *Metrics) RecordWalletBalance(ctx context.Context, walletID string, balance int64) {
	m.WalletBalance.Record(ctx, balance,
		metric.WithAttributes(
			attribute.String("wallet_id", walletID),
		),
	)
	if balance < 0 {
		m.NegativeBalanceCount.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("wallet_id", walletID),
			),
		)
	}
}

// RecordInsufficientCredits クレジット不足を記録
func (m *Metrics) RecordInsufficientCredits(ctx context.Context, category string) {
	m.InsufficientCreditsCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("category", category),
		),
	)
}

// RecordFulfillment 付与スケジュールの処理結果を記録
func (m *Metrics) RecordFulfillment(ctx context.Context, fulfillmentType, status string) {
	m.FulfillmentCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("fulfillment_type", fulfillmentType),
			attribute.String("status", status),
		),
	)
}

// RecordCallbackFailure コールバック失敗を記録
func (m *Metrics) RecordCallbackFailure(ctx context.Context, event string) {
	m.CallbackFailureCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event", event),
		),
	)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
