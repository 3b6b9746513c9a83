package wallet

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credit-server/internal/domain/callback"
	"credit-server/internal/domain/catalog"
	"credit-server/internal/domain/cost"
	"credit-server/internal/domain/credit"
	"credit-server/internal/domain/transaction"
	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/cache"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/memory"
)

// recorder 発火したコールバックを記録する
type recorder struct {
	mu     sync.Mutex
	events []callback.Context
}

func (r *recorder) handler(ctx context.Context, c callback.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, c)
	return nil
}

func (r *recorder) count(event callback.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	svc          *WalletApplicationService
	store        *memory.Store
	transactions *memory.TransactionRepository
	allocations  *memory.AllocationRepository
	wallets      *memory.WalletRepository
	events       *recorder
	now          time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T, cfg config.CreditsConfig) *fixture {
	t.Helper()

	cat, err := catalog.NewBuilder(nil).
		Operation("process_image", cost.FixedCost(10)).
		Operation("upload", cost.VariableCost(1, cost.UnitMB),
			catalog.WithValidator("size is required", func(p cost.Params) bool {
				_, ok := p[cost.ParamSize]
				return ok
			})).
		Operation("ping", cost.FixedCost(0)).
		Build()
	require.NoError(t, err)

	logger := otelinfra.NewLoggerWithWriter(otel.Tracer("test"), io.Discard, "error")
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	events := &recorder{}
	registry := callback.NewRegistry(logger, metrics)
	for _, e := range callback.Events() {
		require.NoError(t, registry.On(e, events.handler))
	}

	store := memory.NewStore()
	f := &fixture{
		store:        store,
		transactions: memory.NewTransactionRepository(store),
		allocations:  memory.NewAllocationRepository(store),
		wallets:      memory.NewWalletRepository(store),
		events:       events,
		now:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.svc = NewWalletApplicationService(
		f.wallets,
		f.transactions,
		f.allocations,
		memory.NewTransactionManager(store),
		cat,
		registry,
		cache.NoopBalanceCache{},
		cfg,
		logger,
		metrics,
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) newWallet(t *testing.T, ownerID string) string {
	t.Helper()
	w, err := f.svc.FindOrCreateWallet(context.Background(), wallet.Owner{Kind: "user", ID: ownerID}, nil)
	require.NoError(t, err)
	return w.WalletID
}

// assertLedgerInvariants キャッシュ残高と割当の整合性を検証する
func (f *fixture) assertLedgerInvariants(t *testing.T, walletID string) {
	t.Helper()
	ctx := context.Background()

	w, err := f.wallets.FindByID(ctx, walletID)
	require.NoError(t, err)
	balance, err := f.svc.ledgerBalance(ctx, walletID, f.now)
	require.NoError(t, err)
	assert.Equal(t, balance, w.Balance(), "cached balance must match the ledger")

	txs, err := f.transactions.FindByWalletID(ctx, walletID, transaction.HistoryFilter{})
	require.NoError(t, err)
	debts, err := f.allocations.FindDebtsByWalletID(ctx, walletID)
	require.NoError(t, err)
	outstanding := make(map[string]int64)
	for _, d := range debts {
		outstanding[d.TransactionID] = d.Outstanding
	}

	for _, tx := range txs {
		if tx.IsCredit() {
			drawn, err := f.allocations.FindBySourceTransactionID(ctx, tx.ID())
			require.NoError(t, err)
			var sum int64
			for _, a := range drawn {
				sum += a.Amount()
			}
			assert.LessOrEqual(t, sum, tx.Amount())
			continue
		}
		covered, err := f.allocations.FindByTransactionID(ctx, tx.ID())
		require.NoError(t, err)
		var sum int64
		for _, a := range covered {
			sum += a.Amount()
		}
		assert.Equal(t, -tx.Amount(), sum+outstanding[tx.ID()])
	}
}

func TestWalletApplicationService_AddCredits(t *testing.T) {
	tests := []struct {
		name      string
		req       func(walletID string) *AddCreditsRequest
		wantErr   error
		wantAfter int64
	}{
		{
			name: "正常系: 付与成功",
			req: func(walletID string) *AddCreditsRequest {
				return &AddCreditsRequest{WalletID: walletID, Amount: 100, Category: "pack_purchase"}
			},
			wantAfter: 100,
		},
		{
			name: "正常系: カテゴリ省略時は手動調整",
			req: func(walletID string) *AddCreditsRequest {
				return &AddCreditsRequest{WalletID: walletID, Amount: 5}
			},
			wantAfter: 5,
		},
		{
			name: "異常系: 0以下の付与",
			req: func(walletID string) *AddCreditsRequest {
				return &AddCreditsRequest{WalletID: walletID, Amount: 0}
			},
			wantErr: credit.ErrInvalidOperation,
		},
		{
			name: "異常系: ウォレットが存在しない",
			req: func(string) *AddCreditsRequest {
				return &AddCreditsRequest{WalletID: "wal_missing", Amount: 10}
			},
			wantErr: wallet.ErrWalletNotFound,
		},
		{
			name: "異常系: 不正なカテゴリ",
			req: func(walletID string) *AddCreditsRequest {
				return &AddCreditsRequest{WalletID: walletID, Amount: 10, Category: "Not A Category"}
			},
			wantErr: transaction.ErrInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.DefaultCreditsConfig())
			walletID := f.newWallet(t, "u1")

			got, err := f.svc.AddCredits(context.Background(), tt.req(walletID))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.events.count(callback.EventCreditsAdded))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(0), got.BalanceBefore)
			assert.Equal(t, tt.wantAfter, got.BalanceAfter)
			assert.Equal(t, 1, f.events.count(callback.EventCreditsAdded))
			f.assertLedgerInvariants(t, walletID)
		})
	}
}

func TestWalletApplicationService_DeductCredits_FIFO(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	expires := f.now.Add(24 * time.Hour)
	older, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 100, ExpiresAt: &expires})
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 100})
	require.NoError(t, err)

	got, err := f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 60})
	require.NoError(t, err)

	require.Len(t, got.Allocations, 1)
	assert.Equal(t, older.TransactionID, got.Allocations[0].SourceTransactionID)
	assert.Equal(t, int64(60), got.Allocations[0].Amount)
	assert.Equal(t, int64(140), got.BalanceAfter)
	assert.Equal(t, 1, f.events.count(callback.EventCreditsDeducted))
	f.assertLedgerInvariants(t, walletID)

	// 古いバケットを使い切ってから新しいバケットへ
	got, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 50})
	require.NoError(t, err)
	require.Len(t, got.Allocations, 2)
	assert.Equal(t, older.TransactionID, got.Allocations[0].SourceTransactionID)
	assert.Equal(t, int64(40), got.Allocations[0].Amount)
	assert.Equal(t, int64(10), got.Allocations[1].Amount)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_DeductCredits_SkipsExpiredBuckets(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	expires := f.now.Add(time.Hour)
	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 100, ExpiresAt: &expires})
	require.NoError(t, err)
	fresh, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 30})
	require.NoError(t, err)

	f.advance(2 * time.Hour)

	got, err := f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 20})
	require.NoError(t, err)
	require.Len(t, got.Allocations, 1)
	assert.Equal(t, fresh.TransactionID, got.Allocations[0].SourceTransactionID)
	assert.Equal(t, int64(30), got.BalanceBefore)
	assert.Equal(t, int64(10), got.BalanceAfter)

	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 11})
	assert.ErrorIs(t, err, credit.ErrInsufficientCredits)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_DeductCredits_Insufficient(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 40})
	require.NoError(t, err)

	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 41})
	require.ErrorIs(t, err, credit.ErrInsufficientCredits)
	assert.Equal(t, 1, f.events.count(callback.EventInsufficientCredits))
	assert.Equal(t, 0, f.events.count(callback.EventCreditsDeducted))

	count, err := f.transactions.CountByWalletID(ctx, walletID, transaction.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	balance, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.Balance)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_NegativeBalanceAndSettlement(t *testing.T) {
	cfg := config.DefaultCreditsConfig()
	cfg.AllowNegativeBalance = true
	f := newFixture(t, cfg)
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 30})
	require.NoError(t, err)

	got, err := f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Shortfall)
	assert.Equal(t, int64(-20), got.BalanceAfter)
	// 0ちょうどを経由しない負残高への遷移では残高0通知は出ない
	assert.Equal(t, 0, f.events.count(callback.EventBalanceDepleted))
	f.assertLedgerInvariants(t, walletID)

	added, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(-20), added.BalanceBefore)
	assert.Equal(t, int64(30), added.BalanceAfter)

	debts, err := f.allocations.FindDebtsByWalletID(ctx, walletID)
	require.NoError(t, err)
	assert.Empty(t, debts)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_Thresholds(t *testing.T) {
	cfg := config.DefaultCreditsConfig()
	cfg.LowBalanceThreshold = 20
	f := newFixture(t, cfg)
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50})
	require.NoError(t, err)

	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 35})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(callback.EventLowBalanceReached))

	// 既に閾値以下なら再通知しない
	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(callback.EventLowBalanceReached))
	assert.Equal(t, 0, f.events.count(callback.EventBalanceDepleted))

	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.count(callback.EventBalanceDepleted))
	assert.Equal(t, 1, f.events.count(callback.EventLowBalanceReached))
}

func TestCrossings(t *testing.T) {
	tests := []struct {
		name      string
		before    int64
		after     int64
		threshold int64
		want      []callback.Event
	}{
		{name: "正常系: 閾値を跨ぐ", before: 50, after: 15, threshold: 20, want: []callback.Event{callback.EventLowBalanceReached}},
		{name: "正常系: 閾値ちょうど", before: 21, after: 20, threshold: 20, want: []callback.Event{callback.EventLowBalanceReached}},
		{name: "正常系: 既に閾値以下", before: 15, after: 10, threshold: 20},
		{name: "正常系: 0に到達", before: 10, after: 0, threshold: 20, want: []callback.Event{callback.EventBalanceDepleted}},
		{name: "正常系: 閾値0は低残高通知なし", before: 10, after: 0, threshold: 0, want: []callback.Event{callback.EventBalanceDepleted}},
		{name: "正常系: 閾値を跨いで0に到達", before: 100, after: 0, threshold: 20, want: []callback.Event{callback.EventLowBalanceReached, callback.EventBalanceDepleted}},
		{name: "正常系: 閾値を跨いで負残高", before: 100, after: -5, threshold: 20, want: []callback.Event{callback.EventLowBalanceReached}},
		{name: "正常系: 0を飛び越えて負残高", before: 10, after: -5, threshold: 0},
		{name: "正常系: 負残高から0に回復", before: -5, after: 0, threshold: 20},
		{name: "正常系: 既に0以下", before: 0, after: -5, threshold: 0},
		{name: "正常系: 増加", before: 0, after: 100, threshold: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, crossings(tt.before, tt.after, tt.threshold))
		})
	}
}

func TestWalletApplicationService_SpendCreditsOn(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 見積もりと消費額が一致", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")
		_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 100})
		require.NoError(t, err)

		params := cost.Params{cost.ParamSize: 2_411_725}
		estimate, err := f.svc.EstimateCreditsTo(ctx, &EstimateRequest{Operation: "upload", Params: params})
		require.NoError(t, err)
		assert.Equal(t, int64(3), estimate.Cost)

		spent, err := f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "upload", Params: params}, nil)
		require.NoError(t, err)
		assert.Equal(t, estimate.Cost, -spent.Amount)
		assert.Equal(t, int64(97), spent.BalanceAfter)

		tx, err := f.transactions.FindByID(ctx, spent.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, transaction.CategoryOperationCharge, tx.Category())
		assert.Equal(t, "upload", tx.Metadata()["operation"])
		f.assertLedgerInvariants(t, walletID)
	})

	t.Run("正常系: ブロック成功でコミット", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")
		_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10})
		require.NoError(t, err)

		ran := false
		_, err = f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: ":process_image"}, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		balance, err := f.svc.GetBalance(ctx, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance.Balance)
		assert.Equal(t, 1, f.events.count(callback.EventBalanceDepleted))
	})

	t.Run("異常系: ブロック失敗で台帳に何も残らない", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")
		_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50})
		require.NoError(t, err)

		blockErr := errors.New("image processing failed")
		_, err = f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "process_image"}, func(ctx context.Context) error {
			return blockErr
		})
		require.ErrorIs(t, err, blockErr)

		count, err := f.transactions.CountByWalletID(ctx, walletID, transaction.HistoryFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		balance, err := f.svc.GetBalance(ctx, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(50), balance.Balance)
		assert.Equal(t, 0, f.events.count(callback.EventCreditsDeducted))
		f.assertLedgerInvariants(t, walletID)
	})

	t.Run("異常系: 検証条件違反", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")

		_, err := f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "upload", Params: cost.Params{}}, nil)
		assert.ErrorIs(t, err, credit.ErrInvalidOperation)
	})

	t.Run("異常系: 未定義のオペレーション", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")

		_, err := f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "nope"}, nil)
		assert.ErrorIs(t, err, catalog.ErrUnknownOperation)
	})

	t.Run("異常系: 残高不足ではブロックを実行しない", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")

		ran := false
		_, err := f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "process_image"}, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.ErrorIs(t, err, credit.ErrInsufficientCredits)
		assert.False(t, ran)
		assert.Equal(t, 1, f.events.count(callback.EventInsufficientCredits))
	})

	t.Run("正常系: コスト0は台帳に記録しない", func(t *testing.T) {
		f := newFixture(t, config.DefaultCreditsConfig())
		walletID := f.newWallet(t, "u1")

		got, err := f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "ping"}, nil)
		require.NoError(t, err)
		assert.Empty(t, got.TransactionID)

		count, err := f.transactions.CountByWalletID(ctx, walletID, transaction.HistoryFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestWalletApplicationService_HasEnoughCreditsTo(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	ok, err := f.svc.HasEnoughCreditsTo(ctx, walletID, &EstimateRequest{Operation: "process_image"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10})
	require.NoError(t, err)

	ok, err = f.svc.HasEnoughCreditsTo(ctx, walletID, &EstimateRequest{Operation: "process_image"})
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := f.transactions.CountByWalletID(ctx, walletID, transaction.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWalletApplicationService_GiveCredits(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	got, err := f.svc.GiveCredits(ctx, &GiveCreditsRequest{WalletID: walletID, Amount: 25, Reason: "Support goodwill"})
	require.NoError(t, err)
	assert.Equal(t, transaction.CategoryManualAdjustment.String(), got.Category)

	tx, err := f.transactions.FindByID(ctx, got.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "Support goodwill", tx.Metadata()["reason"])

	got, err = f.svc.GiveCredits(ctx, &GiveCreditsRequest{WalletID: walletID, Amount: 5, Reason: "referral_bonus"})
	require.NoError(t, err)
	assert.Equal(t, "referral_bonus", got.Category)
}

func TestWalletApplicationService_ExpiredGrantScenario(t *testing.T) {
	cfg := config.DefaultCreditsConfig()
	f := newFixture(t, cfg)
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	expires := f.now.Add(24 * time.Hour)
	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50, ExpiresAt: &expires})
	require.NoError(t, err)

	f.advance(24*time.Hour + cfg.GracePeriod)
	nextExpiry := f.now.Add(24 * time.Hour)
	got, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50, ExpiresAt: &nextExpiry})
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.BalanceAfter)

	balance, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_RefundScenario(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 1000, Category: "pack_purchase"})
	require.NoError(t, err)
	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 500, Category: "pack_refund"})
	require.NoError(t, err)

	balance, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.Balance)

	txs, err := f.transactions.FindByWalletID(ctx, walletID, transaction.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, transaction.CategoryPackPurchase, txs[0].Category())
	assert.Equal(t, transaction.CategoryPackRefund, txs[1].Category())
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_ConcurrentSpend(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10})
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.SpendCreditsOn(ctx, &SpendRequest{WalletID: walletID, Operation: "process_image"}, func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, credit.ErrInsufficientCredits):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	balance, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Balance)
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_CallbackFailureIsolated(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	require.NoError(t, f.svc.callbacks.On(callback.EventCreditsAdded, func(ctx context.Context, c callback.Context) error {
		panic("handler exploded")
	}))
	require.NoError(t, f.svc.callbacks.On(callback.EventCreditsAdded, func(ctx context.Context, c callback.Context) error {
		return errors.New("handler failed")
	}))

	got, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.BalanceAfter)
	assert.Equal(t, 1, f.events.count(callback.EventCreditsAdded))
}

func TestWalletApplicationService_RefreshBalance(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	expires := f.now.Add(time.Hour)
	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 40, ExpiresAt: &expires})
	require.NoError(t, err)

	f.advance(2 * time.Hour)

	got, err := f.svc.RefreshBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.BalanceBefore)
	assert.Equal(t, int64(0), got.BalanceAfter)
	assert.Equal(t, 1, f.events.count(callback.EventBalanceDepleted))
	f.assertLedgerInvariants(t, walletID)
}

func TestWalletApplicationService_FindOrCreateWallet(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	owner := wallet.Owner{Kind: "team", ID: "acme"}

	first, err := f.svc.FindOrCreateWallet(ctx, owner, map[string]interface{}{"plan": "pro"})
	require.NoError(t, err)
	second, err := f.svc.FindOrCreateWallet(ctx, owner, nil)
	require.NoError(t, err)

	assert.Equal(t, first.WalletID, second.WalletID)
	assert.Equal(t, "team:acme", second.Owner)

	_, err = f.svc.FindOrCreateWallet(ctx, wallet.Owner{Kind: "", ID: "x"}, nil)
	assert.ErrorIs(t, err, wallet.ErrInvalidOwner)
}

// fakeCache テスト用の残高キャッシュ
type fakeCache struct {
	values      map[string]int64
	ttls        map[string]time.Duration
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) GetBalance(_ context.Context, walletID string) (int64, bool, error) {
	v, ok := c.values[walletID]
	return v, ok, nil
}

func (c *fakeCache) SetBalance(_ context.Context, walletID string, balance int64, maxTTL time.Duration) error {
	if _, ok := c.values[walletID]; ok {
		return nil
	}
	c.values[walletID] = balance
	c.ttls[walletID] = maxTTL
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, walletID string) error {
	delete(c.values, walletID)
	c.invalidated = append(c.invalidated, walletID)
	return nil
}

func TestWalletApplicationService_GetBalance_Cache(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	c := newFakeCache()
	f.svc.cache = c
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{walletID}, c.invalidated)

	got, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, int64(10), got.Balance)

	got, err = f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.Equal(t, int64(10), got.Balance)

	_, err = f.svc.DeductCredits(ctx, &DeductCreditsRequest{WalletID: walletID, Amount: 4})
	require.NoError(t, err)
	got, err = f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, int64(6), got.Balance)
}

func TestWalletApplicationService_GetBalance_ExcludesExpiredCredits(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")

	expires := f.now.Add(time.Hour)
	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 50, ExpiresAt: &expires})
	require.NoError(t, err)

	got, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Balance)

	// スイープ前でも失効分は残高に含めない
	f.advance(2 * time.Hour)

	got, err = f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)

	enough, err := f.svc.HasEnoughCreditsTo(ctx, walletID, &EstimateRequest{Operation: "process_image"})
	require.NoError(t, err)
	assert.False(t, enough)

	_, err = f.svc.GetBalance(ctx, "wal_missing")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestWalletApplicationService_GetBalance_CacheTTL(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	c := newFakeCache()
	f.svc.cache = c
	ctx := context.Background()

	t.Run("正常系: 失効予定がなければTTLはキャッシュ側の既定値", func(t *testing.T) {
		walletID := f.newWallet(t, "u1")
		_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 30})
		require.NoError(t, err)

		_, err = f.svc.GetBalance(ctx, walletID)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), c.ttls[walletID])
	})

	t.Run("正常系: 最も早い失効時刻までにTTLを制限", func(t *testing.T) {
		walletID := f.newWallet(t, "u2")
		soon := f.now.Add(10 * time.Minute)
		later := f.now.Add(time.Hour)
		_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 20, ExpiresAt: &later})
		require.NoError(t, err)
		_, err = f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10, ExpiresAt: &soon})
		require.NoError(t, err)

		got, err := f.svc.GetBalance(ctx, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(30), got.Balance)
		assert.Equal(t, 10*time.Minute, c.ttls[walletID])
	})

	t.Run("正常系: キャッシュ済みの値は上書きしない", func(t *testing.T) {
		walletID := f.newWallet(t, "u3")
		c.values[walletID] = 7

		got, err := f.svc.GetBalance(ctx, walletID)
		require.NoError(t, err)
		assert.True(t, got.Cached)
		assert.Equal(t, int64(7), got.Balance)
	})
}

func TestWalletApplicationService_DuplicateSourceRef(t *testing.T) {
	f := newFixture(t, config.DefaultCreditsConfig())
	ctx := context.Background()
	walletID := f.newWallet(t, "u1")
	ref := "ch_1"

	_, err := f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10, Category: "pack_purchase", SourceRef: &ref})
	require.NoError(t, err)
	_, err = f.svc.AddCredits(ctx, &AddCreditsRequest{WalletID: walletID, Amount: 10, Category: "pack_purchase", SourceRef: &ref})
	assert.ErrorIs(t, err, transaction.ErrDuplicateSourceRef)

	balance, err := f.svc.GetBalance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Balance)
}
