package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// Runner スケジューラが定期実行する処理
type Runner interface {
	ProcessPendingFulfillments(ctx context.Context) (*BatchResult, error)
	RefreshExpiredBalances(ctx context.Context) (*SweepResult, error)
}

// Scheduler 付与処理と失効残高の再計算を一定間隔で実行するバックグラウンドワーカー
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *otelinfra.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler 新しいSchedulerを作成
func NewScheduler(runner Runner, interval time.Duration, logger *otelinfra.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start バックグラウンドで実行を開始（起動直後に1回実行する）
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
}

// Stop 実行中の処理の完了を待って停止する
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// RunOnce 付与処理と失効残高の再計算を1回実行する
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler run panicked: %v", r)
			s.logger.Error(ctx, "Recovered from panic in scheduler run", err, nil)
		}
	}()

	batch, err := s.runner.ProcessPendingFulfillments(ctx)
	if err != nil {
		s.logger.Error(ctx, "Fulfillment run failed", err, nil)
		return err
	}

	sweep, err := s.runner.RefreshExpiredBalances(ctx)
	if err != nil {
		s.logger.Error(ctx, "Expired balance sweep failed", err, nil)
		return err
	}

	s.logger.Debug(ctx, "Scheduler run completed", map[string]interface{}{
		"processed":       batch.Processed,
		"granted":         batch.Granted,
		"failed":          batch.Failed,
		"expired_wallets": sweep.Wallets,
		"refreshed":       sweep.Refreshed,
	})
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info(ctx, "Fulfillment scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})

	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info(context.Background(), "Fulfillment scheduler stopped", nil)
			return
		}
	}
}
