// Package callback はウォレットのライフサイクルイベントを登録済みハンドラへ通知する
//
// ハンドラのエラーやpanicはログに記録して破棄し、台帳処理には伝播させない。
package callback

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Event ライフサイクルイベント
type Event string

const (
	EventCreditsAdded               Event = "credits_added"
	EventCreditsDeducted            Event = "credits_deducted"
	EventLowBalanceReached          Event = "low_balance_reached"
	EventBalanceDepleted            Event = "balance_depleted"
	EventInsufficientCredits        Event = "insufficient_credits"
	EventSubscriptionCreditsAwarded Event = "subscription_credits_awarded"
	EventCreditPackPurchased        Event = "credit_pack_purchased"
)

// Events 全イベント
func Events() []Event {
	return []Event{
		EventCreditsAdded,
		EventCreditsDeducted,
		EventLowBalanceReached,
		EventBalanceDepleted,
		EventInsufficientCredits,
		EventSubscriptionCreditsAwarded,
		EventCreditPackPurchased,
	}
}

// Valid 定義済みのイベントかどうか
func (e Event) Valid() bool {
	for _, v := range Events() {
		if v == e {
			return true
		}
	}
	return false
}

// Context ハンドラに渡す不変の値
type Context struct {
	Event         Event
	WalletID      string
	Owner         string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Category      string
	TransactionID string
	Threshold     int64
	OccurredAt    time.Time
	metadata      map[string]interface{}
}

// NewContext メタデータをコピーしてContextを作成
func NewContext(event Event, walletID string, metadata map[string]interface{}) Context {
	c := Context{Event: event, WalletID: walletID, metadata: make(map[string]interface{}, len(metadata))}
	for k, v := range metadata {
		c.metadata[k] = v
	}
	return c
}

// Metadata メタデータのコピーを返す
func (c Context) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Handler イベントハンドラ
type Handler func(ctx context.Context, c Context) error

// Logger ハンドラ失敗を記録するロガー
type Logger interface {
	Error(ctx context.Context, message string, err error, fields map[string]interface{})
}

// FailureRecorder ハンドラ失敗を計測する
type FailureRecorder interface {
	RecordCallbackFailure(ctx context.Context, event string)
}

// Registry イベントハンドラの登録簿
type Registry struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   Logger
	recorder FailureRecorder
}

// NewRegistry 新しいRegistryを作成（logger, recorder は nil 可）
func NewRegistry(logger Logger, recorder FailureRecorder) *Registry {
	return &Registry{
		handlers: make(map[Event][]Handler),
		logger:   logger,
		recorder: recorder,
	}
}

// On ハンドラを登録する
func (r *Registry) On(event Event, h Handler) error {
	if !event.Valid() {
		return fmt.Errorf("unknown callback event %q", event)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %q", event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], h)
	return nil
}

// Has ハンドラが登録されているかどうか
func (r *Registry) Has(event Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event]) > 0
}

// Dispatch 登録済みハンドラを順に呼び出す（失敗は記録して破棄）
func (r *Registry) Dispatch(ctx context.Context, c Context) {
	if r == nil {
		return
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = time.Now().UTC()
	}

	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[c.Event]...)
	r.mu.RUnlock()

	for i, h := range handlers {
		if err := r.invoke(ctx, h, c); err != nil {
			if r.logger != nil {
				r.logger.Error(ctx, "Callback handler failed", err, map[string]interface{}{
					"event":     string(c.Event),
					"wallet_id": c.WalletID,
					"handler":   i,
				})
			}
			if r.recorder != nil {
				r.recorder.RecordCallbackFailure(ctx, string(c.Event))
			}
		}
	}
}

func (r *Registry) invoke(ctx context.Context, h Handler, c Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panic: %v", p)
		}
	}()
	return h(ctx, c)
}
