// Package cache はウォレット残高の読み取りキャッシュを提供する
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/infrastructure/config"
)

const (
	keyPrefix = "credits:balance:"

	// invalidatedHold 破棄後に読み取り側の書き戻しを拒否する期間
	invalidatedHold = 5 * time.Second
	invalidated     = ""
)

// DefaultTTL TTL未指定時のキャッシュ期間
const DefaultTTL = 30 * time.Second

// cachedBalance キャッシュに保存する値
type cachedBalance struct {
	Balance  int64     `json:"balance"`
	CachedAt time.Time `json:"cached_at"`
}

// RedisBalanceCache Redis実装の残高キャッシュ
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisClient 設定からRedisクライアントを作成し疎通確認する
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisBalanceCache 新しい残高キャッシュを作成
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBalanceCache{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("balance-cache"),
	}
}

// Key ウォレットのキャッシュキー
func Key(walletID string) string {
	return keyPrefix + walletID
}

// GetBalance キャッシュ済み残高を返す（未キャッシュなら ok=false）
func (c *RedisBalanceCache) GetBalance(ctx context.Context, walletID string) (int64, bool, error) {
	ctx, span := c.tracer.Start(ctx, "RedisBalanceCache.GetBalance")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.key", Key(walletID)),
		attribute.String("cache.operation", "GET"),
	)

	val, err := c.client.Get(ctx, Key(walletID)).Result()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		span.SetStatus(otelcodes.Ok, "cache miss")
		return 0, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, false, fmt.Errorf("failed to get cached balance: %w", err)
	}

	if val == invalidated {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		span.SetStatus(otelcodes.Ok, "cache invalidated")
		return 0, false, nil
	}

	var cached cachedBalance
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, false, fmt.Errorf("failed to decode cached balance: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	span.SetStatus(otelcodes.Ok, "cache hit")
	return cached.Balance, true, nil
}

// SetBalance キーが存在しない場合のみ残高をTTL付きでキャッシュ（maxTTL > 0 ならTTLを制限）
func (c *RedisBalanceCache) SetBalance(ctx context.Context, walletID string, balance int64, maxTTL time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "RedisBalanceCache.SetBalance")
	defer span.End()

	ttl := c.ttl
	if maxTTL > 0 && maxTTL < ttl {
		ttl = maxTTL
	}
	span.SetAttributes(
		attribute.String("cache.key", Key(walletID)),
		attribute.String("cache.operation", "SET NX"),
		attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
	)

	b, err := json.Marshal(cachedBalance{Balance: balance, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	err = c.client.SetArgs(ctx, Key(walletID), b, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		span.SetStatus(otelcodes.Ok, "balance already cached")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to cache balance: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "balance cached")
	return nil
}

// Invalidate キャッシュを破棄する
//
// 値を削除せず短時間の破棄マーカーで置き換えるため、更新前に読んだ残高は SetBalance で書き戻されない。
func (c *RedisBalanceCache) Invalidate(ctx context.Context, walletID string) error {
	ctx, span := c.tracer.Start(ctx, "RedisBalanceCache.Invalidate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.key", Key(walletID)),
		attribute.String("cache.operation", "SET"),
	)

	if err := c.client.Set(ctx, Key(walletID), invalidated, min(invalidatedHold, c.ttl)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to invalidate balance: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "balance invalidated")
	return nil
}

// NoopBalanceCache キャッシュ無効時の実装
type NoopBalanceCache struct{}

// GetBalance 常にミス
func (NoopBalanceCache) GetBalance(context.Context, string) (int64, bool, error) { return 0, false, nil }

// SetBalance 何もしない
func (NoopBalanceCache) SetBalance(context.Context, string, int64, time.Duration) error { return nil }

// Invalidate 何もしない
func (NoopBalanceCache) Invalidate(context.Context, string) error { return nil }
