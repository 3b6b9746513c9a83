// Package id はクレジット台帳のエンティティIDを生成・検証する
//
// IDはTypeID形式（"prefix_suffix"）で、UUIDv7ベースのためK-sortableとなる。
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix エンティティ種別を表すプレフィックス
type Prefix string

const (
	PrefixWallet      Prefix = "wal" // ウォレット
	PrefixTransaction Prefix = "ctx" // 台帳エントリ
	PrefixAllocation  Prefix = "alc" // 割当
	PrefixFulfillment Prefix = "ful" // 付与スケジュール
)

// New 新しいIDを生成する（プレフィックス不正はプログラミングエラーのためpanic）
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewWalletID ウォレットIDを生成
func NewWalletID() string { return New(PrefixWallet) }

// NewTransactionID 台帳エントリIDを生成
func NewTransactionID() string { return New(PrefixTransaction) }

// NewAllocationID 割当IDを生成
func NewAllocationID() string { return New(PrefixAllocation) }

// NewFulfillmentID 付与スケジュールIDを生成
func NewFulfillmentID() string { return New(PrefixFulfillment) }

// Validate IDを検証し、プレフィックスが期待値と一致するか確認する
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}

	if Prefix(tid.Prefix()) != expected {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, tid.Prefix())
	}

	return nil
}
