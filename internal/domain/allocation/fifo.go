package allocation

import (
	"sort"
	"time"
)

// Bucket 付与エントリと未割当の残量
type Bucket struct {
	TransactionID string
	Seq           int64
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	Amount        int64
	Remaining     int64
}

// IsExpired 指定時刻に失効済みかどうか
func (b Bucket) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// Debt 割当が足りていない消費エントリ（負残高を許可した場合に発生）
type Debt struct {
	TransactionID string
	Seq           int64
	CreatedAt     time.Time
	Outstanding   int64
}

// Take 1つのバケットからの引き落とし
type Take struct {
	SourceTransactionID string
	Amount              int64
}

// Plan FIFO割当の結果
type Plan struct {
	Takes     []Take
	Covered   int64
	Shortfall int64
}

// Satisfied 全額を割り当てられたかどうか
func (p Plan) Satisfied() bool {
	return p.Shortfall == 0
}

// Allocate 古いバケットから順に amount を割り当てる
//
// 失効済み・残量0のバケットは候補に含めない。割当は作成日時、連番の順で行う。
func Allocate(buckets []Bucket, amount int64, now time.Time) Plan {
	candidates := Available(buckets, now)

	plan := Plan{}
	needed := amount
	for _, b := range candidates {
		if needed <= 0 {
			break
		}
		take := min(b.Remaining, needed)
		plan.Takes = append(plan.Takes, Take{SourceTransactionID: b.TransactionID, Amount: take})
		plan.Covered += take
		needed -= take
	}
	if needed > 0 {
		plan.Shortfall = needed
	}
	return plan
}

// Available 割当可能なバケットをFIFO順で返す
func Available(buckets []Bucket, now time.Time) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Remaining <= 0 || b.IsExpired(now) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Allocatable 割当可能な残量の合計
func Allocatable(buckets []Bucket, now time.Time) int64 {
	var total int64
	for _, b := range Available(buckets, now) {
		total += b.Remaining
	}
	return total
}

// NextExpiry 残量のある未失効エントリのうち最も早い失効時刻（なければ nil）
func NextExpiry(buckets []Bucket, now time.Time) *time.Time {
	var next *time.Time
	for _, b := range Available(buckets, now) {
		if b.ExpiresAt == nil {
			continue
		}
		if next == nil || b.ExpiresAt.Before(*next) {
			t := *b.ExpiresAt
			next = &t
		}
	}
	return next
}

// Balance 残高 = 割当可能な残量 - 未割当の消費
func Balance(buckets []Bucket, debts []Debt, now time.Time) int64 {
	total := Allocatable(buckets, now)
	for _, d := range debts {
		total -= d.Outstanding
	}
	return total
}

// Settlement 未割当の消費エントリへの精算
type Settlement struct {
	DebitTransactionID string
	Amount             int64
}

// Settle 新しい付与エントリで未割当の消費を古い順に精算する
func Settle(creditAmount int64, debts []Debt) []Settlement {
	sorted := make([]Debt, 0, len(debts))
	for _, d := range debts {
		if d.Outstanding > 0 {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	var settlements []Settlement
	left := creditAmount
	for _, d := range sorted {
		if left <= 0 {
			break
		}
		take := min(d.Outstanding, left)
		settlements = append(settlements, Settlement{DebitTransactionID: d.TransactionID, Amount: take})
		left -= take
	}
	return settlements
}
