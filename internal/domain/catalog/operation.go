package catalog

import (
	"fmt"

	"credit-server/internal/domain/cost"
)

// Validator オペレーションの検証条件
type Validator struct {
	Message string
	Check   func(params cost.Params) bool
}

// Operation 課金対象オペレーション（構築後は不変）
type Operation struct {
	name       string
	cost       cost.Expression
	validators []Validator
	metadata   map[string]interface{}
}

// Name オペレーション名を返す
func (o *Operation) Name() string { return o.name }

// Cost コスト式を返す
func (o *Operation) Cost() cost.Expression { return o.cost }

// Metadata メタデータのコピーを返す
func (o *Operation) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(o.metadata))
	for k, v := range o.metadata {
		out[k] = v
	}
	return out
}

// Validate 全ての検証条件を評価する
func (o *Operation) Validate(params cost.Params) error {
	for _, v := range o.validators {
		if !v.Check(params) {
			return fmt.Errorf("%w: %s: %s", ErrValidationFailed, o.name, v.Message)
		}
	}
	return nil
}

// Calculate 検証したうえでコストを計算する
func (o *Operation) Calculate(calc *cost.Calculator, params cost.Params) (int64, error) {
	if err := o.Validate(params); err != nil {
		return 0, err
	}
	return calc.Calculate(o.cost, params)
}

// OperationOption オペレーション定義のオプション
type OperationOption func(*Operation)

// WithValidator 検証条件を追加
func WithValidator(message string, check func(params cost.Params) bool) OperationOption {
	return func(o *Operation) {
		o.validators = append(o.validators, Validator{Message: message, Check: check})
	}
}

// WithOperationMetadata メタデータを設定
func WithOperationMetadata(metadata map[string]interface{}) OperationOption {
	return func(o *Operation) {
		for k, v := range metadata {
			o.metadata[k] = v
		}
	}
}
