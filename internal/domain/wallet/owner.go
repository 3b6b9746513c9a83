package wallet

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	ownerKindRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_:\.]{0,63}$`)
	ownerIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@]{1,255}$`)
)

// Owner ウォレット所有者への型付き参照（種別タグ + 不透明なID）
type Owner struct {
	Kind string
	ID   string
}

// NewOwner 所有者参照を作成
func NewOwner(kind, ownerID string) (Owner, error) {
	if !ownerKindRegex.MatchString(kind) {
		return Owner{}, fmt.Errorf("%w: kind %q", ErrInvalidOwner, kind)
	}
	if !ownerIDRegex.MatchString(ownerID) {
		return Owner{}, fmt.Errorf("%w: id %q", ErrInvalidOwner, ownerID)
	}
	return Owner{Kind: kind, ID: ownerID}, nil
}

// ParseOwner "kind:id" 形式から所有者参照を作成
func ParseOwner(s string) (Owner, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return Owner{}, fmt.Errorf("%w: %q", ErrInvalidOwner, s)
	}
	return NewOwner(s[:i], s[i+1:])
}

// String "kind:id" 形式の文字列を返す
func (o Owner) String() string {
	return o.Kind + ":" + o.ID
}

// IsZero 未設定かどうか
func (o Owner) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}
