package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-server/internal/domain/id"
)

func TestNewWallet(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		owner   Owner
		wantErr bool
	}{
		{name: "正常系: ユーザー", owner: Owner{Kind: "User", ID: "user123"}},
		{name: "正常系: 名前空間付きの種別", owner: Owner{Kind: "Billing::Team", ID: "team-9"}},
		{name: "異常系: 種別が空", owner: Owner{ID: "user123"}, wantErr: true},
		{name: "異常系: IDが空", owner: Owner{Kind: "User"}, wantErr: true},
		{name: "異常系: IDに空白", owner: Owner{Kind: "User", ID: "a b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWallet(tt.owner, nil, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOwner)
				return
			}
			require.NoError(t, err)
			require.NoError(t, id.Validate(w.ID(), id.PrefixWallet))
			assert.Equal(t, tt.owner, w.Owner())
			assert.Equal(t, int64(0), w.Balance())
			assert.Equal(t, now, w.CreatedAt())
		})
	}
}

func TestParseOwner(t *testing.T) {
	o, err := ParseOwner("Billing::Team:42")
	require.NoError(t, err)
	assert.Equal(t, Owner{Kind: "Billing::Team", ID: "42"}, o)
	assert.Equal(t, "Billing::Team:42", o.String())

	_, err = ParseOwner("nokind")
	assert.ErrorIs(t, err, ErrInvalidOwner)
}

func TestWallet_SetBalance(t *testing.T) {
	w := MustNewWallet("User", "u1")
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	w.SetBalance(120, at)
	assert.Equal(t, int64(120), w.Balance())
	assert.Equal(t, at, w.UpdatedAt())

	c := w.Copy()
	c.SetBalance(0, at)
	assert.Equal(t, int64(120), w.Balance())
}
