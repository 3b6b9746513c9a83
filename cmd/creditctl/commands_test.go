package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute rootCmd を実行して標準出力と結果を返す
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Cleanup(func() {
		catalogPath = ""
		grantWallet, grantAmount, grantReason, grantExpiresIn = "", 0, "", 0
		walletOwner = ""
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCatalogCheckCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[operations]]
name = "send_email"
fixed = 1

[[operations]]
name = "process_image"
fixed = 10
rate = 1.0
unit = "mb"

[[packs]]
id = "starter"
credits = 1000

[[plans]]
id = "pro"
credits = 5000
every = "monthly"
`), 0o600))

	t.Run("正常系: 定義一覧を表示", func(t *testing.T) {
		out, err := execute(t, "catalog", "check", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Operations: process_image, send_email")
		assert.Contains(t, out, "Packs: starter")
		assert.Contains(t, out, "Plans: pro")
	})

	t.Run("正常系: --catalog フラグで指定", func(t *testing.T) {
		out, err := execute(t, "--catalog", path, "catalog", "check")
		require.NoError(t, err)
		assert.Contains(t, out, "Packs: starter")
	})

	t.Run("異常系: ファイル未指定", func(t *testing.T) {
		_, err := execute(t, "catalog", "check")
		assert.EqualError(t, err, "catalog file is required")
	})

	t.Run("異常系: 存在しないファイル", func(t *testing.T) {
		_, err := execute(t, "catalog", "check", filepath.Join(dir, "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("異常系: 不正な周期", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte(`
[[plans]]
id = "pro"
credits = 5000
every = "fortnightly-ish"
`), 0o600))
		_, err := execute(t, "catalog", "check", bad)
		assert.Error(t, err)
	})
}

func TestGrantCmd_Flags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "異常系: ウォレット未指定",
			args:    []string{"grant", "--amount", "100"},
			wantErr: "--wallet is required",
		},
		{
			name:    "異常系: 数量が0",
			args:    []string{"grant", "--wallet", "wal_1", "--amount", "0"},
			wantErr: "--amount must be positive",
		},
		{
			name:    "異常系: 負の失効期間",
			args:    []string{"grant", "--wallet", "wal_1", "--amount", "5", "--expires-in", "-1h"},
			wantErr: "--expires-in must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestWalletCreateCmd_InvalidOwner(t *testing.T) {
	_, err := execute(t, "wallet", "create", "--owner", "no-separator")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "creditctl version dev")
}
