package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
	"credit-server/internal/infrastructure/persistence/memory"
)

func newTestService(t *testing.T, jwtConfig *config.JWTConfig) (*AuthApplicationService, *wallet.Wallet) {
	t.Helper()

	store := memory.NewStore()
	walletRepo := memory.NewWalletRepository(store)
	w := wallet.MustNewWallet("user", "u1")
	require.NoError(t, walletRepo.Create(context.Background(), w))

	logger := otelinfra.NewLoggerWithWriter(otel.Tracer("test"), io.Discard, "error")
	return NewAuthApplicationService(jwtConfig, walletRepo, logger), w
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		Secret:     "test-secret-key",
		Issuer:     "test-issuer",
		Expiration: 24 * time.Hour,
	}
}

func TestAuthApplicationService_GenerateToken(t *testing.T) {
	tests := []struct {
		name      string
		walletID  func(w *wallet.Wallet) string
		wantError error
	}{
		{
			name:     "正常系: トークンを生成",
			walletID: func(w *wallet.Wallet) string { return w.ID() },
		},
		{
			name:      "異常系: ウォレットIDが空",
			walletID:  func(*wallet.Wallet) string { return "" },
			wantError: ErrMissingWalletID,
		},
		{
			name:      "異常系: 存在しないウォレット",
			walletID:  func(*wallet.Wallet) string { return "wal_01h455vb4pex5vsknk084sn02q" },
			wantError: wallet.ErrWalletNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, w := newTestService(t, testJWTConfig())

			got, err := svc.GenerateToken(context.Background(), &GenerateTokenRequest{WalletID: tt.walletID(w)})
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, got.Token)
			assert.Equal(t, int64(86400), got.ExpiresIn)
			assert.Equal(t, "Bearer", got.TokenType)

			claims, err := svc.ValidateToken(context.Background(), got.Token)
			require.NoError(t, err)
			assert.Equal(t, w.ID(), claims.WalletID)
		})
	}
}

func TestAuthApplicationService_ValidateToken(t *testing.T) {
	ctx := context.Background()
	cfg := testJWTConfig()
	svc, w := newTestService(t, cfg)

	issued, err := svc.GenerateToken(ctx, &GenerateTokenRequest{WalletID: w.ID()})
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	now := time.Now()
	valid := walletClaims{
		WalletID: w.ID(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:  "正常系: 発行したトークン",
			token: issued.Token,
		},
		{
			name:    "異常系: 署名鍵が異なる",
			token:   sign(jwt.SigningMethodHS256, []byte("other-secret"), valid),
			wantErr: true,
		},
		{
			name: "異常系: 期限切れ",
			token: sign(jwt.SigningMethodHS256, []byte(cfg.Secret), walletClaims{
				WalletID: w.ID(),
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    cfg.Issuer,
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
				},
			}),
			wantErr: true,
		},
		{
			name: "異常系: 発行者が異なる",
			token: sign(jwt.SigningMethodHS256, []byte(cfg.Secret), walletClaims{
				WalletID: w.ID(),
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "someone-else",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			}),
			wantErr: true,
		},
		{
			name: "異常系: wallet_idが無い",
			token: sign(jwt.SigningMethodHS256, []byte(cfg.Secret), jwt.RegisteredClaims{
				Issuer:    cfg.Issuer,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			wantErr: true,
		},
		{
			name:    "異常系: 署名アルゴリズムがnone",
			token:   sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid),
			wantErr: true,
		},
		{
			name:    "異常系: 形式が不正",
			token:   "not-a-token",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(ctx, tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, w.ID(), claims.WalletID)
		})
	}
}
