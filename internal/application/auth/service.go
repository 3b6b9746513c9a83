package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credit-server/internal/domain/wallet"
	"credit-server/internal/infrastructure/config"
	otelinfra "credit-server/internal/infrastructure/observability/otel"
)

// walletClaims ウォレットに紐づくJWTクレーム
type walletClaims struct {
	WalletID string `json:"wallet_id"`
	jwt.RegisteredClaims
}

// AuthApplicationService 認証アプリケーションサービス
type AuthApplicationService struct {
	jwtConfig  *config.JWTConfig
	walletRepo wallet.WalletRepository
	logger     *otelinfra.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewAuthApplicationService 新しいAuthApplicationServiceを作成
func NewAuthApplicationService(jwtConfig *config.JWTConfig, walletRepo wallet.WalletRepository, logger *otelinfra.Logger) *AuthApplicationService {
	return &AuthApplicationService{
		jwtConfig:  jwtConfig,
		walletRepo: walletRepo,
		logger:     logger,
		tracer:     otel.Tracer("auth-service"),
		now:        time.Now,
	}
}

// WithClock 時刻の取得元を差し替える
func (s *AuthApplicationService) WithClock(now func() time.Time) *AuthApplicationService {
	s.now = now
	return s
}

// GenerateToken ウォレットにアクセスするためのJWTトークンを生成
func (s *AuthApplicationService) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "AuthApplicationService.GenerateToken")
	defer span.End()

	span.SetAttributes(attribute.String("wallet_id", req.WalletID))

	if req.WalletID == "" {
		span.RecordError(ErrMissingWalletID)
		span.SetStatus(codes.Error, ErrMissingWalletID.Error())
		return nil, ErrMissingWalletID
	}

	// 存在しないウォレットにはトークンを発行しない
	if _, err := s.walletRepo.FindByID(ctx, req.WalletID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.jwtConfig.Expiration)

	claims := walletClaims{
		WalletID: req.WalletID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.WalletID,
			Issuer:    s.jwtConfig.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "Failed to generate token", err, map[string]interface{}{
			"wallet_id": req.WalletID,
		})
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info(ctx, "Token generated successfully", map[string]interface{}{
		"wallet_id":  req.WalletID,
		"expires_at": expiresAt.Unix(),
	})

	return &GenerateTokenResponse{
		Token:     tokenString,
		ExpiresIn: int64(s.jwtConfig.Expiration.Seconds()),
		TokenType: "Bearer",
	}, nil
}

// ValidateToken トークンの署名・発行者・期限を検証してクレームを返す
func (s *AuthApplicationService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	_, span := s.tracer.Start(ctx, "AuthApplicationService.ValidateToken")
	defer span.End()

	claims := &walletClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtConfig.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.jwtConfig.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		err = fmt.Errorf("%w: %v", ErrInvalidToken, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if claims.WalletID == "" {
		err := fmt.Errorf("%w: missing wallet_id claim", ErrInvalidToken)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return &Claims{
		WalletID:  claims.WalletID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
