package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"credit-server/internal/domain/cost"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AdminAPI      AdminAPIConfig
	OpenTelemetry OpenTelemetryConfig
	Log           LogConfig
	Credits       CreditsConfig
	CatalogFile   string
	Environment   string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LockWaitTimeout int // 秒（innodb_lock_wait_timeout）
}

// RedisConfig Redis設定
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
	TTL      time.Duration
}

// JWTConfig JWT設定
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// AdminAPIConfig 管理API設定
type AdminAPIConfig struct {
	Enabled    bool
	APIKey     string
	AllowedIPs []string // 空なら制限なし（CIDR可）
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "stdout"
	MetricsExporter string // "otlp", "prometheus", "stdout"

	// TraceSampleRatio ルートスパンのサンプリング率（0 または 1 以上で全件）
	TraceSampleRatio float64
}

// LogConfig ログ設定
type LogConfig struct {
	Level string // "debug", "info", "warn", "error"
}

// CreditsConfig クレジット台帳の設定（各サービスのコンストラクタに明示的に渡す）
type CreditsConfig struct {
	Rounding             cost.Rounding
	GracePeriod          time.Duration
	MinimumPeriod        time.Duration
	LowBalanceThreshold  int64 // 0 は通知しない
	AllowNegativeBalance bool
	FulfillmentBatchSize int
	FulfillmentInterval  time.Duration
}

// DefaultCreditsConfig デフォルトのクレジット設定
func DefaultCreditsConfig() CreditsConfig {
	return CreditsConfig{
		Rounding:             cost.RoundingCeil,
		GracePeriod:          5 * time.Minute,
		MinimumPeriod:        24 * time.Hour,
		LowBalanceThreshold:  0,
		AllowNegativeBalance: false,
		FulfillmentBatchSize: 100,
		FulfillmentInterval:  time.Minute,
	}
}

// Load 設定を読み込む
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")
	defaults := DefaultCreditsConfig()

	rounding, err := cost.ParseRounding(getEnv("CREDITS_ROUNDING", string(defaults.Rounding)))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			GRPCPort:     getEnvAsInt("GRPC_PORT", 50051),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "credit_db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
			LockWaitTimeout: getEnvAsInt("DB_LOCK_WAIT_TIMEOUT", 10),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			TTL:      getEnvAsDuration("REDIS_BALANCE_TTL", 30*time.Second),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
			Issuer:     getEnv("JWT_ISSUER", "credit-server"),
		},
		AdminAPI: AdminAPIConfig{
			Enabled:    getEnvAsBool("ADMIN_API_ENABLED", false),
			APIKey:     getEnv("ADMIN_API_KEY", ""),
			AllowedIPs: getEnvAsList("ADMIN_API_ALLOWED_IPS"),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:          getEnvAsBool("OTEL_ENABLED", true),
			ServiceName:      getEnv("OTEL_SERVICE_NAME", "credit-server"),
			ServiceVersion:   getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			OTLPInsecure:     getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:    getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter:  getEnv("OTEL_METRICS_EXPORTER", "otlp"),
			TraceSampleRatio: getEnvAsFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Credits: CreditsConfig{
			Rounding:             rounding,
			GracePeriod:          getEnvAsDuration("CREDITS_GRACE_PERIOD", defaults.GracePeriod),
			MinimumPeriod:        getEnvAsDuration("CREDITS_MINIMUM_PERIOD", defaults.MinimumPeriod),
			LowBalanceThreshold:  getEnvAsInt64("CREDITS_LOW_BALANCE_THRESHOLD", defaults.LowBalanceThreshold),
			AllowNegativeBalance: getEnvAsBool("CREDITS_ALLOW_NEGATIVE_BALANCE", defaults.AllowNegativeBalance),
			FulfillmentBatchSize: getEnvAsInt("CREDITS_FULFILLMENT_BATCH_SIZE", defaults.FulfillmentBatchSize),
			FulfillmentInterval:  getEnvAsDuration("CREDITS_FULFILLMENT_INTERVAL", defaults.FulfillmentInterval),
		},
		CatalogFile: getEnv("CATALOG_FILE", "catalog.toml"),
	}

	// 必須設定の検証
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 設定の検証
func (c *Config) validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminAPI.Enabled && c.AdminAPI.APIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required when the admin API is enabled")
	}
	return c.Credits.Validate()
}

// Validate クレジット設定の検証
func (c *CreditsConfig) Validate() error {
	if c.GracePeriod < 0 {
		return fmt.Errorf("CREDITS_GRACE_PERIOD must not be negative")
	}
	if c.MinimumPeriod <= 0 {
		return fmt.Errorf("CREDITS_MINIMUM_PERIOD must be positive")
	}
	if c.LowBalanceThreshold < 0 {
		return fmt.Errorf("CREDITS_LOW_BALANCE_THRESHOLD must not be negative")
	}
	if c.FulfillmentBatchSize <= 0 {
		return fmt.Errorf("CREDITS_FULFILLMENT_BATCH_SIZE must be positive")
	}
	if c.FulfillmentInterval <= 0 {
		return fmt.Errorf("CREDITS_FULFILLMENT_INTERVAL must be positive")
	}
	return nil
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&innodb_lock_wait_timeout=%d",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.LockWaitTimeout,
	)
}

// Address Redis接続アドレスを返す
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 環境変数を64bit整数として取得
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat 環境変数を浮動小数点数として取得
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList カンマ区切りの環境変数をスライスとして取得
func getEnvAsList(key string) []string {
	var values []string
	for _, v := range strings.Split(getEnv(key, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
