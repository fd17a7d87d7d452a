// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret   string
	TokenExpiry time.Duration

	// 推論プロバイダ（Gemini）
	GeminiAPIKey     string
	GeminiBaseURL    string
	VisionModel      string
	EmbeddingModel   string
	InferenceTimeout time.Duration
	ImageMaxBytes    int64

	// 埋め込みパイプライン
	EmbedRatePerMin    int
	EmbedMaxRetries    int
	EmbedBackoffBase   time.Duration
	EmbedBackoffFactor float64
	EmbedBatchSize     int
	EmbedInterval      time.Duration
	EmbedMinItemAge    time.Duration
	EmbedCooldown      time.Duration

	// マッチング
	MatchInterval     time.Duration
	MatchWindow       time.Duration
	MatchRadiusMeters float64
	MatchThreshold    float64

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitReport  int

	// 通知の保持
	NotificationRetentionDays int

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// GEMINI_API_KEYは任意: 未設定の場合、埋め込み生成はスキップされ
// レポートは保留状態のままになる。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TokenExpiry = getEnvDuration("TOKEN_EXPIRY", 7*24*time.Hour)

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiBaseURL = getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	cfg.VisionModel = getEnvString("GEMINI_VISION_MODEL", "gemini-1.5-flash-latest")
	cfg.EmbeddingModel = getEnvString("GEMINI_EMBEDDING_MODEL", "embedding-001")
	cfg.InferenceTimeout = getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second)
	cfg.ImageMaxBytes = getEnvInt64("IMAGE_MAX_BYTES", 5242880)

	cfg.EmbedRatePerMin = getEnvInt("EMBED_RATE_PER_MIN", 30)
	cfg.EmbedMaxRetries = getEnvInt("EMBED_MAX_RETRIES", 3)
	cfg.EmbedBackoffBase = getEnvDuration("EMBED_BACKOFF_BASE", time.Second)
	cfg.EmbedBackoffFactor = getEnvFloat("EMBED_BACKOFF_FACTOR", 2.0)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", 3)
	cfg.EmbedInterval = getEnvDuration("EMBED_INTERVAL", 5*time.Minute)
	cfg.EmbedMinItemAge = getEnvDuration("EMBED_MIN_ITEM_AGE", 60*time.Second)
	cfg.EmbedCooldown = getEnvDuration("EMBED_COOLDOWN", 5*time.Minute)

	cfg.MatchInterval = getEnvDuration("MATCH_INTERVAL", 10*time.Second)
	cfg.MatchWindow = getEnvDuration("MATCH_WINDOW", 24*time.Hour)
	cfg.MatchRadiusMeters = getEnvFloat("MATCH_RADIUS_METERS", 1000)
	cfg.MatchThreshold = getEnvFloat("MATCH_SIMILARITY_THRESHOLD", 0.60)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitReport = getEnvInt("RATE_LIMIT_REPORT", 10)

	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
