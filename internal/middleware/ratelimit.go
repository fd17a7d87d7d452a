package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/campusfinder/internal/model"
)

// RateLimiterConfig はユーザーごとのレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralPerMin   int           // API全般の許容リクエスト数（req/min/user）
	ReportPerMin    int           // レポート作成の許容リクエスト数（req/min/user）
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、レポート作成 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralPerMin:   120,
		ReportPerMin:    10,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterSet はユーザーIDごとのレートリミッターの集合。
// 最終アクセス時刻を記録し、不活性なエントリはTTL経過後に削除される。
type limiterSet struct {
	perMin int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterSet(perMin int) *limiterSet {
	return &limiterSet{
		perMin:  perMin,
		entries: make(map[string]*limiterEntry),
	}
}

// get はユーザーのリミッターを取得または作成する。
func (ls *limiterSet) get(userID string) *rate.Limiter {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if entry, ok := ls.entries[userID]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(float64(ls.perMin)/60.0), ls.perMin)
	ls.entries[userID] = &limiterEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

// evictBefore は最終アクセス時刻がcutoffより古いエントリを削除する。
func (ls *limiterSet) evictBefore(cutoff time.Time) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for userID, entry := range ls.entries {
		if entry.lastAccess.Before(cutoff) {
			delete(ls.entries, userID)
		}
	}
}

// size は現在管理されているエントリ数を返す。テストおよびメトリクス用。
func (ls *limiterSet) size() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.entries)
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般のレート制限とレポート作成専用のより厳しい制限の2種類を提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	logger  *slog.Logger
	general *limiterSet
	report  *limiterSet
	stopCh  chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		general: newLimiterSet(config.GeneralPerMin),
		report:  newLimiterSet(config.ReportPerMin),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある
// （認証ミドルウェアの後に配置する）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// ReportMiddleware はレポート作成専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) ReportMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.report, "report")
}

func (rl *RateLimiter) middleware(set *limiterSet, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !set.get(userID).Allow() {
				rl.writeRateLimitResponse(w)
				rl.logger.Warn("レート制限を超過しました",
					slog.String("user_id", userID),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.size()
}

// ReportLimiterCount は現在管理されているレポート作成リミッターのエントリ数を返す。
func (rl *RateLimiter) ReportLimiterCount() int {
	return rl.report.size()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
// 最終アクセスからCleanupIntervalの2倍が経過したエントリを削除する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)
			rl.general.evictBefore(cutoff)
			rl.report.evictBefore(cutoff)
		case <-rl.stopCh:
			return
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには1トークンが補充されるまでの推定秒数を設定する。
func (rl *RateLimiter) writeRateLimitResponse(w http.ResponseWriter) {
	retryAfterSec := int(math.Ceil(60.0 / float64(rl.config.GeneralPerMin)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
