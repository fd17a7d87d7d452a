package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestLogger はテスト用のロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestRateLimiter(t *testing.T, config RateLimiterConfig) *RateLimiter {
	t.Helper()
	var buf bytes.Buffer
	rl := NewRateLimiter(config, newTestLogger(&buf))
	t.Cleanup(rl.Stop)
	return rl
}

// authedRequest は認証済みユーザーIDをコンテキストに持つリクエストを生成する。
func authedRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func noopHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// TestGeneralMiddleware_AllowsWithinBurst はバースト内のリクエストが
// すべて許可されることをテストする。
func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	config := DefaultRateLimiterConfig()
	config.GeneralPerMin = 5
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(noopHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("user-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("%d回目: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}
}

// TestGeneralMiddleware_RejectsOverBurst はバースト超過で429になることをテストする。
func TestGeneralMiddleware_RejectsOverBurst(t *testing.T) {
	config := DefaultRateLimiterConfig()
	config.GeneralPerMin = 3
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(noopHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("user-1"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されていない")
	}
}

// TestGeneralMiddleware_PerUserIsolation はユーザーごとに独立した
// リミッターが使われることをテストする。
func TestGeneralMiddleware_PerUserIsolation(t *testing.T) {
	config := DefaultRateLimiterConfig()
	config.GeneralPerMin = 1
	rl := newTestRateLimiter(t, config)

	handler := rl.GeneralMiddleware()(noopHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("user-1の初回: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// user-1は枯渇、user-2は影響を受けない
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("user-1の2回目: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("user-2"))
	if rec.Code != http.StatusOK {
		t.Errorf("user-2の初回: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// TestReportMiddleware_IndependentOfGeneral はレポート制限が
// API全般の制限と独立に動作することをテストする。
func TestReportMiddleware_IndependentOfGeneral(t *testing.T) {
	config := DefaultRateLimiterConfig()
	config.GeneralPerMin = 100
	config.ReportPerMin = 1
	rl := newTestRateLimiter(t, config)

	report := rl.ReportMiddleware()(noopHandler())
	general := rl.GeneralMiddleware()(noopHandler())

	rec := httptest.NewRecorder()
	report.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("レポート初回: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// レポート側は枯渇
	rec = httptest.NewRecorder()
	report.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("レポート2回目: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// API全般側は許可される
	rec = httptest.NewRecorder()
	general.ServeHTTP(rec, authedRequest("user-1"))
	if rec.Code != http.StatusOK {
		t.Errorf("API全般: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// TestRateLimiter_Unauthenticated はユーザーID未設定のリクエストが
// 401で拒否されることをテストする。
func TestRateLimiter_Unauthenticated(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	handler := rl.GeneralMiddleware()(noopHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

// TestLimiterSet_Eviction は不活性なエントリが削除されることをテストする。
func TestLimiterSet_Eviction(t *testing.T) {
	set := newLimiterSet(10)
	set.get("user-1")
	set.get("user-2")
	if set.size() != 2 {
		t.Fatalf("size = %d, want 2", set.size())
	}

	set.evictBefore(time.Now().Add(time.Second))
	if set.size() != 0 {
		t.Errorf("削除後のsize = %d, want 0", set.size())
	}
}

// TestRateLimiter_Counts はエントリ数の報告をテストする。
func TestRateLimiter_Counts(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())

	general := rl.GeneralMiddleware()(noopHandler())
	report := rl.ReportMiddleware()(noopHandler())

	general.ServeHTTP(httptest.NewRecorder(), authedRequest("user-1"))
	general.ServeHTTP(httptest.NewRecorder(), authedRequest("user-2"))
	report.ServeHTTP(httptest.NewRecorder(), authedRequest("user-1"))

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
	if rl.ReportLimiterCount() != 1 {
		t.Errorf("ReportLimiterCount = %d, want 1", rl.ReportLimiterCount())
	}
}
