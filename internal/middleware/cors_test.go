package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestCORSMiddleware_Headers はCORSヘッダーが設定されることをテストする。
func TestCORSMiddleware_Headers(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:5173")(noopHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q, want %q", got, "http://localhost:5173")
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q, want %q", got, "GET, POST, PUT, DELETE, OPTIONS")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Errorf("Allow-Headers = %q, want %q", got, "Content-Type, Authorization")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

// TestCORSMiddleware_Preflight はOPTIONSプリフライトに204で応答し、
// 後続のハンドラを呼ばないことをテストする。
func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:5173")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("プリフライトがハンドラに到達した")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/items", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
