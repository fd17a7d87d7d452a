package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key"

// TestGenerateToken_ReturnsSignedToken はトークンが発行されることをテストする。
func TestGenerateToken_ReturnsSignedToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken が空文字列を返した")
	}
	// JWTは3パート構成
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("トークンのパート数 = %d, want 3", len(parts))
	}
}

// TestValidateToken_RoundTrip は発行したトークンの検証をテストする。
func TestValidateToken_RoundTrip(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}

	claims, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateToken がエラーを返した: %v", err)
	}

	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
	if claims.ID == "" {
		t.Error("JTIが設定されていない")
	}
}

// TestValidateToken_WrongSecret は署名鍵が異なるトークンの拒否をテストする。
func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}

	if _, err := ValidateToken("different-secret", token); err == nil {
		t.Fatal("異なる署名鍵のトークンを受け入れてはならない")
	}
}

// TestValidateToken_Expired は期限切れトークンの拒否をテストする。
func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateToken(testSecret, "user-1", "alice@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}

	if _, err := ValidateToken(testSecret, token); err == nil {
		t.Fatal("期限切れトークンを受け入れてはならない")
	}
}

// TestValidateToken_Malformed は不正な形式のトークンの拒否をテストする。
func TestValidateToken_Malformed(t *testing.T) {
	malformed := []string{
		"",
		"not-a-token",
		"aaa.bbb.ccc",
	}

	for _, token := range malformed {
		if _, err := ValidateToken(testSecret, token); err == nil {
			t.Errorf("不正な形式のトークン %q を受け入れてはならない", token)
		}
	}
}

// TestGenerateToken_UniqueJTI は発行ごとにJTIが異なることをテストする。
func TestGenerateToken_UniqueJTI(t *testing.T) {
	token1, err := GenerateToken(testSecret, "user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}
	token2, err := GenerateToken(testSecret, "user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken がエラーを返した: %v", err)
	}

	claims1, _ := ValidateToken(testSecret, token1)
	claims2, _ := ValidateToken(testSecret, token2)
	if claims1.ID == claims2.ID {
		t.Error("JTIが重複している")
	}
}
