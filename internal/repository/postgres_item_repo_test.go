package repository

import (
	"testing"

	"github.com/hitoshi/campusfinder/internal/model"
)

// TestPostgresItemRepo_ImplementsInterface はPostgresItemRepoがItemRepositoryを実装することを検証する。
func TestPostgresItemRepo_ImplementsInterface(t *testing.T) {
	// コンパイル時チェック：PostgresItemRepoがItemRepositoryを満たすことを検証
	var _ ItemRepository = (*PostgresItemRepo)(nil)
}

// TestItemTypeValues はレポート種別の定数値が正しいことを検証する。
func TestItemTypeValues(t *testing.T) {
	if model.ItemTypeLost != "Lost" {
		t.Errorf("ItemTypeLost = %q, want %q", model.ItemTypeLost, "Lost")
	}
	if model.ItemTypeFound != "Found" {
		t.Errorf("ItemTypeFound = %q, want %q", model.ItemTypeFound, "Found")
	}
}

// TestEmbeddingStatusValues は埋め込み状態の定数値が正しいことを検証する。
func TestEmbeddingStatusValues(t *testing.T) {
	tests := []struct {
		status model.EmbeddingStatus
		want   string
	}{
		{model.EmbeddingStatusPending, "pending"},
		{model.EmbeddingStatusProcessing, "processing"},
		{model.EmbeddingStatusSuccess, "success"},
		{model.EmbeddingStatusFailed, "failed"},
	}

	for _, tt := range tests {
		if string(tt.status) != tt.want {
			t.Errorf("EmbeddingStatus = %q, want %q", tt.status, tt.want)
		}
	}
}

// TestItemStatusValues はレポート状態の定数値が正しいことを検証する。
func TestItemStatusValues(t *testing.T) {
	if model.ItemStatusActive != "active" {
		t.Errorf("ItemStatusActive = %q, want %q", model.ItemStatusActive, "active")
	}
	if model.ItemStatusReunited != "reunited" {
		t.Errorf("ItemStatusReunited = %q, want %q", model.ItemStatusReunited, "reunited")
	}
}
