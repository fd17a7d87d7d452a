// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// ItemType は遺失物レポートの種別（紛失/拾得）を表す。作成後は不変。
type ItemType string

const (
	// ItemTypeLost は「なくした物」のレポートを表す。
	ItemTypeLost ItemType = "Lost"
	// ItemTypeFound は「ひろった物」のレポートを表す。
	ItemTypeFound ItemType = "Found"
)

// Opposite は反対側のレポート種別を返す。マッチング候補の検索に使用する。
func (t ItemType) Opposite() ItemType {
	if t == ItemTypeLost {
		return ItemTypeFound
	}
	return ItemTypeLost
}

// IsValid はレポート種別が定義済みの値かを検証する。
func (t ItemType) IsValid() bool {
	return t == ItemTypeLost || t == ItemTypeFound
}

// ItemStatus はレポートのライフサイクル状態を表す。
// activeで開始し、reunitedへの遷移は1回のみで終端。
type ItemStatus string

const (
	// ItemStatusActive はまだ持ち主の元に戻っていないレポートを表す。
	ItemStatusActive ItemStatus = "active"
	// ItemStatusReunited は持ち主の元に戻ったレポートを表す。終端状態。
	ItemStatusReunited ItemStatus = "reunited"
)

// EmbeddingStatus は画像埋め込みの処理状態を表す。
//
// 状態遷移:
//
//	pending → processing   （スケジューラのティックによるクレーム）
//	processing → success   （埋め込み計算成功。next_embed_retry_atをクリア）
//	processing → failed    （計算失敗。attemptsをインクリメントしバックオフ設定）
//	failed → processing    （next_embed_retry_at経過後の再クレーム）
//
// successからの遷移は存在しない（このフィールドにとって終端）。
type EmbeddingStatus string

const (
	// EmbeddingStatusPending は埋め込み未処理の初期状態。
	EmbeddingStatusPending EmbeddingStatus = "pending"
	// EmbeddingStatusProcessing はスケジューラにクレーム済みの状態。
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	// EmbeddingStatusSuccess は埋め込み計算済みの終端状態。
	EmbeddingStatusSuccess EmbeddingStatus = "success"
	// EmbeddingStatusFailed は計算失敗。next_embed_retry_at経過後に再クレーム可能。
	EmbeddingStatusFailed EmbeddingStatus = "failed"
)

// Item は遺失物/拾得物のレポートを表す。
type Item struct {
	ID          string
	UserID      string
	ItemType    ItemType
	Category    string // 大文字小文字を区別せずに比較される
	Color       string
	Description string
	Longitude   *float64 // 位置情報なしのレポートは近傍検索の対象外
	Latitude    *float64
	Status      ItemStatus

	ImageURL      string
	ImagePublicID string

	// 埋め込みパイプラインの状態。embeddingパイプラインのみが変更する。
	ImageEmbedding    []float64
	EmbeddingStatus   EmbeddingStatus
	EmbeddingAttempts int        // 単調増加。リセットされない
	NextEmbedRetryAt  *time.Time // 未設定は即時再試行可能を意味する

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasEmbedding は非空の埋め込みベクトルを持つかを返す。
func (i *Item) HasEmbedding() bool {
	return len(i.ImageEmbedding) > 0
}

// HasLocation は近傍検索に使用できる位置情報を持つかを返す。
func (i *Item) HasLocation() bool {
	return i.Longitude != nil && i.Latitude != nil
}

// CategoryEquals はカテゴリを大文字小文字を区別せずに比較する。
// カテゴリ一致はマッチングの必須ゲートであり、全ティアに先行して評価される。
func (i *Item) CategoryEquals(other *Item) bool {
	return strings.EqualFold(i.Category, other.Category)
}
