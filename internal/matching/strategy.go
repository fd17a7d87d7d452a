package matching

import (
	"fmt"
	"strings"

	"github.com/hitoshi/campusfinder/internal/model"
)

// マッチ種別のラベル。通知メッセージの描画に使用する。
const (
	// MatchTypeAI は埋め込みベクトルのコサイン類似度によるマッチ。
	MatchTypeAI = "AI"
	// MatchTypeCategoryDescription はカテゴリ一致 + 説明文の単語重複によるマッチ。
	MatchTypeCategoryDescription = "Category+Description"
	// MatchTypeCategory は一般的カテゴリの一致のみによるマッチ。
	MatchTypeCategory = "Category"
)

// Result はマッチ判定の結果。
type Result struct {
	// MatchType はマッチ種別のラベル。
	MatchType string
	// Score は判定に使用されたスコア（AI: コサイン類似度、
	// Category+Description: 単語重複率、Category: 常に0）。
	Score float64
}

// Strategy はマッチ判定戦略のインターフェース。
// 戦略は順序付きリストとして評価され、最初に成立した戦略の結果が採用される。
type Strategy interface {
	// Name は戦略の識別名を返す。
	Name() string
	// Evaluate はアイテムペアを判定し、マッチが成立した場合は結果とtrueを返す。
	// カテゴリ一致などの前提条件は呼び出し元で検証済みであることを前提とする。
	Evaluate(a, b *model.Item) (Result, bool)
}

// EmbeddingStrategy は埋め込みベクトルのコサイン類似度によるマッチ判定。
// 両方のアイテムが埋め込みを持つ場合のみ成立しうる。
type EmbeddingStrategy struct {
	// Threshold はマッチ成立に必要なコサイン類似度の下限（この値を超えること）。
	Threshold float64
}

// Name は戦略の識別名を返す。
func (s *EmbeddingStrategy) Name() string { return MatchTypeAI }

// Evaluate はコサイン類似度がしきい値を超える場合にマッチと判定する。
// どちらかの埋め込みが欠けている場合は成立しない。
func (s *EmbeddingStrategy) Evaluate(a, b *model.Item) (Result, bool) {
	if !a.HasEmbedding() || !b.HasEmbedding() {
		return Result{}, false
	}

	score := CosineSimilarity(a.ImageEmbedding, b.ImageEmbedding)
	if score > s.Threshold {
		return Result{MatchType: MatchTypeAI, Score: score}, true
	}
	return Result{}, false
}

// DescriptionOverlapStrategy は説明文の単語重複率によるマッチ判定。
// 埋め込みが使えない場合のフォールバックとして使用される。
type DescriptionOverlapStrategy struct {
	// MinRatio はマッチ成立に必要な単語重複率の下限（この値以上）。
	MinRatio float64
}

// Name は戦略の識別名を返す。
func (s *DescriptionOverlapStrategy) Name() string { return MatchTypeCategoryDescription }

// Evaluate は単語重複率がしきい値以上の場合にマッチと判定する。
func (s *DescriptionOverlapStrategy) Evaluate(a, b *model.Item) (Result, bool) {
	ratio := WordOverlapRatio(a.Description, b.Description)
	if ratio >= s.MinRatio {
		return Result{MatchType: MatchTypeCategoryDescription, Score: ratio}, true
	}
	return Result{}, false
}

// GenericCategoryStrategy は一般的カテゴリの一致のみによるマッチ判定。
// 最後のフォールバックとして使用される。
type GenericCategoryStrategy struct{}

// Name は戦略の識別名を返す。
func (s *GenericCategoryStrategy) Name() string { return MatchTypeCategory }

// Evaluate はカテゴリが許可リストに含まれる場合にマッチと判定する。
func (s *GenericCategoryStrategy) Evaluate(a, b *model.Item) (Result, bool) {
	if IsGenericCategory(a.Category) {
		return Result{MatchType: MatchTypeCategory, Score: 0}, true
	}
	return Result{}, false
}

// Engine は順序付き戦略リストによるマッチ判定エンジン。
// 戦略を順に評価し、最初に成立した戦略の結果を返す。
type Engine struct {
	strategies []Strategy
}

// NewEngine はデフォルトの戦略順序でEngineを生成する。
// 評価順: 埋め込み → 説明文重複 → 一般的カテゴリ。
func NewEngine(threshold, minOverlapRatio float64) *Engine {
	return &Engine{
		strategies: []Strategy{
			&EmbeddingStrategy{Threshold: threshold},
			&DescriptionOverlapStrategy{MinRatio: minOverlapRatio},
			&GenericCategoryStrategy{},
		},
	}
}

// NewEngineWithStrategies は任意の戦略リストでEngineを生成する。
// テスト時に戦略の組み合わせを差し替え可能。
func NewEngineWithStrategies(strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies}
}

// Evaluate はアイテムペアを順序付き戦略で判定する。
// カテゴリが一致しないペアは戦略評価前に不成立となる。
func (e *Engine) Evaluate(a, b *model.Item) (Result, bool) {
	// カテゴリゲート: 大文字小文字を区別しない一致が前提条件
	if !a.CategoryEquals(b) {
		return Result{}, false
	}

	for _, s := range e.strategies {
		if result, ok := s.Evaluate(a, b); ok {
			return result, true
		}
	}
	return Result{}, false
}

// PotentialMatchMessage はマッチ相手が見つかったアイテムの所有者向けメッセージを生成する。
func PotentialMatchMessage(itemType model.ItemType, category string) string {
	return fmt.Sprintf("A potential match for your %s %s was found!",
		strings.ToLower(string(itemType)), category)
}

// SimilarReportMessage は類似アイテムを登録した側のユーザー向けメッセージを生成する。
func SimilarReportMessage(itemType model.ItemType, category string) string {
	return fmt.Sprintf("Someone reported an item that looks similar to your %s %s.",
		strings.ToLower(string(itemType)), category)
}

// 実装がインターフェースを満たすことをコンパイル時に確認する。
var (
	_ Strategy = (*EmbeddingStrategy)(nil)
	_ Strategy = (*DescriptionOverlapStrategy)(nil)
	_ Strategy = (*GenericCategoryStrategy)(nil)
)
