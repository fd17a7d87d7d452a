// Package matching はアイテム間の類似度判定機能を提供する。
// 埋め込みベクトルのコサイン類似度と、説明文・カテゴリに基づく
// フォールバック判定を含む。
package matching

import (
	"math"
	"strings"
)

// CosineSimilarity は2つのベクトルのコサイン類似度を計算する。
// 内積をユークリッドノルムの積で割った値を返す。
// どちらかのベクトルがnil・空・次元不一致・ゼロノルムの場合は0を返す。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// minWordLength は説明文の単語分割で採用される最小文字数。
// 冠詞や前置詞などの短い単語を除外する。
const minWordLength = 3

// descriptionWords は説明文を小文字の単語集合に分割する。
// 3文字未満の単語は除外する。
func descriptionWords(description string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(description)) {
		if len(w) >= minWordLength {
			words[w] = true
		}
	}
	return words
}

// WordOverlapRatio は2つの説明文の単語重複率を計算する。
// 共通単語数を語彙数の大きい方で割った値を返す。
// どちらかの説明文に有効な単語がない場合は0を返す。
func WordOverlapRatio(descA, descB string) float64 {
	wordsA := descriptionWords(descA)
	wordsB := descriptionWords(descB)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	var common int
	for w := range wordsA {
		if wordsB[w] {
			common++
		}
	}

	larger := len(wordsA)
	if len(wordsB) > larger {
		larger = len(wordsB)
	}

	return float64(common) / float64(larger)
}

// genericCategories はカテゴリ一致のみで意味を持つほど一般的なカテゴリの許可リスト。
// 小文字で照合する。
var genericCategories = map[string]bool{
	"phone":    true,
	"wallet":   true,
	"keys":     true,
	"bag":      true,
	"book":     true,
	"laptop":   true,
	"charger":  true,
	"mouse":    true,
	"keyboard": true,
	"bracelet": true,
	"watch":    true,
	"glasses":  true,
}

// IsGenericCategory はカテゴリが許可リストに含まれるかを判定する。
// 大文字小文字を区別しない。
func IsGenericCategory(category string) bool {
	return genericCategories[strings.ToLower(strings.TrimSpace(category))]
}
