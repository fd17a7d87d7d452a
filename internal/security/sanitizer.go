package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能を提供する。
// アイテムの説明文、カテゴリ、メッセージ本文などの
// ユーザー由来テキストからHTMLタグとスクリプトを除去する。
type TextSanitizer interface {
	// Sanitize はテキストからすべてのHTMLタグを除去し、
	// 前後の空白をトリムしたプレーンテキストを返す。
	Sanitize(text string) string
}

// textSanitizer はbluemondayのStrictPolicyを使用したTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicyはすべてのHTML要素と属性を拒否するため、
// プレーンテキストのみが許可される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからすべてのHTMLタグを除去する。
func (s *textSanitizer) Sanitize(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// 実装がインターフェースを満たすことをコンパイル時に確認する。
var _ TextSanitizer = (*textSanitizer)(nil)
