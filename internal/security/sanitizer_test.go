package security

import (
	"strings"
	"testing"
)

// TestSanitize_PlainText はプレーンテキストがそのまま通過することを検証する。
func TestSanitize_PlainText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "英数字テキスト",
			input: "Black leather wallet",
			want:  "Black leather wallet",
		},
		{
			name:  "日本語テキスト",
			input: "黒い革の財布",
			want:  "黒い革の財布",
		},
		{
			name:  "前後の空白がトリムされる",
			input: "  blue backpack  ",
			want:  "blue backpack",
		},
		{
			name:  "空文字列",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_RemovesTags はすべてのHTMLタグが除去されることを検証する。
func TestSanitize_RemovesTags(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		// 出力に含まれてはいけない部分文字列
		wantNotContains []string
	}{
		{
			name:            "scriptタグが除去される",
			input:           `wallet<script>alert('xss')</script>`,
			wantNotContains: []string{"<script>", "</script>", "alert"},
		},
		{
			name:            "imgタグが除去される",
			input:           `<img src="x" onerror="alert(1)">phone`,
			wantNotContains: []string{"<img", "onerror"},
		},
		{
			name:            "aタグが除去される",
			input:           `<a href="https://evil.example.com">keys</a>`,
			wantNotContains: []string{"<a", "href", "</a>"},
		},
		{
			name:            "pタグが除去される",
			input:           "<p>found near library</p>",
			wantNotContains: []string{"<p>", "</p>"},
		},
		{
			name:            "iframeタグが除去される",
			input:           `<iframe src="https://evil.example.com"></iframe>laptop`,
			wantNotContains: []string{"<iframe", "</iframe>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, forbidden := range tt.wantNotContains {
				if strings.Contains(got, forbidden) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, forbidden)
				}
			}
		})
	}
}

// TestSanitize_KeepsTextContent はタグ除去後もテキスト内容が残ることを検証する。
func TestSanitize_KeepsTextContent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize("<p>found near <strong>library</strong></p>")
	if !strings.Contains(got, "found near") {
		t.Errorf("Sanitize() = %q, should contain %q", got, "found near")
	}
	if !strings.Contains(got, "library") {
		t.Errorf("Sanitize() = %q, should contain %q", got, "library")
	}
}
