// Package security はアプリケーションのセキュリティ機能を提供する。
//
// CaptionSanitizer は取り込まれたキャプションからHTMLを除去し、
// プラットフォームにそのまま投稿できるプレーンテキストにする。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxCaptionRunes はキャプションの最大文字数。
const MaxCaptionRunes = 2200

// CaptionSanitizer はキャプションのサニタイズ機能のインターフェースを定義する。
type CaptionSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、エンティティを復元したプレーンテキストを返す。
	// script, style の中身は除去される。
	// 行末の空白を削り、連続する空行は1行にまとめ、MaxCaptionRunes 文字に切り詰める。
	Sanitize(raw string) string
}

// captionSanitizer はCaptionSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type captionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerの新しいインスタンスを生成する。
func NewCaptionSanitizer() *captionSanitizer {
	return &captionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はキャプションをプレーンテキストにする。
func (s *captionSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if blank || len(lines) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		lines = append(lines, line)
	}
	text = strings.TrimRightFunc(strings.Join(lines, "\n"), unicode.IsSpace)

	if r := []rune(text); len(r) > MaxCaptionRunes {
		text = strings.TrimRightFunc(string(r[:MaxCaptionRunes]), unicode.IsSpace)
	}
	return text
}
