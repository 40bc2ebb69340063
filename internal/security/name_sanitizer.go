package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxNameLength はユーザー名として保存する最大文字数。
const maxNameLength = 128

// NameSanitizer はプロバイダーが返した表示名からマークアップと制御文字を取り除く。
// 結果はプレーンテキストで、HTMLエスケープはしない。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、空白を正規化して最大長で切り詰める。
func (s *NameSanitizer) Sanitize(name string) string {
	if name == "" {
		return ""
	}

	// StrictPolicyは&などをエスケープするため元に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(name))

	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)
	stripped = strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(stripped) > maxNameLength {
		stripped = string([]rune(stripped)[:maxNameLength])
	}
	return stripped
}
