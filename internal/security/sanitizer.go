// Package security はユーザー入力の無害化を提供する。
//
// 著者紹介文のように書式付きで表示される自由記述はbluemondayの許可リストで、
// 書名やジャンルのようなプレーンテキスト項目は全タグ除去で処理する。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力を保存前に無害化するインターフェース。
type Sanitizer interface {
	// Sanitize は入力を無害化した文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// htmlSanitizer はbluemondayのポリシーを保持するSanitizerの実装。
// bluemonday.Policyは並行利用に対して安全。
type htmlSanitizer struct {
	policy *bluemonday.Policy
}

// NewRichTextSanitizer は書式付き自由記述用のSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, strong, em
//   - aタグ: httpsの絶対URLのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - script, iframe, style, img と全てのon*属性は除去
func NewRichTextSanitizer() Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &htmlSanitizer{policy: p}
}

// NewPlainTextSanitizer はプレーンテキスト項目用のSanitizerを生成する。
// 全てのタグを除去し、前後の空白を取り除く。
func NewPlainTextSanitizer() Sanitizer {
	return &htmlSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLを許可リストに従って無害化する。
func (s *htmlSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// SanitizeAll は各要素を無害化し、空になった要素を除いたスライスを返す。
func SanitizeAll(s Sanitizer, values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = s.Sanitize(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
