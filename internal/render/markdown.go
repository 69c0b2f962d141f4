// Package render は投稿本文のMarkdownを安全なHTMLに変換する。
//
// goldmarkでGFM互換のHTMLに変換した後、bluemondayの許可リストポリシーで
// サニタイズする。生のHTMLはgoldmarkの既定設定で出力されない。
package render

import (
	"bytes"
	"html"
	"log/slog"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer は投稿本文をHTMLに変換する。
type Renderer interface {
	// Render はMarkdownをサニタイズ済みのHTMLに変換する。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Render(markdown string) string
}

// markdownRenderer はRendererの実装。goldmarkとbluemondayはともにスレッドセーフ。
type markdownRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdownRenderer はRendererの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: 段落、見出し、リスト、引用、コード、強調、表、a、img
//   - URLスキーム: http, https, mailto（相対URLも許可）
//   - aタグ: rel="nofollow"を付与し、外部リンクはtarget="_blank"とrel="noopener"を付与
//   - codeタグ: language-*のclassのみ許可
func NewMarkdownRenderer() Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)

	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del",
		"table", "thead", "tbody", "tr", "th", "td",
	)
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|center|right)$`)).OnElements("th", "td")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt", "title").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &markdownRenderer{md: md, policy: p}
}

// Render はMarkdownをサニタイズ済みのHTMLに変換する。
func (r *markdownRenderer) Render(markdown string) string {
	if markdown == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		slog.Warn("Markdownの変換に失敗しました。プレーンテキストとして出力します", "error", err)
		return "<p>" + html.EscapeString(markdown) + "</p>"
	}
	return r.policy.Sanitize(buf.String())
}
