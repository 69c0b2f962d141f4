package render

import (
	"strings"
	"testing"
)

// TestRender_Markdown は基本的なMarkdown記法がHTMLに変換されることを検証する。
func TestRender_Markdown(t *testing.T) {
	r := NewMarkdownRenderer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "段落",
			input:        "こんにちは",
			wantContains: []string{"<p>こんにちは</p>"},
		},
		{
			name:         "見出し",
			input:        "## 見出し",
			wantContains: []string{"<h2>見出し</h2>"},
		},
		{
			name:         "強調",
			input:        "**太字** と *斜体*",
			wantContains: []string{"<strong>太字</strong>", "<em>斜体</em>"},
		},
		{
			name:         "リスト",
			input:        "- a\n- b",
			wantContains: []string{"<ul>", "<li>a</li>", "<li>b</li>"},
		},
		{
			name:         "コードブロックの言語指定",
			input:        "```go\nfunc main() {}\n```",
			wantContains: []string{`<pre><code class="language-go">`, "func main() {}"},
		},
		{
			name:         "打ち消し線",
			input:        "~~old~~",
			wantContains: []string{"<del>old</del>"},
		},
		{
			name:         "表",
			input:        "| a | b |\n|---|---|\n| 1 | 2 |",
			wantContains: []string{"<table>", "<th>a</th>", "<td>1</td>"},
		},
		{
			name:         "改行はbrになる",
			input:        "行1\n行2",
			wantContains: []string{"<br"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Render(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestRender_StripsDangerousContent は危険なHTMLやURLが除去されることを検証する。
func TestRender_StripsDangerousContent(t *testing.T) {
	r := NewMarkdownRenderer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{
			name:       "scriptタグ",
			input:      "<script>alert(1)</script>",
			wantAbsent: []string{"<script", "alert(1)</script>"},
		},
		{
			name:       "iframeタグ",
			input:      `<iframe src="https://evil.example"></iframe>`,
			wantAbsent: []string{"<iframe"},
		},
		{
			name:       "javascriptスキームのリンク",
			input:      "[click](javascript:alert(1))",
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "onerror属性",
			input:      `<img src="x" onerror="alert(1)">`,
			wantAbsent: []string{"onerror"},
		},
		{
			name:       "HTMLコメント",
			input:      "text <!-- secret -->",
			wantAbsent: []string{"<!--", "secret"},
		},
		{
			name:       "不正なclass",
			input:      "```go onclick\nx\n```",
			wantAbsent: []string{"onclick"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Render(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestRender_Links はリンクにnofollowが付与され、外部リンクは新しいタブで開くことを検証する。
func TestRender_Links(t *testing.T) {
	r := NewMarkdownRenderer()

	got := r.Render("[外部](https://example.com)")
	for _, want := range []string{`href="https://example.com"`, "nofollow", "noopener", `target="_blank"`} {
		if !strings.Contains(got, want) {
			t.Errorf("external link = %q, want to contain %q", got, want)
		}
	}

	got = r.Render("[内部](/posts/1)")
	if !strings.Contains(got, `href="/posts/1"`) {
		t.Errorf("relative link = %q, want href kept", got)
	}
	if !strings.Contains(got, "nofollow") {
		t.Errorf("relative link = %q, want nofollow", got)
	}
	if strings.Contains(got, "_blank") {
		t.Errorf("relative link = %q, should not open in new tab", got)
	}
}

// TestRender_Image は画像が許可されることを検証する。
func TestRender_Image(t *testing.T) {
	r := NewMarkdownRenderer()

	got := r.Render("![猫](https://example.com/cat.png)")
	for _, want := range []string{"<img", `src="https://example.com/cat.png"`, `alt="猫"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Render = %q, want to contain %q", got, want)
		}
	}
}

// TestRender_EmptyInput は空文字列の入力に対して空文字列が返ることを検証する。
func TestRender_EmptyInput(t *testing.T) {
	r := NewMarkdownRenderer()

	if got := r.Render(""); got != "" {
		t.Errorf("Render(\"\") = %q, want empty", got)
	}
}

// TestRender_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestRender_Idempotent(t *testing.T) {
	r := NewMarkdownRenderer()
	input := "# Title\n\n[link](https://example.com) <b>raw</b>\n\n- item"

	first := r.Render(input)
	second := r.Render(input)
	if first != second {
		t.Errorf("冪等性違反: 1回目=%q, 2回目=%q", first, second)
	}
}
