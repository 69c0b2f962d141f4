package tag

import (
	"regexp"
	"strings"
)

// jsSpace はECMAScriptの\sおよびString.prototype.trimが空白とみなす文字集合。
// Goの\sはASCIIのみのため、スラッグの互換性を保つために明示する。
const jsSpace = `\t\n\v\f\r \x{00a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}`

var (
	// 単語文字（ASCII英数字とアンダースコア）、空白、ハイフン以外
	nonSlugChars = regexp.MustCompile(`[^A-Za-z0-9_` + jsSpace + `-]`)
	// 空白・アンダースコア・ハイフンの連続
	separatorRuns = regexp.MustCompile(`[_` + jsSpace + `-]+`)
)

// Slugify はタグ名からスラッグを生成する。
//
//  1. 小文字化
//  2. 前後の空白を除去
//  3. 単語文字・空白・ハイフン以外を削除
//  4. 空白・アンダースコア・ハイフンの連続を1つのハイフンに置換
//  5. 先頭・末尾のハイフンを除去
//
// 既存データのスラッグと一致させるため、アクセント記号の分解などの正規化は行わない。
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.TrimFunc(s, isSpace)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = separatorRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NormalizeName はタグ名の前後の空白を除去する。大文字小文字は保持する。
func NormalizeName(name string) string {
	return strings.TrimFunc(name, isSpace)
}

func isSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ',
		'\u00a0', '\u1680', '\u2028', '\u2029', '\u202f', '\u205f', '\u3000', '\ufeff':
		return true
	}
	return r >= '\u2000' && r <= '\u200a'
}
