package title

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// 年份只认 1900-2099；独立的 1-2 位数字视为序号噪音（例如 slug 里的 "-2"）。
// \b 只在“单词字符/非单词字符”交界处成立，所以 "Se7en" 里的 7 不会被删。
var (
	yearRE  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	smallRE = regexp.MustCompile(`\b\d{1,2}\b`)
)

// FromSlug 把站点 slug（连字符分隔）还原成空格分隔的候选标题。
func FromSlug(slug string) string {
	return strings.ReplaceAll(strings.TrimSpace(slug), "-", " ")
}

// Clean 把候选标题规范化为搜索关键词：去年份、去独立的 1-2 位数字、压缩空白。
//
// 纯函数。已知限制：标题本身就是年份/纯数字时（例如 "1984"）会被清成空串，这里不做纠正。
func Clean(raw string) string {
	s := yearRE.ReplaceAllString(raw, " ")
	s = smallRE.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Key 返回用于“大小写不敏感精确匹配”的比较键（Unicode case folding）。
func Key(s string) string {
	// cases.Caser 不是并发安全的，按次构造。
	return cases.Fold().String(strings.TrimSpace(s))
}

// Equal 判断两个标题在大小写不敏感意义下是否相同。
func Equal(a, b string) bool { return Key(a) == Key(b) }
