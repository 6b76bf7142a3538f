package util

import (
	"regexp"
	"strings"
)

func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning вырезает блоки <think>…</think>, которые добавляют локальные модели.
// Незакрытый <think> отрезается до конца строки.
func StripReasoning(s string) string {
	s = thinkRe.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// CollapseSpaces: "  все   в порядке " -> "все в порядке"
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
