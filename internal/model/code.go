package model

import (
	"fmt"
	"strings"
)

// Levels are the defined digit lengths of a classification code, lowest first
var Levels = []int{2, 4, 6, 8, 10}

// ClassificationCode is one node of the tariff hierarchy
type ClassificationCode struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	UnitOfQuantity string `json:"unit_of_quantity,omitempty"`
	Level          int    `json:"level"`
	ParentCode     string `json:"parent_code,omitempty"` // Empty for chapter-level roots
	SectionID      string `json:"section_id,omitempty"`
	ChapterID      string `json:"chapter_id"`
	IsActive       bool   `json:"is_active"`
}

// IsValidLevel reports whether n is one of the defined code lengths
func IsValidLevel(n int) bool {
	for _, l := range Levels {
		if l == n {
			return true
		}
	}
	return false
}

// NormalizeCode strips the separators used in published schedules
// ("8471.30.00", "8471 30 00 10", "84-71") and checks that only digits remain.
// It does not check the length; see ParseCode for that.
func NormalizeCode(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ' ' || r == '-' || r == '/' || r == '\u00a0':
		default:
			return "", fmt.Errorf("code %q contains non-digit character %q", raw, r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("code %q is empty", raw)
	}
	return b.String(), nil
}

// ParseCode normalizes raw and requires a defined level length
func ParseCode(raw string) (string, error) {
	code, err := NormalizeCode(raw)
	if err != nil {
		return "", err
	}
	if !IsValidLevel(len(code)) {
		return "", fmt.Errorf("code %q has %d digits, want one of %v", raw, len(code), Levels)
	}
	return code, nil
}

// ParentOf returns code truncated to the next lower defined level.
// Chapter codes and malformed codes have no parent.
func ParentOf(code string) (string, bool) {
	n := len(code)
	if !IsValidLevel(n) || n == Levels[0] {
		return "", false
	}
	return code[:n-2], true
}

// Ancestors returns every truncation of code from the parent up to the chapter
func Ancestors(code string) []string {
	var out []string
	for c, ok := ParentOf(code); ok; c, ok = ParentOf(c) {
		out = append(out, c)
	}
	return out
}

// ChapterOf returns the 2-digit chapter of a code
func ChapterOf(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}
