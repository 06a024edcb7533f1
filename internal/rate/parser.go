// Package rate parses the free-text duty rate fields found in tariff
// schedules into structured expressions.
package rate

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	number = `(\d+(?:\.\d+)?)`
	unit   = `([a-z0-9][a-z0-9 /.\-]*?)`
)

var (
	thousandsRe  = regexp.MustCompile(`(\d),(\d{3})`)
	spaceRe      = regexp.MustCompile(`\s+`)
	freeRe       = regexp.MustCompile(`^(?:free|nil|n/a)$`)
	tieBreakRe   = regexp.MustCompile(`^` + number + `\s*%?\s+or\s+\$\s*` + number + `\s+per\s+` + unit + `\s+whichever\s+(?:is\s+)?(?:the\s+)?(greater|higher|more|lesser|lower|less)$`)
	compoundRe   = regexp.MustCompile(`^` + number + `\s*%\s*(?:or|\+|and)\s*\$\s*` + number + `\s+per\s+` + unit + `$`)
	specificRe   = regexp.MustCompile(`^\$\s*` + number + `\s+per\s+` + unit + `$`)
	percentageRe = regexp.MustCompile(`^` + number + `\s*%$`)
	bareNumberRe = regexp.MustCompile(`^` + number + `$`)
)

// rule is one entry of the ordered grammar; the first rule whose match
// returns ok wins.
type rule struct {
	name  string
	match func(norm, raw string) (Expression, bool)
}

var rules = []rule{
	{"free", matchFree},
	{"complex_tiebreak", matchTieBreak},
	{"compound", matchCompound},
	{"specific", matchSpecific},
	{"percentage", matchPercentage},
	{"bare_number", matchBareNumber},
}

// Parse converts a raw rate field into an Expression. It never fails: text
// that no rule recognizes becomes an Unparsed expression carrying the input.
func Parse(raw string) Expression {
	norm := Normalize(raw)
	if norm == "" {
		return Unparsed(raw)
	}
	for _, r := range rules {
		if expr, ok := r.match(norm, raw); ok {
			return expr
		}
	}
	return Unparsed(raw)
}

// Normalize lowercases the text, removes thousands separators and trailing
// punctuation, and collapses whitespace.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "\u00a0", " ")
	for thousandsRe.MatchString(s) {
		s = thousandsRe.ReplaceAllString(s, "$1$2")
	}
	s = strings.ReplaceAll(s, ",", " ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimRight(s, ".;: ")
	return strings.TrimSpace(s)
}

func matchFree(norm, raw string) (Expression, bool) {
	if freeRe.MatchString(norm) {
		return Free(raw), true
	}
	return Expression{}, false
}

func matchTieBreak(norm, raw string) (Expression, bool) {
	m := tieBreakRe.FindStringSubmatch(norm)
	if m == nil || !plainUnit(m[3]) {
		return Expression{}, false
	}
	pct, err1 := decimal.NewFromString(m[1])
	amt, err2 := decimal.NewFromString(m[2])
	if err1 != nil || err2 != nil {
		return Expression{}, false
	}
	tb := TieBreakGreater
	switch m[4] {
	case "lesser", "lower", "less":
		tb = TieBreakLesser
	}
	return ComplexTieBreak(pct.Div(hundred), amt, cleanUnit(m[3]), tb, raw), true
}

func matchCompound(norm, raw string) (Expression, bool) {
	m := compoundRe.FindStringSubmatch(norm)
	if m == nil {
		return Expression{}, false
	}
	pct, err1 := decimal.NewFromString(m[1])
	amt, err2 := decimal.NewFromString(m[2])
	if err1 != nil || err2 != nil {
		return Expression{}, false
	}
	if !plainUnit(m[3]) {
		return Expression{}, false
	}
	return Compound(pct.Div(hundred), amt, cleanUnit(m[3]), raw), true
}

func matchSpecific(norm, raw string) (Expression, bool) {
	m := specificRe.FindStringSubmatch(norm)
	if m == nil {
		return Expression{}, false
	}
	amt, err := decimal.NewFromString(m[1])
	if err != nil {
		return Expression{}, false
	}
	if !plainUnit(m[2]) {
		return Expression{}, false
	}
	return Specific(amt, cleanUnit(m[2]), raw), true
}

func matchPercentage(norm, raw string) (Expression, bool) {
	m := percentageRe.FindStringSubmatch(norm)
	if m == nil {
		return Expression{}, false
	}
	pct, err := decimal.NewFromString(m[1])
	if err != nil {
		return Expression{}, false
	}
	return Percentage(pct.Div(hundred), raw), true
}

// matchBareNumber reads a plain number as a percentage when it could be one.
func matchBareNumber(norm, raw string) (Expression, bool) {
	m := bareNumberRe.FindStringSubmatch(norm)
	if m == nil {
		return Expression{}, false
	}
	n, err := decimal.NewFromString(m[1])
	if err != nil || n.GreaterThan(hundred) {
		return Expression{}, false
	}
	return Percentage(n.Div(hundred), raw), true
}

// plainUnit rejects units that carry tie-break wording the tie-break rule
// did not recognise; such text must stay unparsed.
func plainUnit(u string) bool {
	return !strings.Contains(u, "whichever")
}

func cleanUnit(u string) string {
	return strings.TrimSpace(strings.TrimRight(u, ". "))
}
