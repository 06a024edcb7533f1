package rate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant of a rate expression
type Kind string

const (
	KindFree            Kind = "free"
	KindPercentage      Kind = "percentage"
	KindSpecific        Kind = "specific"
	KindCompound        Kind = "compound"
	KindComplexTieBreak Kind = "complex_tiebreak"
	KindUnparsed        Kind = "unparsed"
)

// TieBreak selects which component of a two-part rate dominates
type TieBreak string

const (
	TieBreakGreater TieBreak = "greater"
	TieBreakLesser  TieBreak = "lesser"
)

// Expression is the structured form of a single rate field.
//
// Rate is a fraction (5% is stored as 0.05). Amount is a currency amount per
// Unit. Raw always carries the text the expression was parsed from so that an
// Unparsed expression can be adjudicated by a person.
type Expression struct {
	Kind     Kind            `json:"kind"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount"`
	Unit     string          `json:"unit,omitempty"`
	TieBreak TieBreak        `json:"tie_break,omitempty"`
	Raw      string          `json:"raw"`
}

var hundred = decimal.NewFromInt(100)

// Free returns a duty-free expression
func Free(raw string) Expression {
	return Expression{Kind: KindFree, Raw: raw}
}

// Percentage returns an ad valorem expression; rate is a fraction
func Percentage(rate decimal.Decimal, raw string) Expression {
	return Expression{Kind: KindPercentage, Rate: rate, Raw: raw}
}

// Specific returns a per-unit expression
func Specific(amount decimal.Decimal, unit, raw string) Expression {
	return Expression{Kind: KindSpecific, Amount: amount, Unit: unit, Raw: raw}
}

// Compound returns an ad valorem + specific expression without an explicit
// tie-break keyword. The greater component applies.
func Compound(rate, amount decimal.Decimal, unit, raw string) Expression {
	return Expression{Kind: KindCompound, Rate: rate, Amount: amount, Unit: unit, TieBreak: TieBreakGreater, Raw: raw}
}

// ComplexTieBreak returns a two-part expression with an explicit tie-break
func ComplexTieBreak(rate, amount decimal.Decimal, unit string, tb TieBreak, raw string) Expression {
	return Expression{Kind: KindComplexTieBreak, Rate: rate, Amount: amount, Unit: unit, TieBreak: tb, Raw: raw}
}

// Unparsed wraps text that matched no grammar rule
func Unparsed(raw string) Expression {
	return Expression{Kind: KindUnparsed, Raw: raw}
}

// IsUnparsed reports whether the expression failed to parse
func (e Expression) IsUnparsed() bool {
	return e.Kind == KindUnparsed
}

// HasSpecific reports whether evaluating the expression needs a quantity
func (e Expression) HasSpecific() bool {
	switch e.Kind {
	case KindSpecific, KindCompound, KindComplexTieBreak:
		return true
	}
	return false
}

// String renders the expression in a normalized, human-readable form
func (e Expression) String() string {
	switch e.Kind {
	case KindFree:
		return "Free"
	case KindPercentage:
		return percentText(e.Rate)
	case KindSpecific:
		return fmt.Sprintf("$%s per %s", e.Amount.String(), e.Unit)
	case KindCompound:
		return fmt.Sprintf("%s or $%s per %s", percentText(e.Rate), e.Amount.String(), e.Unit)
	case KindComplexTieBreak:
		return fmt.Sprintf("%s or $%s per %s, whichever %s", percentText(e.Rate), e.Amount.String(), e.Unit, e.TieBreak)
	case KindUnparsed:
		return strings.TrimSpace(e.Raw)
	}
	return ""
}

func percentText(r decimal.Decimal) string {
	return r.Mul(hundred).String() + "%"
}
