package resolver

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/tariffscope/internal/rate"
)

// Evaluation is the duty amount a single rate expression yields for a
// shipment
type Evaluation struct {
	Amount decimal.Decimal
	// Exact is false when part of the expression could not be evaluated, so
	// Amount is only a bound on the duty. A compound rate without a quantity
	// is never exact: its ad valorem part understates a greater-of rate and
	// may overstate a lesser-of one.
	Exact    bool
	Step     string
	Warnings []string
}

// Evaluate applies expr to a customs value and optional quantity. It never
// fails: anything that cannot be evaluated yields zero plus a warning.
func Evaluate(expr rate.Expression, value decimal.Decimal, qty *decimal.Decimal) Evaluation {
	switch expr.Kind {
	case rate.KindFree:
		return Evaluation{Amount: decimal.Zero, Exact: true, Step: "free = 0.00"}

	case rate.KindPercentage:
		amt := value.Mul(expr.Rate)
		return Evaluation{
			Amount: amt,
			Exact:  true,
			Step:   fmt.Sprintf("%s of %s = %s", expr, money(value), money(amt)),
		}

	case rate.KindSpecific:
		if qty == nil {
			return Evaluation{
				Amount:   decimal.Zero,
				Step:     fmt.Sprintf("%s without quantity = 0.00", expr),
				Warnings: []string{fmt.Sprintf("quantity required for specific rate %q; amount taken as 0", expr.Raw)},
			}
		}
		amt := expr.Amount.Mul(*qty)
		return Evaluation{
			Amount: amt,
			Exact:  true,
			Step:   fmt.Sprintf("%s x %s = %s", expr.Amount.StringFixed(2), qty.String(), money(amt)),
		}

	case rate.KindCompound, rate.KindComplexTieBreak:
		pct := value.Mul(expr.Rate)
		if qty == nil {
			return Evaluation{
				Amount: pct,
				Step:   fmt.Sprintf("%s: ad valorem part only = %s", expr, money(pct)),
				Warnings: []string{fmt.Sprintf(
					"quantity required for the specific part of %q; ad valorem part %s used", expr.Raw, money(pct))},
			}
		}
		perUnit := expr.Amount.Mul(*qty)
		amt, pick := pct, "ad valorem"
		switch expr.TieBreak {
		case rate.TieBreakLesser:
			if perUnit.LessThan(pct) {
				amt, pick = perUnit, "specific"
			}
		default:
			if perUnit.GreaterThan(pct) {
				amt, pick = perUnit, "specific"
			}
		}
		tb := expr.TieBreak
		if tb == "" {
			tb = rate.TieBreakGreater
		}
		return Evaluation{
			Amount: amt,
			Exact:  true,
			Step: fmt.Sprintf("%s: ad valorem %s, specific %s, %s -> %s %s",
				expr.Raw, money(pct), money(perUnit), tb, pick, money(amt)),
		}
	}

	raw := expr.Raw
	return Evaluation{
		Amount:   decimal.Zero,
		Step:     fmt.Sprintf("unparsed %q = 0.00", raw),
		Warnings: []string{fmt.Sprintf("rate text %q could not be parsed; amount taken as 0 pending review", raw)},
	}
}

// round applies half-up rounding to cents
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
