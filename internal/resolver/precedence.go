package resolver

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/tariffscope/internal/model"
)

// Candidate is one evaluated rate competing to set the duty
type Candidate struct {
	Kind      model.SourceKind
	Reference string // agreement, case or order; empty for the general rate
	RateText  string
	Amount    decimal.Decimal
	Exact     bool
}

// CandidateSet is every evaluated rate valid for one query. Remedies holds
// only the measures that bind the requested exporter.
type CandidateSet struct {
	General     Candidate
	FTAs        []Candidate
	Remedies    []Candidate
	Concessions []Candidate
}

// Decision is the outcome of precedence
type Decision struct {
	Source           model.SourceKind
	Duty             decimal.Decimal
	PotentialSavings decimal.Decimal
	// Applied holds the kind-local index of each applied candidate; the
	// general rate is index 0 of its own kind
	Applied []int
	Reason  string
}

// Decide applies precedence: a current concession zeroes the duty; otherwise
// binding trade remedies apply in full; otherwise the lower of the general
// rate and the best agreement rate applies. Decide has no side effects.
func Decide(set CandidateSet) Decision {
	general := set.General.Amount

	// 1. Concession
	if len(set.Concessions) > 0 {
		return Decision{
			Source:           model.SourceConcession,
			Duty:             decimal.Zero,
			PotentialSavings: nonNegative(general),
			Applied:          []int{0},
			Reason:           fmt.Sprintf("concession %s zeroes the duty", set.Concessions[0].Reference),
		}
	}

	// 2. Trade remedies are compulsory and never compared
	if len(set.Remedies) > 0 {
		total := decimal.Zero
		applied := make([]int, len(set.Remedies))
		for i, r := range set.Remedies {
			total = total.Add(r.Amount)
			applied[i] = i
		}
		return Decision{
			Source:           model.SourceTradeRemedy,
			Duty:             total,
			PotentialSavings: decimal.Zero,
			Applied:          applied,
			Reason:           fmt.Sprintf("%d trade remedy measure(s) apply", len(set.Remedies)),
		}
	}

	// 3. Lower of general and best agreement rate
	best := BestFTA(set.FTAs)
	if best < 0 {
		return generalDecision(set.General, "no agreement rate for this origin")
	}
	fta := set.FTAs[best]
	if !set.General.Exact || fta.Amount.LessThan(general) {
		return Decision{
			Source:           model.SourceFTA,
			Duty:             fta.Amount,
			PotentialSavings: nonNegative(general.Sub(fta.Amount)),
			Applied:          []int{best},
			Reason: fmt.Sprintf("min(general %s, %s %s) -> %s",
				money(general), fta.Reference, money(fta.Amount), fta.Reference),
		}
	}
	return generalDecision(set.General, fmt.Sprintf("min(general %s, %s %s) -> general",
		money(general), fta.Reference, money(fta.Amount)))
}

// BestFTA returns the index of the lowest exactly evaluated agreement rate,
// ties broken by agreement id, or -1 when none qualifies
func BestFTA(ftas []Candidate) int {
	best := -1
	for i, c := range ftas {
		if !c.Exact {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := ftas[best]
		if c.Amount.LessThan(b.Amount) || (c.Amount.Equal(b.Amount) && c.Reference < b.Reference) {
			best = i
		}
	}
	return best
}

func generalDecision(general Candidate, reason string) Decision {
	return Decision{
		Source:           model.SourceGeneral,
		Duty:             general.Amount,
		PotentialSavings: decimal.Zero,
		Applied:          []int{0},
		Reason:           reason,
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
