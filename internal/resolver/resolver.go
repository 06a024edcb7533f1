package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
	"github.com/ppiankov/tariffscope/internal/store"
)

// SnapshotSource hands out the snapshot a query runs against
type SnapshotSource interface {
	Current() (*store.Snapshot, error)
}

// Config holds resolver policy
type Config struct {
	TaxRate             decimal.Decimal
	ExpiryWarningWindow time.Duration
	QueryTimeout        time.Duration
	Now                 func() time.Time
}

// ConfigFrom converts the file configuration
func ConfigFrom(c model.ResolverConfig) (Config, error) {
	tax, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return Config{}, fmt.Errorf("invalid tax rate %q: %w", c.TaxRate, err)
	}
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("tax rate %s must be a fraction between 0 and 1", tax)
	}
	return Config{
		TaxRate:             tax,
		ExpiryWarningWindow: c.ExpiryWarningWindow,
		QueryTimeout:        c.QueryTimeout,
	}, nil
}

// Resolver computes duty breakdowns. It holds no per-query state and is safe
// for concurrent use.
type Resolver struct {
	source SnapshotSource
	cfg    Config
}

// New creates a resolver over source
func New(source SnapshotSource, cfg Config) *Resolver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{source: source, cfg: cfg}
}

// Resolve computes the applicable duty and tax for one shipment. The whole
// query runs against a single snapshot.
func (r *Resolver) Resolve(ctx context.Context, req model.DutyRequest) (*model.DutyBreakdown, error) {
	code, country, err := validate(req)
	if err != nil {
		return nil, err
	}
	if r.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()
	}

	snap, err := r.source.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	date := model.Date(r.cfg.Now())
	if req.Date != nil {
		date = model.Date(*req.Date)
	}

	q := &query{
		req: req,
		out: &model.DutyBreakdown{
			RequestedCode:    code,
			EffectiveDate:    date.Format(model.DateLayout),
			SnapshotVersion:  snap.Version(),
			Components:       []model.DutyComponent{},
			CalculationSteps: []string{},
			Warnings:         []string{},
		},
	}

	// 1. Hierarchy fallback
	resolved, general, err := resolveCode(ctx, snap, code)
	if err != nil {
		return nil, err
	}
	q.out.ResolvedCode = resolved
	if resolved == code {
		q.step("code %s has a general rate", code)
	} else {
		q.step("code %s has no general rate; using %d-digit ancestor %s", code, len(resolved), resolved)
	}

	// 2. Gather candidates at the resolved code
	set := CandidateSet{General: q.candidate(model.SourceGeneral, "", general.RawText, general.Expression)}

	ftas := snap.PreferentialRates(resolved, country, date)
	slices.SortFunc(ftas, func(a, b model.PreferentialRate) int { return strings.Compare(a.AgreementID, b.AgreementID) })
	for _, p := range ftas {
		set.FTAs = append(set.FTAs, q.candidate(model.SourceFTA, p.AgreementID, p.RawText, p.Expression))
	}

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	remedies := bindingRemedies(snap.TradeRemedies(resolved, country, date), req.ExporterName)
	for _, t := range remedies {
		set.Remedies = append(set.Remedies, q.candidate(model.SourceTradeRemedy, remedyRef(t), t.RawText, t.Expression))
		if t.ExpiryDate != nil && r.cfg.ExpiryWarningWindow > 0 && t.ExpiryDate.Sub(date) <= r.cfg.ExpiryWarningWindow {
			q.warn("trade remedy case %s expires on %s", t.CaseNumber, t.ExpiryDate.Format(model.DateLayout))
		}
	}

	concessions := snap.Concessions(resolved, date)
	slices.SortFunc(concessions, func(a, b model.Concession) int { return strings.Compare(a.OrderNumber, b.OrderNumber) })
	for _, c := range concessions {
		set.Concessions = append(set.Concessions, Candidate{
			Kind:      model.SourceConcession,
			Reference: c.OrderNumber,
			RateText:  "Free",
			Amount:    decimal.Zero,
			Exact:     true,
		})
	}

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	// 3. Precedence
	decision := Decide(set)
	q.step("precedence: %s", decision.Reason)
	if decision.Source == model.SourceConcession {
		q.warn("concession %s overrides all other rates for %s", set.Concessions[0].Reference, resolved)
	}

	q.out.Components = components(set, decision)
	q.out.AppliedSourceKind = decision.Source

	// 4. Totals
	duty := round(decision.Duty)
	value := round(req.CustomsValue)
	tax := round(value.Add(duty).Mul(r.cfg.TaxRate))
	q.out.TotalDuty = duty
	q.out.Tax = tax
	q.out.GrandTotal = value.Add(duty).Add(tax)
	q.out.PotentialSavings = round(decision.PotentialSavings)
	q.step("tax %s x (%s + %s) = %s", r.cfg.TaxRate.String(), money(value), money(duty), money(tax))
	q.step("grand total %s + %s + %s = %s", money(value), money(duty), money(tax), money(q.out.GrandTotal))

	slog.Debug("duty resolved",
		"code", code,
		"resolved", resolved,
		"country", country,
		"source", decision.Source,
		"duty", money(duty),
		"snapshot", snap.Version(),
	)
	return q.out, nil
}

type query struct {
	req model.DutyRequest
	out *model.DutyBreakdown
}

func (q *query) step(format string, args ...any) {
	q.out.CalculationSteps = append(q.out.CalculationSteps, fmt.Sprintf(format, args...))
}

func (q *query) warn(format string, args ...any) {
	q.out.Warnings = append(q.out.Warnings, fmt.Sprintf(format, args...))
}

// candidate evaluates one rate and records its audit step and warnings
func (q *query) candidate(kind model.SourceKind, ref, text string, expr rate.Expression) Candidate {
	ev := Evaluate(expr, q.req.CustomsValue, q.req.Quantity)
	label := string(kind)
	if ref != "" {
		label += " " + ref
	}
	q.step("%s: %s", label, ev.Step)
	for _, w := range ev.Warnings {
		q.warn("%s: %s", label, w)
	}
	if text == "" {
		text = expr.Raw
	}
	return Candidate{Kind: kind, Reference: ref, RateText: text, Amount: ev.Amount, Exact: ev.Exact}
}

// validate checks an untrusted request before it touches the store
func validate(req model.DutyRequest) (code, country string, err error) {
	code, err = model.ParseCode(req.Code)
	if err != nil {
		return "", "", &ValidationError{Field: "code", Reason: err.Error()}
	}
	country = strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if len(country) < 2 || len(country) > 3 || strings.IndexFunc(country, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return "", "", &ValidationError{Field: "countryCode", Reason: fmt.Sprintf("%q is not a 2 or 3 letter country code", req.CountryCode)}
	}
	if req.CustomsValue.IsNegative() {
		return "", "", &ValidationError{Field: "customsValue", Reason: "must not be negative"}
	}
	if req.Quantity != nil && req.Quantity.IsNegative() {
		return "", "", &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	return code, country, nil
}

// resolveCode walks from code towards its chapter until a code with a
// general rate is found. Retired codes never match.
func resolveCode(ctx context.Context, snap *store.Snapshot, code string) (string, model.GeneralRate, error) {
	for _, c := range append([]string{code}, model.Ancestors(code)...) {
		if err := checkContext(ctx); err != nil {
			return "", model.GeneralRate{}, err
		}
		if cc, ok := snap.Code(c); ok && !cc.IsActive {
			continue
		}
		if g, ok := snap.GeneralRate(c); ok {
			return c, g, nil
		}
	}
	return "", model.GeneralRate{}, &NotFoundError{Code: code, Kind: KindUnknownClassification}
}

// bindingRemedies keeps the measures naming the exporter when any exist,
// otherwise the all-others measures
func bindingRemedies(all []model.TradeRemedyDuty, exporter string) []model.TradeRemedyDuty {
	var named, others []model.TradeRemedyDuty
	want := exporterKey(exporter)
	for _, t := range all {
		switch {
		case t.IsAllOthers():
			others = append(others, t)
		case want != "" && exporterKey(t.ExporterName) == want:
			named = append(named, t)
		}
	}
	out := others
	if len(named) > 0 {
		out = named
	}
	slices.SortFunc(out, func(a, b model.TradeRemedyDuty) int { return strings.Compare(a.CaseNumber, b.CaseNumber) })
	return out
}

// exporterKey compares exporter names ignoring case and spacing
func exporterKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func remedyRef(t model.TradeRemedyDuty) string {
	who := t.ExporterName
	if t.IsAllOthers() {
		who = "all others"
	}
	return fmt.Sprintf("%s (%s, %s)", t.CaseNumber, t.DutyKind, who)
}

// components lists every candidate in a fixed order with applied flags
func components(set CandidateSet, d Decision) []model.DutyComponent {
	applied := func(kind model.SourceKind, i int) bool {
		return d.Source == kind && slices.Contains(d.Applied, i)
	}
	out := []model.DutyComponent{component(set.General, applied(model.SourceGeneral, 0))}
	for i, c := range set.FTAs {
		out = append(out, component(c, applied(model.SourceFTA, i)))
	}
	for i, c := range set.Remedies {
		out = append(out, component(c, applied(model.SourceTradeRemedy, i)))
	}
	for i, c := range set.Concessions {
		out = append(out, component(c, applied(model.SourceConcession, i)))
	}
	return out
}

func component(c Candidate, applied bool) model.DutyComponent {
	return model.DutyComponent{
		Kind:            c.Kind,
		RateText:        c.RateText,
		EvaluatedAmount: round(c.Amount),
		Applied:         applied,
		Provenance:      c.Reference,
	}
}

func checkContext(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrQueryTimeout
	}
	return err
}
