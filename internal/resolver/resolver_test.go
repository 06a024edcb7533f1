package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
	"github.com/ppiankov/tariffscope/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var queryDate = day(2025, 6, 1)

func baseData() store.Data {
	return store.Data{
		Codes: []model.ClassificationCode{
			{Code: "84", Level: 2, ChapterID: "84", IsActive: true},
			{Code: "8471", Level: 4, ParentCode: "84", ChapterID: "84", IsActive: true},
			{Code: "847130", Level: 6, ParentCode: "8471", ChapterID: "84", IsActive: true},
			{Code: "84713000", Level: 8, ParentCode: "847130", ChapterID: "84", IsActive: true},
		},
		GeneralRates: []model.GeneralRate{
			{Code: "84713000", Expression: rate.Parse("5%"), RawText: "5%"},
		},
		PreferentialRates: []model.PreferentialRate{
			{Code: "84713000", AgreementID: "ChAFTA", CountryCode: "CHN", Expression: rate.Parse("Free"), RawText: "Free", EffectiveDate: day(2015, 12, 20)},
		},
	}
}

func remedy(rateText, exporter, caseNo string) model.TradeRemedyDuty {
	return model.TradeRemedyDuty{
		Code:          "84713000",
		CountryCode:   "CHN",
		ExporterName:  exporter,
		DutyKind:      model.DutyDumping,
		Expression:    rate.Parse(rateText),
		RawText:       rateText,
		CaseNumber:    caseNo,
		EffectiveDate: day(2020, 1, 1),
		IsActive:      true,
	}
}

func newResolver(t *testing.T, data store.Data) *Resolver {
	t.Helper()
	snap, err := store.NewSnapshot(data, day(2025, 1, 1))
	require.NoError(t, err)
	s := store.New()
	s.Publish(snap)
	cfg, err := ConfigFrom(model.DefaultConfig().Resolver)
	require.NoError(t, err)
	cfg.Now = func() time.Time { return queryDate }
	return New(s, cfg)
}

func request(code, value string) model.DutyRequest {
	return model.DutyRequest{Code: code, CountryCode: "CHN", CustomsValue: dec(value)}
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*store.Data)
		duty    string
		source  model.SourceKind
		savings string
	}{
		{
			name: "concession wins over everything",
			mutate: func(d *store.Data) {
				d.TradeRemedies = []model.TradeRemedyDuty{remedy("15%", "", "ADC 1")}
				d.Concessions = []model.Concession{{Code: "84713000", OrderNumber: "TC 1", EffectiveDate: day(2024, 1, 1), IsCurrent: true}}
			},
			duty:    "0",
			source:  model.SourceConcession,
			savings: "50",
		},
		{
			name: "trade remedy beats a free agreement rate",
			mutate: func(d *store.Data) {
				d.TradeRemedies = []model.TradeRemedyDuty{remedy("15%", "", "ADC 1")}
			},
			duty:    "150",
			source:  model.SourceTradeRemedy,
			savings: "0",
		},
		{
			name:    "lower of general and agreement",
			mutate:  func(*store.Data) {},
			duty:    "0",
			source:  model.SourceFTA,
			savings: "50",
		},
		{
			name: "general wins a tie",
			mutate: func(d *store.Data) {
				d.PreferentialRates[0].Expression = rate.Parse("5%")
			},
			duty:    "50",
			source:  model.SourceGeneral,
			savings: "0",
		},
		{
			name: "inactive remedy and lapsed concession are ignored",
			mutate: func(d *store.Data) {
				r := remedy("15%", "", "ADC 1")
				r.IsActive = false
				exp := day(2025, 6, 1)
				d.TradeRemedies = []model.TradeRemedyDuty{r}
				d.Concessions = []model.Concession{{Code: "84713000", OrderNumber: "TC 1", EffectiveDate: day(2024, 1, 1), ExpiryDate: &exp, IsCurrent: true}}
			},
			duty:    "0",
			source:  model.SourceFTA,
			savings: "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := baseData()
			tt.mutate(&data)
			out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "1000"))
			require.NoError(t, err)
			assert.True(t, dec(tt.duty).Equal(out.TotalDuty), "duty %s", out.TotalDuty)
			assert.Equal(t, tt.source, out.AppliedSourceKind)
			assert.True(t, dec(tt.savings).Equal(out.PotentialSavings), "savings %s", out.PotentialSavings)
		})
	}
}

func TestResolveEndToEnd(t *testing.T) {
	out, err := newResolver(t, baseData()).Resolve(context.Background(), request("8471300000", "1500.00"))
	require.NoError(t, err)

	assert.Equal(t, "8471300000", out.RequestedCode)
	assert.Equal(t, "84713000", out.ResolvedCode)
	assert.Equal(t, model.SourceFTA, out.AppliedSourceKind)
	assert.Equal(t, "0.00", out.TotalDuty.StringFixed(2))
	assert.Equal(t, "150.00", out.Tax.StringFixed(2))
	assert.Equal(t, "1650.00", out.GrandTotal.StringFixed(2))
	assert.Equal(t, "75.00", out.PotentialSavings.StringFixed(2))
	assert.Equal(t, "2025-06-01", out.EffectiveDate)
	assert.NotEmpty(t, out.SnapshotVersion)
	assert.Empty(t, out.Warnings)

	require.Len(t, out.Components, 2)
	assert.Equal(t, model.SourceGeneral, out.Components[0].Kind)
	assert.Equal(t, "75.00", out.Components[0].EvaluatedAmount.StringFixed(2))
	assert.False(t, out.Components[0].Applied)
	assert.Equal(t, model.SourceFTA, out.Components[1].Kind)
	assert.Equal(t, "ChAFTA", out.Components[1].Provenance)
	assert.True(t, out.Components[1].Applied)
	assert.Contains(t, out.CalculationSteps[0], "8-digit ancestor 84713000")
}

func TestResolveTaxIsOnDutyInclusiveValue(t *testing.T) {
	data := baseData()
	data.PreferentialRates = nil
	out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "1500"))
	require.NoError(t, err)
	assert.Equal(t, "75.00", out.TotalDuty.StringFixed(2))
	assert.Equal(t, "157.50", out.Tax.StringFixed(2))
	assert.Equal(t, "1732.50", out.GrandTotal.StringFixed(2))
}

func TestResolveUnknownClassification(t *testing.T) {
	_, err := newResolver(t, baseData()).Resolve(context.Background(), request("8501100000", "100"))
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, KindUnknownClassification, nf.Kind)
	assert.Equal(t, "8501100000", nf.Code)
}

func TestResolveSkipsRetiredCodes(t *testing.T) {
	data := baseData()
	data.Codes = append(data.Codes, model.ClassificationCode{Code: "8471300010", Level: 10, ParentCode: "84713000", ChapterID: "84"})
	data.GeneralRates = append(data.GeneralRates, model.GeneralRate{Code: "8471300010", Expression: rate.Parse("7%"), RawText: "7%"})
	out, err := newResolver(t, data).Resolve(context.Background(), request("8471300010", "100"))
	require.NoError(t, err)
	assert.Equal(t, "84713000", out.ResolvedCode)
}

func TestResolveValidation(t *testing.T) {
	r := newResolver(t, baseData())
	neg := dec("-1")
	tests := []struct {
		name  string
		req   model.DutyRequest
		field string
	}{
		{"letters in code", request("8471AB", "1"), "code"},
		{"bad code length", request("84713", "1"), "code"},
		{"bad country", model.DutyRequest{Code: "84713000", CountryCode: "C1", CustomsValue: dec("1")}, "countryCode"},
		{"negative value", request("84713000", "-5"), "customsValue"},
		{"negative quantity", model.DutyRequest{Code: "84713000", CountryCode: "CHN", CustomsValue: dec("1"), Quantity: &neg}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestResolveAcceptsSeparatedCodeAndLowercaseCountry(t *testing.T) {
	out, err := newResolver(t, baseData()).Resolve(context.Background(),
		model.DutyRequest{Code: "8471.30.00", CountryCode: "chn", CustomsValue: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, model.SourceFTA, out.AppliedSourceKind)
}

func TestResolveExporterSpecificRemedy(t *testing.T) {
	data := baseData()
	data.TradeRemedies = []model.TradeRemedyDuty{
		remedy("15%", "", "ADC 1"),
		remedy("4%", "Acme  Industries Ltd", "ADC 2"),
	}
	r := newResolver(t, data)

	out, err := r.Resolve(context.Background(), model.DutyRequest{
		Code: "84713000", CountryCode: "CHN", ExporterName: "acme industries ltd", CustomsValue: dec("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "40.00", out.TotalDuty.StringFixed(2))

	out, err = r.Resolve(context.Background(), model.DutyRequest{
		Code: "84713000", CountryCode: "CHN", ExporterName: "Other Co", CustomsValue: dec("1000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "150.00", out.TotalDuty.StringFixed(2))
}

func TestResolveWarnings(t *testing.T) {
	t.Run("remedy expiring soon", func(t *testing.T) {
		data := baseData()
		r := remedy("15%", "", "ADC 9")
		exp := day(2025, 7, 1)
		r.ExpiryDate = &exp
		data.TradeRemedies = []model.TradeRemedyDuty{r}
		out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "100"))
		require.NoError(t, err)
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], "ADC 9 expires on 2025-07-01")
	})

	t.Run("missing quantity on specific rate", func(t *testing.T) {
		data := baseData()
		data.PreferentialRates = nil
		data.GeneralRates[0] = model.GeneralRate{Code: "84713000", Expression: rate.Parse("$2.50 per kg"), RawText: "$2.50 per kg"}
		out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "100"))
		require.NoError(t, err)
		assert.True(t, out.TotalDuty.IsZero())
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], "quantity required")
	})

	t.Run("unparsed rate is surfaced", func(t *testing.T) {
		data := baseData()
		data.PreferentialRates[0].Expression = rate.Parse("see note 4")
		data.PreferentialRates[0].RawText = "see note 4"
		out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "100"))
		require.NoError(t, err)
		assert.Equal(t, model.SourceGeneral, out.AppliedSourceKind, "an unparsed agreement rate never wins")
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], `"see note 4"`)
	})

	t.Run("concession notice", func(t *testing.T) {
		data := baseData()
		data.Concessions = []model.Concession{{Code: "84713000", OrderNumber: "TC 7", EffectiveDate: day(2024, 1, 1), IsCurrent: true}}
		out, err := newResolver(t, data).Resolve(context.Background(), request("84713000", "100"))
		require.NoError(t, err)
		require.Len(t, out.Warnings, 1)
		assert.Contains(t, out.Warnings[0], "TC 7")
	})
}

func TestResolveUsesRequestDate(t *testing.T) {
	d := day(2014, 1, 1)
	req := request("84713000", "1000")
	req.Date = &d
	out, err := newResolver(t, baseData()).Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.SourceGeneral, out.AppliedSourceKind, "agreement not yet in force")
	assert.Equal(t, "2014-01-01", out.EffectiveDate)
}

func TestResolveContext(t *testing.T) {
	r := newResolver(t, baseData())

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := r.Resolve(ctx, request("84713000", "1"))
	assert.ErrorIs(t, err, ErrQueryTimeout)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(ctx, request("84713000", "1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveWithoutSnapshot(t *testing.T) {
	cfg, err := ConfigFrom(model.DefaultConfig().Resolver)
	require.NoError(t, err)
	_, err = New(store.New(), cfg).Resolve(context.Background(), request("84713000", "1"))
	assert.True(t, errors.Is(err, store.ErrNoSnapshot))
}

func TestResolveIsDeterministic(t *testing.T) {
	data := baseData()
	data.TradeRemedies = []model.TradeRemedyDuty{remedy("3%", "", "B"), remedy("2%", "", "A")}
	r := newResolver(t, data)
	first, err := r.Resolve(context.Background(), request("84713000", "999.99"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(context.Background(), request("84713000", "999.99"))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "50.00", first.TotalDuty.StringFixed(2))
}

func TestConfigFromRejectsBadTaxRate(t *testing.T) {
	_, err := ConfigFrom(model.ResolverConfig{TaxRate: "ten"})
	assert.Error(t, err)
	_, err = ConfigFrom(model.ResolverConfig{TaxRate: "10"})
	assert.Error(t, err)
}
