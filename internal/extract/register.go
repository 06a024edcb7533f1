package extract

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
)

// Register sheet names
const (
	SheetPreferential  = "Preferential"
	SheetTradeRemedies = "TradeRemedies"
	SheetConcessions   = "Concessions"
)

// Registers are the rate records published outside the schedule pages
type Registers struct {
	PreferentialRates []model.PreferentialRate
	TradeRemedies     []model.TradeRemedyDuty
	Concessions       []model.Concession
	DeadLetters       []model.DeadLetter
}

// dateLayouts are tried in order. Four-digit years are day first, as the
// registers are published. The two-digit-year month-first forms are what
// excelize renders for a cell with the default date format (m/d/yy, number
// format 14), so "1/2/06" must stay month first.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2-Jan-06",
	"01-02-06",
	"1/2/06",
}

// LoadRegisters reads a register workbook from disk
func LoadRegisters(path string) (*Registers, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open register workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readRegisters(f, path)
}

// ReadRegisters reads a register workbook from r
func ReadRegisters(r io.Reader, name string) (*Registers, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read register workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readRegisters(f, name)
}

func readRegisters(f *excelize.File, name string) (*Registers, error) {
	regs := &Registers{}
	sheets := make(map[string]bool)
	for _, s := range f.GetSheetList() {
		sheets[s] = true
	}

	loaders := []struct {
		sheet string
		load  func(row sheetRow) error
	}{
		{SheetPreferential, regs.addPreferential},
		{SheetTradeRemedies, regs.addTradeRemedy},
		{SheetConcessions, regs.addConcession},
	}
	for _, l := range loaders {
		if !sheets[l.sheet] {
			slog.Debug("register sheet absent", "workbook", name, "sheet", l.sheet)
			continue
		}
		rows, err := f.GetRows(l.sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", l.sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		header := headerIndex(rows[0])
		for i, cells := range rows[1:] {
			if blank(cells) {
				continue
			}
			row := sheetRow{header: header, cells: cells}
			if err := l.load(row); err != nil {
				regs.DeadLetters = append(regs.DeadLetters, model.DeadLetter{
					Kind:   model.DeadRowValidationFailure,
					URL:    fmt.Sprintf("%s#%s!%d", name, l.sheet, i+2),
					Code:   row.get("code"),
					Raw:    strings.Join(cells, " | "),
					Reason: err.Error(),
				})
			}
		}
	}
	slog.Info("registers loaded",
		"workbook", name,
		"preferential", len(regs.PreferentialRates),
		"trade_remedies", len(regs.TradeRemedies),
		"concessions", len(regs.Concessions),
		"rejected", len(regs.DeadLetters),
	)
	return regs, nil
}

func (r *Registers) addPreferential(row sheetRow) error {
	code, err := model.ParseCode(row.get("code"))
	if err != nil {
		return err
	}
	agreement := row.get("agreement", "fta")
	if agreement == "" {
		return fmt.Errorf("missing agreement")
	}
	country, err := countryCode(row.get("country", "origin"))
	if err != nil {
		return err
	}
	raw := row.get("rate", "preferentialrate")
	expr, err := r.parseRate(raw, code)
	if err != nil {
		return err
	}
	eff, err := parseDate(row.get("effective", "effectivedate", "from"))
	if err != nil {
		return fmt.Errorf("effective date: %w", err)
	}
	elim, err := parseOptionalDate(row.get("elimination", "eliminationdate", "to"))
	if err != nil {
		return fmt.Errorf("elimination date: %w", err)
	}
	r.PreferentialRates = append(r.PreferentialRates, model.PreferentialRate{
		Code:            code,
		AgreementID:     agreement,
		CountryCode:     country,
		Expression:      expr,
		RawText:         raw,
		StagingCategory: row.get("staging", "stagingcategory", "category"),
		EffectiveDate:   eff,
		EliminationDate: elim,
	})
	return nil
}

func (r *Registers) addTradeRemedy(row sheetRow) error {
	code, err := model.ParseCode(row.get("code"))
	if err != nil {
		return err
	}
	country, err := countryCode(row.get("country", "origin"))
	if err != nil {
		return err
	}
	kind, err := dutyKind(row.get("kind", "dutykind", "measure"))
	if err != nil {
		return err
	}
	raw := row.get("rate", "duty")
	expr, err := r.parseRate(raw, code)
	if err != nil {
		return err
	}
	eff, err := parseDate(row.get("effective", "effectivedate", "from"))
	if err != nil {
		return fmt.Errorf("effective date: %w", err)
	}
	exp, err := parseOptionalDate(row.get("expiry", "expirydate", "to"))
	if err != nil {
		return fmt.Errorf("expiry date: %w", err)
	}
	active, err := parseFlag(row.get("active", "isactive", "status"))
	if err != nil {
		return err
	}
	exporter := strings.TrimSpace(row.get("exporter", "exportername"))
	if strings.EqualFold(exporter, "all others") || strings.EqualFold(exporter, "all other exporters") {
		exporter = ""
	}
	r.TradeRemedies = append(r.TradeRemedies, model.TradeRemedyDuty{
		Code:          code,
		CountryCode:   country,
		ExporterName:  exporter,
		DutyKind:      kind,
		Expression:    expr,
		RawText:       raw,
		CaseNumber:    row.get("case", "casenumber"),
		EffectiveDate: eff,
		ExpiryDate:    exp,
		IsActive:      active,
	})
	return nil
}

func (r *Registers) addConcession(row sheetRow) error {
	code, err := model.ParseCode(row.get("code"))
	if err != nil {
		return err
	}
	eff, err := parseDate(row.get("effective", "effectivedate", "from"))
	if err != nil {
		return fmt.Errorf("effective date: %w", err)
	}
	exp, err := parseOptionalDate(row.get("expiry", "expirydate", "to"))
	if err != nil {
		return fmt.Errorf("expiry date: %w", err)
	}
	current, err := parseFlag(row.get("current", "iscurrent", "status"))
	if err != nil {
		return err
	}
	r.Concessions = append(r.Concessions, model.Concession{
		Code:          code,
		OrderNumber:   row.get("order", "ordernumber", "tcnumber"),
		Description:   row.get("description", "goods"),
		EffectiveDate: eff,
		ExpiryDate:    exp,
		IsCurrent:     current,
	})
	return nil
}

// parseRate requires rate text and records a parse failure without
// rejecting the row
func (r *Registers) parseRate(raw, code string) (rate.Expression, error) {
	if raw == "" {
		return rate.Expression{}, fmt.Errorf("missing rate")
	}
	expr := rate.Parse(raw)
	if expr.IsUnparsed() {
		r.DeadLetters = append(r.DeadLetters, model.DeadLetter{
			Kind:      model.DeadParseFailure,
			ChapterID: model.ChapterOf(code),
			Code:      code,
			Raw:       raw,
			Reason:    "rate text matched no grammar rule",
		})
	}
	return expr, nil
}

type sheetRow struct {
	header map[string]int
	cells  []string
}

// get returns the first non-empty cell among the named columns
func (s sheetRow) get(names ...string) string {
	for _, n := range names {
		i, ok := s.header[n]
		if !ok || i >= len(s.cells) {
			continue
		}
		if v := strings.TrimSpace(s.cells[i]); v != "" {
			return v
		}
	}
	return ""
}

// headerIndex keys columns by their label lowercased with everything but
// letters removed, so "Effective Date" and "effective_date" agree
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if _, dup := idx[key]; !dup && key != "" {
			idx[key] = i
		}
	}
	return idx
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func countryCode(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 || len(s) > 3 {
		return "", fmt.Errorf("invalid country code %q", s)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid country code %q", s)
		}
	}
	return s, nil
}

func dutyKind(s string) (model.DutyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dumping", "anti-dumping", "antidumping", "ad":
		return model.DutyDumping, nil
	case "countervailing", "cvd", "cv":
		return model.DutyCountervailing, nil
	case "both", "ad/cvd", "dumping and countervailing":
		return model.DutyBoth, nil
	}
	return "", fmt.Errorf("unknown duty kind %q", s)
}

// parseFlag reads yes/no style cells; an empty cell means the record is live
func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "yes", "y", "true", "1", "x", "active", "current":
		return true, nil
	case "no", "n", "false", "0", "inactive", "expired", "revoked":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized flag %q", s)
}

// parseDate accepts the common printed layouts and raw Excel serials.
// Results are UTC calendar dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return model.Date(t), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return model.Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
