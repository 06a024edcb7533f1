package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
)

// ChapterResult is everything extracted from one chapter page
type ChapterResult struct {
	ChapterID    string                     `json:"chapter_id"`
	SectionID    string                     `json:"section_id"`
	URL          string                     `json:"url"`
	Title        string                     `json:"title"`
	Codes        []model.ClassificationCode `json:"codes"`
	GeneralRates []model.GeneralRate        `json:"general_rates"`
	Notes        []model.ChapterNote        `json:"notes"`
	DeadLetters  []model.DeadLetter         `json:"dead_letters"`
}

// columns maps table roles to cell indexes; -1 means absent
type columns struct {
	code, stat, desc, unit, rate int
}

var positional = columns{code: 0, stat: -1, desc: 1, unit: 2, rate: 3}

// ChapterExtractor reads the classification table and notes of a chapter page
type ChapterExtractor struct{}

// NewChapterExtractor creates a new chapter extractor
func NewChapterExtractor() *ChapterExtractor {
	return &ChapterExtractor{}
}

// Extract parses a chapter page. Row-level problems become dead letters on
// the result; only an unparseable document is an error.
func (e *ChapterExtractor) Extract(htmlContent string, ref ChapterRef) (*ChapterResult, error) {
	doc, err := parseHTML(htmlContent)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chapter %s: %w", ref.ID, err)
	}

	res := &ChapterResult{
		ChapterID: ref.ID,
		SectionID: ref.SectionID,
		URL:       ref.URL,
		Title:     ref.Title,
	}
	if h := findFirst(doc, func(n *html.Node) bool { return isElement(n, "h1", "h2") }); h != nil {
		res.Title = textOf(h)
	}

	for _, table := range findAll(doc, func(n *html.Node) bool { return isElement(n, "table") }) {
		e.extractTable(table, res)
	}

	for i, text := range extractNotes(doc) {
		res.Notes = append(res.Notes, model.ChapterNote{ChapterID: ref.ID, Ordinal: i, Text: text})
	}
	return res, nil
}

func (e *ChapterExtractor) extractTable(table *html.Node, res *ChapterResult) {
	rows := findAll(table, func(n *html.Node) bool { return isElement(n, "tr") })
	if len(rows) == 0 {
		return
	}

	cols := positional
	start := 0
	if headers := cellTexts(rows[0]); isHeaderRow(rows[0]) || looksLikeHeader(headers) {
		mapped, ok := mapColumns(headers)
		if !ok {
			// A table without a code column is not a classification table.
			return
		}
		cols = mapped
		start = 1
	}

	for _, row := range rows[start:] {
		cells := cellTexts(row)
		if len(cells) == 0 || isHeaderRow(row) {
			continue
		}
		e.extractRow(cells, cols, res)
	}
}

func (e *ChapterExtractor) extractRow(cells []string, cols columns, res *ChapterResult) {
	rawCode := cell(cells, cols.code)
	if rawCode == "" {
		// Continuation and sub-heading rows carry no code.
		return
	}
	raw := strings.Join(cells, " | ")
	reject := func(kind model.DeadLetterKind, code, reason string) {
		res.DeadLetters = append(res.DeadLetters, model.DeadLetter{
			Kind: kind, URL: res.URL, ChapterID: res.ChapterID, Code: code, Raw: raw, Reason: reason,
		})
	}

	code, err := model.NormalizeCode(rawCode)
	if err != nil {
		reject(model.DeadRowValidationFailure, "", err.Error())
		return
	}
	if stat := cell(cells, cols.stat); stat != "" {
		statCode, err := model.NormalizeCode(stat)
		if err != nil || len(statCode) != 2 || len(code) != 8 {
			reject(model.DeadRowValidationFailure, code, fmt.Sprintf("statistical code %q cannot extend %s", stat, code))
			return
		}
		code += statCode
	}
	if !model.IsValidLevel(len(code)) {
		reject(model.DeadInvalidCodeLength, code, fmt.Sprintf("%d digits is not a defined level", len(code)))
		return
	}
	if res.ChapterID != "" && model.ChapterOf(code) != res.ChapterID {
		reject(model.DeadRowValidationFailure, code, fmt.Sprintf("code belongs to chapter %s, not %s", model.ChapterOf(code), res.ChapterID))
		return
	}
	desc := strings.TrimLeft(cell(cells, cols.desc), "-–— ")
	if desc == "" {
		reject(model.DeadRowValidationFailure, code, "missing description")
		return
	}

	res.Codes = append(res.Codes, model.ClassificationCode{
		Code:           code,
		Description:    desc,
		UnitOfQuantity: cell(cells, cols.unit),
		SectionID:      res.SectionID,
		ChapterID:      model.ChapterOf(code),
	})

	rateText := cell(cells, cols.rate)
	if rateText == "" {
		return
	}
	expr := rate.Parse(rateText)
	if expr.IsUnparsed() {
		reject(model.DeadParseFailure, code, "rate text matched no grammar rule")
	}
	res.GeneralRates = append(res.GeneralRates, model.GeneralRate{Code: code, Expression: expr, RawText: rateText})
}

// mapColumns assigns roles from header labels. The statistical code column
// is matched first because its label usually also contains "code"; a
// statistical unit column is a unit.
func mapColumns(headers []string) (columns, bool) {
	cols := columns{code: -1, stat: -1, desc: -1, unit: -1, rate: -1}
	for i, h := range headers {
		h = strings.ToLower(h)
		switch {
		case strings.Contains(h, "stat") && !strings.Contains(h, "unit") && cols.stat < 0:
			cols.stat = i
		case (strings.Contains(h, "code") || strings.Contains(h, "reference") || strings.Contains(h, "heading") || h == "hs") && cols.code < 0:
			cols.code = i
		case (strings.Contains(h, "description") || strings.Contains(h, "goods")) && cols.desc < 0:
			cols.desc = i
		case strings.Contains(h, "unit") && cols.unit < 0:
			cols.unit = i
		case (strings.Contains(h, "general") || strings.Contains(h, "rate") || strings.Contains(h, "duty")) && cols.rate < 0:
			cols.rate = i
		}
	}
	return cols, cols.code >= 0
}

func looksLikeHeader(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	if _, err := model.NormalizeCode(cells[0]); err == nil {
		return false
	}
	for _, c := range cells {
		for _, word := range strings.Fields(strings.ToLower(c)) {
			switch strings.Trim(word, ":.()") {
			case "description", "code", "rate", "unit", "heading":
				return true
			}
		}
	}
	return false
}

func isHeaderRow(tr *html.Node) bool {
	hasTH := false
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td") {
			return false
		}
		if isElement(c, "th") {
			hasTH = true
		}
	}
	return hasTH
}

func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td", "th") {
			cells = append(cells, textOf(c))
		}
	}
	return cells
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}
