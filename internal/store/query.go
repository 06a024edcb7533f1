package store

import (
	"strings"
	"time"

	"github.com/ppiankov/tariffscope/internal/model"
)

// Code looks up a code exactly, including retired codes
func (s *Snapshot) Code(code string) (model.ClassificationCode, bool) {
	i, ok := s.codes[code]
	if !ok {
		return model.ClassificationCode{}, false
	}
	return s.data.Codes[i], true
}

// Codes returns every code in ascending order
func (s *Snapshot) Codes() []model.ClassificationCode {
	return s.data.Codes
}

// Ancestors follows stored parent links from code up to its root. A
// re-attached orphan therefore skips the missing level.
func (s *Snapshot) Ancestors(code string) []model.ClassificationCode {
	var chain []model.ClassificationCode
	cur, ok := s.Code(code)
	for ok && cur.ParentCode != "" {
		cur, ok = s.Code(cur.ParentCode)
		if ok {
			chain = append(chain, cur)
		}
	}
	return chain
}

// Children returns the direct children of code
func (s *Snapshot) Children(code string) []model.ClassificationCode {
	idx := s.children[code]
	out := make([]model.ClassificationCode, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.data.Codes[i])
	}
	return out
}

// GeneralRate returns the MFN rate recorded for code
func (s *Snapshot) GeneralRate(code string) (model.GeneralRate, bool) {
	i, ok := s.general[code]
	if !ok {
		return model.GeneralRate{}, false
	}
	return s.data.GeneralRates[i], true
}

// PreferentialRates returns the agreement rates for goods from country that
// are valid on d
func (s *Snapshot) PreferentialRates(code, country string, d time.Time) []model.PreferentialRate {
	var out []model.PreferentialRate
	for _, i := range s.preferences[code] {
		p := s.data.PreferentialRates[i]
		if strings.EqualFold(p.CountryCode, country) && p.ValidAt(d) {
			out = append(out, p)
		}
	}
	return out
}

// TradeRemedies returns the active measures on goods from country valid on d,
// both exporter-specific and all-others
func (s *Snapshot) TradeRemedies(code, country string, d time.Time) []model.TradeRemedyDuty {
	var out []model.TradeRemedyDuty
	for _, i := range s.remedies[code] {
		r := s.data.TradeRemedies[i]
		if strings.EqualFold(r.CountryCode, country) && r.ValidAt(d) {
			out = append(out, r)
		}
	}
	return out
}

// Concessions returns the current concessions on code valid on d
func (s *Snapshot) Concessions(code string, d time.Time) []model.Concession {
	var out []model.Concession
	for _, i := range s.concessions[code] {
		c := s.data.Concessions[i]
		if c.ValidAt(d) {
			out = append(out, c)
		}
	}
	return out
}

// Notes returns the notes of a chapter in printed order
func (s *Snapshot) Notes(chapterID string) []model.ChapterNote {
	idx := s.notes[chapterID]
	out := make([]model.ChapterNote, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.data.Notes[i])
	}
	return out
}

// DeadLetters returns the review list, optionally filtered by kind
func (s *Snapshot) DeadLetters(kinds ...model.DeadLetterKind) []model.DeadLetter {
	if len(kinds) == 0 {
		return s.data.DeadLetters
	}
	var out []model.DeadLetter
	for _, dl := range s.data.DeadLetters {
		for _, k := range kinds {
			if dl.Kind == k {
				out = append(out, dl)
				break
			}
		}
	}
	return out
}
