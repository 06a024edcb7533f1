// Package store holds published classification snapshots and answers
// date-filtered lookups against them.
package store

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/tariffscope/internal/model"
)

// Data is the full content of a snapshot
type Data struct {
	Codes             []model.ClassificationCode `json:"codes"`
	GeneralRates      []model.GeneralRate        `json:"general_rates"`
	PreferentialRates []model.PreferentialRate   `json:"preferential_rates"`
	TradeRemedies     []model.TradeRemedyDuty    `json:"trade_remedies"`
	Concessions       []model.Concession         `json:"concessions"`
	Notes             []model.ChapterNote        `json:"notes"`
	DeadLetters       []model.DeadLetter         `json:"dead_letters"`
}

// Snapshot is an immutable, indexed view of one extraction run's output.
// Its version is the SHA-256 of the canonical (RFC 8785) JSON of its data, so
// identical content always yields an identical version.
type Snapshot struct {
	version string
	builtAt time.Time
	data    Data

	codes       map[string]int
	children    map[string][]int
	general     map[string]int
	preferences map[string][]int
	remedies    map[string][]int
	concessions map[string][]int
	notes       map[string][]int
}

// Stats summarizes a snapshot for logs and the CLI
type Stats struct {
	Codes             int `json:"codes"`
	ActiveCodes       int `json:"active_codes"`
	GeneralRates      int `json:"general_rates"`
	PreferentialRates int `json:"preferential_rates"`
	TradeRemedies     int `json:"trade_remedies"`
	Concessions       int `json:"concessions"`
	Notes             int `json:"notes"`
	DeadLetters       int `json:"dead_letters"`
}

// NewSnapshot sorts data into canonical order, computes its digest and
// builds the lookup indexes. The caller must not modify data afterwards.
func NewSnapshot(data Data, builtAt time.Time) (*Snapshot, error) {
	canonicalize(&data)

	version, err := Digest(data)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		version:     version,
		builtAt:     builtAt.UTC(),
		data:        data,
		codes:       make(map[string]int, len(data.Codes)),
		children:    make(map[string][]int),
		general:     make(map[string]int, len(data.GeneralRates)),
		preferences: make(map[string][]int),
		remedies:    make(map[string][]int),
		concessions: make(map[string][]int),
		notes:       make(map[string][]int),
	}
	for i, c := range data.Codes {
		if _, dup := s.codes[c.Code]; dup {
			return nil, fmt.Errorf("snapshot contains code %s twice", c.Code)
		}
		s.codes[c.Code] = i
		if c.ParentCode != "" {
			s.children[c.ParentCode] = append(s.children[c.ParentCode], i)
		}
	}
	for i, g := range data.GeneralRates {
		s.general[g.Code] = i
	}
	for i, p := range data.PreferentialRates {
		s.preferences[p.Code] = append(s.preferences[p.Code], i)
	}
	for i, r := range data.TradeRemedies {
		s.remedies[r.Code] = append(s.remedies[r.Code], i)
	}
	for i, c := range data.Concessions {
		s.concessions[c.Code] = append(s.concessions[c.Code], i)
	}
	for i, n := range data.Notes {
		s.notes[n.ChapterID] = append(s.notes[n.ChapterID], i)
	}
	return s, nil
}

// Digest returns the canonical content hash of data
func Digest(data Data) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize puts every collection in a deterministic order and replaces
// nil slices with empty ones so that encoding does not depend on how the data
// was assembled.
func canonicalize(d *Data) {
	d.Codes = orEmpty(d.Codes)
	d.GeneralRates = orEmpty(d.GeneralRates)
	d.PreferentialRates = orEmpty(d.PreferentialRates)
	d.TradeRemedies = orEmpty(d.TradeRemedies)
	d.Concessions = orEmpty(d.Concessions)
	d.Notes = orEmpty(d.Notes)
	d.DeadLetters = orEmpty(d.DeadLetters)

	slices.SortStableFunc(d.Codes, func(a, b model.ClassificationCode) int {
		return strings.Compare(a.Code, b.Code)
	})
	slices.SortStableFunc(d.GeneralRates, func(a, b model.GeneralRate) int {
		return strings.Compare(a.Code, b.Code)
	})
	slices.SortStableFunc(d.PreferentialRates, func(a, b model.PreferentialRate) int {
		return cmp.Or(
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.CountryCode, b.CountryCode),
			strings.Compare(a.AgreementID, b.AgreementID),
			a.EffectiveDate.Compare(b.EffectiveDate),
		)
	})
	slices.SortStableFunc(d.TradeRemedies, func(a, b model.TradeRemedyDuty) int {
		return cmp.Or(
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.CountryCode, b.CountryCode),
			strings.Compare(a.ExporterName, b.ExporterName),
			strings.Compare(a.CaseNumber, b.CaseNumber),
			a.EffectiveDate.Compare(b.EffectiveDate),
		)
	})
	slices.SortStableFunc(d.Concessions, func(a, b model.Concession) int {
		return cmp.Or(
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.OrderNumber, b.OrderNumber),
			a.EffectiveDate.Compare(b.EffectiveDate),
		)
	})
	slices.SortStableFunc(d.Notes, func(a, b model.ChapterNote) int {
		return cmp.Or(strings.Compare(a.ChapterID, b.ChapterID), cmp.Compare(a.Ordinal, b.Ordinal))
	})
	slices.SortStableFunc(d.DeadLetters, func(a, b model.DeadLetter) int {
		return cmp.Or(
			strings.Compare(string(a.Kind), string(b.Kind)),
			strings.Compare(a.ChapterID, b.ChapterID),
			strings.Compare(a.Code, b.Code),
			strings.Compare(a.URL, b.URL),
			strings.Compare(a.Raw, b.Raw),
			strings.Compare(a.Reason, b.Reason),
		)
	})
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Version is the content digest of the snapshot
func (s *Snapshot) Version() string {
	return s.version
}

// BuiltAt is when the snapshot was assembled; it is not part of the digest
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Data returns the snapshot content. The slices are shared and must be
// treated as read-only.
func (s *Snapshot) Data() Data {
	return s.data
}

// Stats counts the records held by the snapshot
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Codes:             len(s.data.Codes),
		GeneralRates:      len(s.data.GeneralRates),
		PreferentialRates: len(s.data.PreferentialRates),
		TradeRemedies:     len(s.data.TradeRemedies),
		Concessions:       len(s.data.Concessions),
		Notes:             len(s.data.Notes),
		DeadLetters:       len(s.data.DeadLetters),
	}
	for _, c := range s.data.Codes {
		if c.IsActive {
			st.ActiveCodes++
		}
	}
	return st
}
