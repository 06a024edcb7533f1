// Package hierarchy links extracted codes into a parent/child tree and stages
// the result as a publishable snapshot.
package hierarchy

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
)

// OrphanPolicy decides what happens to a code whose parent is missing
type OrphanPolicy string

const (
	OrphanReattach OrphanPolicy = "reattach" // Link to the nearest existing ancestor
	OrphanExclude  OrphanPolicy = "exclude"  // Drop the code from the snapshot
)

// ParseOrphanPolicy validates a configured policy name
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case OrphanReattach, "":
		return OrphanReattach, nil
	case OrphanExclude:
		return OrphanExclude, nil
	}
	return "", fmt.Errorf("unknown orphan policy %q (want %q or %q)", s, OrphanReattach, OrphanExclude)
}

// Report summarizes what the builder changed
type Report struct {
	Codes      int `json:"codes"`
	Orphans    int `json:"orphans"`
	Reattached int `json:"reattached"`
	Excluded   int `json:"excluded"`
	Retired    int `json:"retired"`
	Dropped    int `json:"dropped_records"` // Rate records whose code is not in the tree
}

// Builder turns raw extraction output into a snapshot
type Builder struct {
	policy OrphanPolicy
	now    func() time.Time
}

// NewBuilder creates a builder with the given orphan policy
func NewBuilder(policy OrphanPolicy) *Builder {
	if policy == "" {
		policy = OrphanReattach
	}
	return &Builder{policy: policy, now: time.Now}
}

// Build links raw codes, carries retired codes over from previous (which may
// be nil), drops records that reference unknown codes, and returns the
// staged snapshot. raw.Codes need only Code, Description, unit, section and
// chapter; Level, ParentCode and IsActive are assigned here.
func (b *Builder) Build(raw store.Data, previous *store.Snapshot) (*store.Snapshot, Report, error) {
	var report Report
	deadLetters := slices.Clone(raw.DeadLetters)
	reject := func(dl model.DeadLetter) {
		deadLetters = append(deadLetters, dl)
	}

	candidates := make([]model.ClassificationCode, 0, len(raw.Codes))
	seen := make(map[string]bool, len(raw.Codes))
	for _, c := range raw.Codes {
		if !model.IsValidLevel(len(c.Code)) {
			reject(model.DeadLetter{Kind: model.DeadInvalidCodeLength, ChapterID: c.ChapterID, Code: c.Code,
				Reason: fmt.Sprintf("%d digits is not a defined level", len(c.Code))})
			continue
		}
		if seen[c.Code] {
			reject(model.DeadLetter{Kind: model.DeadDuplicateCode, ChapterID: c.ChapterID, Code: c.Code,
				Reason: "code emitted twice; first occurrence kept"})
			continue
		}
		seen[c.Code] = true
		c.Level = len(c.Code)
		c.ParentCode = ""
		c.IsActive = true
		if c.ChapterID == "" {
			c.ChapterID = model.ChapterOf(c.Code)
		}
		candidates = append(candidates, c)
	}

	// Parents are always shorter, so linking in level order sees every
	// surviving parent before its children.
	slices.SortStableFunc(candidates, byLevelThenCode)

	present := make(map[string]bool, len(candidates))
	codes := make([]model.ClassificationCode, 0, len(candidates))
	for _, c := range candidates {
		parent, ok := model.ParentOf(c.Code)
		if !ok || present[parent] {
			c.ParentCode = parent
			present[c.Code] = true
			codes = append(codes, c)
			continue
		}

		report.Orphans++
		switch b.policy {
		case OrphanExclude:
			report.Excluded++
			reject(model.DeadLetter{Kind: model.DeadHierarchyOrphan, ChapterID: c.ChapterID, Code: c.Code,
				Reason: fmt.Sprintf("parent %s missing; excluded", parent)})
			slog.Warn("orphan code excluded", "code", c.Code, "missing_parent", parent)
			continue
		default:
			c.ParentCode = nearest(c.Code, present)
			report.Reattached++
			reason := fmt.Sprintf("parent %s missing; reattached to %s", parent, c.ParentCode)
			if c.ParentCode == "" {
				reason = fmt.Sprintf("parent %s missing; no ancestor exists, kept as root", parent)
			}
			reject(model.DeadLetter{Kind: model.DeadHierarchyOrphan, ChapterID: c.ChapterID, Code: c.Code, Reason: reason})
			slog.Warn("orphan code reattached", "code", c.Code, "missing_parent", parent, "parent", c.ParentCode)
		}
		present[c.Code] = true
		codes = append(codes, c)
	}
	active := make(map[string]bool, len(present))
	for code := range present {
		active[code] = true
	}

	if previous != nil {
		retired := retiredCodes(previous, present)
		slices.SortStableFunc(retired, byLevelThenCode)
		for _, c := range retired {
			c.IsActive = false
			c.ParentCode = nearest(c.Code, present)
			present[c.Code] = true
			codes = append(codes, c)
			report.Retired++
		}
	}
	report.Codes = len(codes)

	data := store.Data{Codes: codes, Notes: raw.Notes}

	for _, g := range raw.GeneralRates {
		if active[g.Code] {
			data.GeneralRates = append(data.GeneralRates, g)
			continue
		}
		report.Dropped++
		reject(unreferenced(g.Code, "general rate"))
	}
	for _, p := range raw.PreferentialRates {
		if active[p.Code] {
			data.PreferentialRates = append(data.PreferentialRates, p)
			continue
		}
		report.Dropped++
		reject(unreferenced(p.Code, "preferential rate "+p.AgreementID+"/"+p.CountryCode))
	}
	for _, t := range raw.TradeRemedies {
		if active[t.Code] {
			data.TradeRemedies = append(data.TradeRemedies, t)
			continue
		}
		report.Dropped++
		reject(unreferenced(t.Code, "trade remedy case "+t.CaseNumber))
	}
	for _, c := range raw.Concessions {
		if active[c.Code] {
			data.Concessions = append(data.Concessions, c)
			continue
		}
		report.Dropped++
		reject(unreferenced(c.Code, "concession "+c.OrderNumber))
	}
	data.DeadLetters = deadLetters

	if err := Validate(data.Codes); err != nil {
		return nil, report, err
	}

	snap, err := store.NewSnapshot(data, b.now())
	if err != nil {
		return nil, report, fmt.Errorf("failed to stage snapshot: %w", err)
	}
	slog.Info("hierarchy built",
		"codes", report.Codes,
		"orphans", report.Orphans,
		"retired", report.Retired,
		"version", snap.Version(),
	)
	return snap, report, nil
}

// Validate checks the tree invariants: every level is defined and every
// parent is a present, strictly shorter prefix of its child.
func Validate(codes []model.ClassificationCode) error {
	index := make(map[string]model.ClassificationCode, len(codes))
	for _, c := range codes {
		index[c.Code] = c
	}
	for _, c := range codes {
		if !model.IsValidLevel(c.Level) || c.Level != len(c.Code) {
			return fmt.Errorf("code %s has invalid level %d", c.Code, c.Level)
		}
		if c.ParentCode == "" {
			continue
		}
		p, ok := index[c.ParentCode]
		if !ok {
			return fmt.Errorf("code %s references missing parent %s", c.Code, c.ParentCode)
		}
		if !strings.HasPrefix(c.Code, p.Code) || p.Level >= c.Level {
			return fmt.Errorf("code %s has parent %s that is not a shorter prefix", c.Code, p.Code)
		}
	}
	return nil
}

// nearest returns the longest proper ancestor of code present in the set
func nearest(code string, present map[string]bool) string {
	for _, a := range model.Ancestors(code) {
		if present[a] {
			return a
		}
	}
	return ""
}

func retiredCodes(previous *store.Snapshot, present map[string]bool) []model.ClassificationCode {
	var out []model.ClassificationCode
	for _, c := range previous.Codes() {
		if !present[c.Code] {
			out = append(out, c)
		}
	}
	return out
}

func unreferenced(code, what string) model.DeadLetter {
	return model.DeadLetter{
		Kind:      model.DeadUnreferencedCode,
		ChapterID: model.ChapterOf(code),
		Code:      code,
		Reason:    what + " references a code absent from the schedule",
	}
}

func byLevelThenCode(a, b model.ClassificationCode) int {
	if len(a.Code) != len(b.Code) {
		return len(a.Code) - len(b.Code)
	}
	return strings.Compare(a.Code, b.Code)
}
