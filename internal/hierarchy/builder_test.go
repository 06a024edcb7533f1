package hierarchy

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/rate"
	"github.com/ppiankov/tariffscope/internal/store"
)

func codes(cs ...string) []model.ClassificationCode {
	out := make([]model.ClassificationCode, 0, len(cs))
	for _, c := range cs {
		out = append(out, model.ClassificationCode{Code: c, Description: "item " + c})
	}
	return out
}

func fixedBuilder(p OrphanPolicy) *Builder {
	b := NewBuilder(p)
	b.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return b
}

func TestBuildLinksParents(t *testing.T) {
	raw := store.Data{Codes: codes("8471300000", "84", "8471", "847130", "84713000")}
	snap, report, err := fixedBuilder(OrphanReattach).Build(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Codes)
	assert.Zero(t, report.Orphans)

	c, ok := snap.Code("8471300000")
	require.True(t, ok)
	assert.Equal(t, 10, c.Level)
	assert.Equal(t, "84713000", c.ParentCode)
	assert.Equal(t, "84", c.ChapterID)
	assert.True(t, c.IsActive)

	root, _ := snap.Code("84")
	assert.Empty(t, root.ParentCode)
}

func TestBuildReattachesOrphans(t *testing.T) {
	raw := store.Data{Codes: codes("84", "8471", "84713000")}
	snap, report, err := fixedBuilder(OrphanReattach).Build(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 1, report.Reattached)

	c, _ := snap.Code("84713000")
	assert.Equal(t, "8471", c.ParentCode)

	dl := snap.DeadLetters(model.DeadHierarchyOrphan)
	require.Len(t, dl, 1)
	assert.Equal(t, "84713000", dl[0].Code)
}

func TestBuildReattachWithoutAnyAncestorKeepsRoot(t *testing.T) {
	snap, _, err := fixedBuilder(OrphanReattach).Build(store.Data{Codes: codes("847130")}, nil)
	require.NoError(t, err)
	c, ok := snap.Code("847130")
	require.True(t, ok)
	assert.Empty(t, c.ParentCode)
}

func TestBuildExcludesOrphansTransitively(t *testing.T) {
	raw := store.Data{
		Codes:        codes("84", "847130", "84713000"),
		GeneralRates: []model.GeneralRate{{Code: "84713000", Expression: rate.Parse("5%"), RawText: "5%"}},
	}
	snap, report, err := fixedBuilder(OrphanExclude).Build(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Excluded)
	assert.Equal(t, 1, report.Codes)
	assert.Equal(t, 1, report.Dropped)

	_, ok := snap.Code("84713000")
	assert.False(t, ok)
	_, ok = snap.GeneralRate("84713000")
	assert.False(t, ok)

	dl := snap.DeadLetters(model.DeadUnreferencedCode)
	require.Len(t, dl, 1)
	assert.Equal(t, "84713000", dl[0].Code)
	assert.Contains(t, dl[0].Reason, "general rate")
}

func TestBuildRejectsBadLengthsAndDuplicates(t *testing.T) {
	raw := store.Data{Codes: codes("84", "847", "8471", "8471")}
	snap, report, err := fixedBuilder(OrphanReattach).Build(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Codes)
	assert.Len(t, snap.DeadLetters(model.DeadInvalidCodeLength), 1)
	assert.Len(t, snap.DeadLetters(model.DeadDuplicateCode), 1)
}

func TestBuildRetiresMissingCodes(t *testing.T) {
	b := fixedBuilder(OrphanReattach)
	first, _, err := b.Build(store.Data{Codes: codes("84", "8471", "847130")}, nil)
	require.NoError(t, err)

	second, report, err := b.Build(store.Data{Codes: codes("84", "8471")}, first)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retired)

	c, ok := second.Code("847130")
	require.True(t, ok)
	assert.False(t, c.IsActive)
	assert.Equal(t, "8471", c.ParentCode)
}

func TestBuildDropsUnreferencedRegisterRows(t *testing.T) {
	raw := store.Data{
		Codes: codes("84", "8471"),
		Concessions: []model.Concession{
			{Code: "9999", OrderNumber: "TC 1", IsCurrent: true},
			{Code: "8471", OrderNumber: "TC 2", IsCurrent: true},
		},
	}
	snap, _, err := fixedBuilder(OrphanReattach).Build(raw, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Data().Concessions, 1)
	dl := snap.DeadLetters(model.DeadUnreferencedCode)
	require.Len(t, dl, 1)
	assert.Equal(t, "9999", dl[0].Code)
}

func TestBuildIsDeterministic(t *testing.T) {
	a, _, err := fixedBuilder(OrphanReattach).Build(store.Data{Codes: codes("84", "8471", "84713000")}, nil)
	require.NoError(t, err)
	b, _, err := NewBuilder(OrphanReattach).Build(store.Data{Codes: codes("84713000", "8471", "84")}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Version(), b.Version())
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanReattach, p)
	p, err = ParseOrphanPolicy(" Exclude ")
	require.NoError(t, err)
	assert.Equal(t, OrphanExclude, p)
	_, err = ParseOrphanPolicy("drop")
	assert.Error(t, err)
}

func TestTreeInvariantsHoldForArbitraryCodeSets(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Binary digits keep the code space small enough for prefixes to collide.
	code := gopter.CombineGens(
		gen.SliceOfN(10, gen.RuneRange('0', '1')),
		gen.IntRange(1, 5),
	).Map(func(vs []interface{}) string {
		digits := string(vs[0].([]rune))
		return digits[:vs[1].(int)*2]
	})

	for _, policy := range []OrphanPolicy{OrphanReattach, OrphanExclude} {
		properties.Property("levels and parents are valid under "+string(policy), prop.ForAll(
			func(cs []string) bool {
				snap, _, err := fixedBuilder(policy).Build(store.Data{Codes: codes(cs...)}, nil)
				if err != nil {
					return false
				}
				for _, c := range snap.Codes() {
					if !model.IsValidLevel(c.Level) {
						return false
					}
					if c.ParentCode != "" && (!strings.HasPrefix(c.Code, c.ParentCode) || len(c.ParentCode) >= len(c.Code)) {
						return false
					}
				}
				return true
			},
			gen.SliceOf(code),
		))
	}

	properties.TestingRun(t)
}
