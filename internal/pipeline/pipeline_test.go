package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/tariffscope/internal/cache"
	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
)

const (
	sectionsPage = `<html><body>
<a href="/schedule/section-xvi">Section XVI Machinery and electrical equipment</a>
</body></html>`

	sectionPage = `<html><body><ul>
<li><a href="/schedule/chapter-84.html">Chapter 84 Nuclear reactors, boilers, machinery</a></li>
<li><a href="/schedule/chapter-85.html">Chapter 85 Electrical machinery</a></li>
<li><a href="/schedule/chapter-84.html">Chapter 84 (again)</a></li>
</ul></body></html>`

	chapter84Page = `<html><body><h1>Chapter 84</h1>
<div class="chapter-notes"><p>1. This Chapter does not cover millstones.</p></div>
<table>
<tr><th>Heading</th><th>Description</th><th>Unit</th><th>General Rate</th></tr>
<tr><td>84</td><td>Nuclear reactors, boilers, machinery</td><td></td><td></td></tr>
<tr><td>8471</td><td>Automatic data processing machines</td><td></td><td></td></tr>
<tr><td>8471.30</td><td>Portable machines</td><td></td><td></td></tr>
<tr><td>8471.30.00</td><td>Weighing not more than 10 kg</td><td>No</td><td>5%</td></tr>
</table></body></html>`

	chapter85Page = `<html><body><h1>Chapter 85</h1>
<table>
<tr><th>Heading</th><th>Description</th><th>Unit</th><th>General Rate</th></tr>
<tr><td>85</td><td>Electrical machinery</td><td></td><td></td></tr>
<tr><td>8501</td><td>Electric motors</td><td></td><td></td></tr>
<tr><td>8501.10</td><td>Motors of an output not exceeding 37.5 W</td><td></td><td></td></tr>
<tr><td>8501.10.00</td><td>Motors</td><td>No</td><td>Free</td></tr>
</table></body></html>`
)

// scheduleSite serves a two-chapter schedule. Handlers for individual paths
// can be overridden per test.
type scheduleSite struct {
	server    *httptest.Server
	hits      map[string]*atomic.Int32
	mu        sync.Mutex
	overrides map[string]http.HandlerFunc
}

func (s *scheduleSite) override(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[path] = h
}

func newScheduleSite(t *testing.T) *scheduleSite {
	t.Helper()
	pages := map[string]string{
		"/schedule":                 sectionsPage,
		"/schedule/section-xvi":     sectionPage,
		"/schedule/chapter-84.html": chapter84Page,
		"/schedule/chapter-85.html": chapter85Page,
	}
	site := &scheduleSite{
		hits:      make(map[string]*atomic.Int32),
		overrides: make(map[string]http.HandlerFunc),
	}
	for path := range pages {
		site.hits[path] = &atomic.Int32{}
	}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n, ok := site.hits[r.URL.Path]; ok {
			n.Add(1)
		}
		site.mu.Lock()
		h, ok := site.overrides[r.URL.Path]
		site.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(site.server.Close)
	return site
}

func testConfig(site *scheduleSite) *model.Config {
	cfg := model.DefaultConfig()
	cfg.HTTP = testHTTPConfig()
	cfg.HTTP.MaxRetries = 0
	cfg.Source.SectionsURL = site.server.URL + "/schedule"
	cfg.Concurrency.Workers = 2
	return cfg
}

type recordingSaver struct {
	saved []string
	err   error
}

func (s *recordingSaver) Save(ctx context.Context, snap *store.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, snap.Version())
	return nil
}

func newTestPipeline(t *testing.T, cfg *model.Config, st *store.Store, saver SnapshotSaver, changes *ChangeDetector) *Pipeline {
	t.Helper()
	fetcher, err := NewHTTPFetcher(cfg.HTTP, nil)
	require.NoError(t, err)
	p, err := NewPipeline(cfg, fetcher, st, saver, changes)
	require.NoError(t, err)
	return p
}

func TestRunPublishesSchedule(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	saver := &recordingSaver{}
	p := newTestPipeline(t, testConfig(site), st, saver, nil)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.Equal(t, 1, res.Sections)
	assert.Equal(t, 2, res.Chapters, "a chapter linked twice is fetched once")
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{res.Version}, saver.saved)
	assert.Equal(t, int32(1), site.hits["/schedule/chapter-84.html"].Load())

	snap, err := st.Current()
	require.NoError(t, err)
	assert.Equal(t, res.Version, snap.Version())
	assert.Equal(t, 8, res.Stats.Codes)
	assert.Equal(t, 2, res.Stats.GeneralRates)
	assert.Zero(t, res.Stats.DeadLetters)

	code, ok := snap.Code("84713000")
	require.True(t, ok)
	assert.Equal(t, "847130", code.ParentCode)
	assert.Equal(t, "XVI", code.SectionID)
	require.Len(t, snap.Notes("84"), 1)
}

func TestRunIsIdempotent(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.True(t, first.Published)
	assert.False(t, second.Published, "identical content is not republished")
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunRecordsFailedChapter(t *testing.T) {
	site := newScheduleSite(t)
	site.override("/schedule/chapter-85.html", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	snap, err := st.Current()
	require.NoError(t, err)
	_, ok := snap.Code("85011000")
	assert.False(t, ok)
	_, ok = snap.Code("84713000")
	assert.True(t, ok, "other chapters are unaffected")

	dls := snap.DeadLetters(model.DeadFetchFailure)
	require.Len(t, dls, 1)
	assert.Equal(t, "85", dls[0].ChapterID)
	assert.True(t, strings.HasSuffix(dls[0].URL, "/schedule/chapter-85.html"))
	assert.Contains(t, dls[0].Reason, "404")
}

func TestRunKeepsFailedChapterFromPreviousSnapshot(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, first.Failed)

	site.override("/schedule/chapter-85.html", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Failed)
	assert.Equal(t, 4, second.Carried)
	assert.Zero(t, second.Hierarchy.Retired, "a chapter that failed to fetch is not retired")
	assert.Equal(t, first.Stats.ActiveCodes, second.Stats.ActiveCodes)
	assert.Equal(t, first.Stats.GeneralRates, second.Stats.GeneralRates)

	snap, err := st.Current()
	require.NoError(t, err)
	code, ok := snap.Code("85011000")
	require.True(t, ok)
	assert.True(t, code.IsActive)
	assert.Equal(t, "850110", code.ParentCode)
	g, ok := snap.GeneralRate("85011000")
	require.True(t, ok)
	assert.Equal(t, "Free", g.RawText)
	assert.Len(t, snap.Notes("84"), 1)

	dls := snap.DeadLetters(model.DeadFetchFailure)
	require.Len(t, dls, 1)
	assert.Equal(t, "85", dls[0].ChapterID)
	assert.Contains(t, dls[0].Reason, "503")
}

func TestRunRecordsFailedSection(t *testing.T) {
	site := newScheduleSite(t)
	site.override("/schedule/section-xvi", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Chapters)
	assert.Equal(t, 1, res.Stats.DeadLetters)
	snap, err := st.Current()
	require.NoError(t, err)
	assert.Len(t, snap.DeadLetters(model.DeadFetchFailure), 1)
}

func TestRunFailsWithoutSectionsPage(t *testing.T) {
	site := newScheduleSite(t)
	site.override("/schedule", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	_, err = st.Current()
	assert.ErrorIs(t, err, store.ErrNoSnapshot)
}

func TestRunCancelledKeepsPreviousSnapshot(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	first, err := p.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site.override("/schedule/chapter-85.html", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	snap, err := st.Current()
	require.NoError(t, err)
	assert.Equal(t, first.Version, snap.Version())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, nil, nil)

	release, err := st.BeginRun()
	require.NoError(t, err)
	defer release()

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrRunInProgress)
	assert.Zero(t, site.hits["/schedule"].Load())
}

func TestRunSaveFailureDoesNotPublish(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	p := newTestPipeline(t, testConfig(site), st, &recordingSaver{err: errors.New("disk full")}, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, err = st.Current()
	assert.ErrorIs(t, err, store.ErrNoSnapshot)
}

func TestRunReusesUnchangedChapters(t *testing.T) {
	site := newScheduleSite(t)
	st := store.New()
	changes := NewChangeDetector(cache.NewMemoryCache(time.Hour, time.Hour), time.Hour)
	p := newTestPipeline(t, testConfig(site), st, nil, changes)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.Reused)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Reused)
	assert.Equal(t, first.Version, second.Version, "a reused parse yields the same snapshot")

	site.override("/schedule/chapter-85.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, strings.Replace(chapter85Page, "Free", "2.5%", 1))
	})
	third, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Reused)
	assert.True(t, third.Published)
	assert.NotEqual(t, first.Version, third.Version)
}

func TestRunLoadsRegisterWorkbookFailure(t *testing.T) {
	site := newScheduleSite(t)
	cfg := testConfig(site)
	cfg.Source.RegisterWorkbook = site.server.URL + "/registers.xlsx"
	st := store.New()
	p := newTestPipeline(t, cfg, st, nil, nil)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load registers")
	_, err = st.Current()
	assert.ErrorIs(t, err, store.ErrNoSnapshot)
}

func TestNewPipelineValidatesConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	_, err := NewPipeline(cfg, nil, store.New(), nil, nil)
	assert.Error(t, err, "sections URL is required")

	cfg.Source.SectionsURL = "https://tariff.example/schedule"
	cfg.Hierarchy.OrphanPolicy = "ignore"
	_, err = NewPipeline(cfg, nil, store.New(), nil, nil)
	assert.Error(t, err)

	cfg.Hierarchy.OrphanPolicy = "exclude"
	cfg.Source.ChapterLinkPattern = "("
	_, err = NewPipeline(cfg, nil, store.New(), nil, nil)
	assert.Error(t, err)
}
