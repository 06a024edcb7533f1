package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/tariffscope/internal/extract"
	"github.com/ppiankov/tariffscope/internal/hierarchy"
	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
	"github.com/ppiankov/tariffscope/internal/worker"
)

// SnapshotSaver persists a staged snapshot before it is published
type SnapshotSaver interface {
	Save(ctx context.Context, snap *store.Snapshot) error
}

// Pipeline runs extraction: sections page, section pages, chapter pages in
// parallel, registers, then the hierarchy builder and publication
type Pipeline struct {
	cfg      *model.Config
	fetcher  Fetcher
	links    *extract.LinkExtractor
	chapters *extract.ChapterExtractor
	builder  *hierarchy.Builder
	store    *store.Store
	saver    SnapshotSaver
	changes  *ChangeDetector
}

// NewPipeline wires a pipeline. saver and changes may be nil.
func NewPipeline(cfg *model.Config, fetcher Fetcher, st *store.Store, saver SnapshotSaver, changes *ChangeDetector) (*Pipeline, error) {
	if cfg.Source.SectionsURL == "" {
		return nil, errors.New("source.sections_url is not configured")
	}
	links, err := extract.NewLinkExtractor(cfg.Source.SectionLinkPattern, cfg.Source.ChapterLinkPattern)
	if err != nil {
		return nil, err
	}
	policy, err := hierarchy.ParseOrphanPolicy(cfg.Hierarchy.OrphanPolicy)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		links:    links,
		chapters: extract.NewChapterExtractor(),
		builder:  hierarchy.NewBuilder(policy),
		store:    st,
		saver:    saver,
		changes:  changes,
	}, nil
}

// RunResult summarizes one extraction run
type RunResult struct {
	RunID     string           `json:"run_id"`
	Version   string           `json:"version"`
	Published bool             `json:"published"` // False when the content was unchanged
	Sections  int              `json:"sections"`
	Chapters  int              `json:"chapters"`
	Reused    int              `json:"chapters_reused"`
	Failed    int              `json:"chapters_failed"`
	Carried   int              `json:"codes_carried"` // Codes of failed chapters kept from the previous snapshot
	Hierarchy hierarchy.Report `json:"hierarchy"`
	Stats     store.Stats      `json:"stats"`
	Duration  time.Duration    `json:"duration"`
}

// Run performs one extraction run. Nothing is published unless the whole
// run completes; a cancelled run leaves the current snapshot in place.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	release, err := p.store.BeginRun()
	if err != nil {
		return nil, err
	}
	defer release()

	run := extract.NewRun()
	res := &RunResult{RunID: run.ID}
	log := slog.With("run", run.ID)

	// 1. Sections
	sectionsURL := p.cfg.Source.SectionsURL
	run.Visit(sectionsURL)
	page, err := p.fetcher.Fetch(ctx, sectionsURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sections page: %w", err)
	}
	sections, err := p.links.Sections(page.Body, page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("read sections page: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no section links found at %s", sectionsURL)
	}
	res.Sections = len(sections)
	log.Info("sections found", "count", len(sections))

	// 2. Chapter links, one ref per chapter
	refs := p.chapterRefs(ctx, run, sections)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Chapters = len(refs)
	log.Info("chapters found", "count", len(refs))

	// 3. Chapter pages in parallel; the builder waits for all of them
	outcomes := worker.NewBatchProcessor(p, p.cfg.Concurrency.Workers).ProcessChapters(ctx, refs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]*extract.ChapterResult, 0, len(outcomes))
	failed := make(map[string]bool)
	for _, o := range outcomes {
		if o.Error != nil {
			res.Failed++
			failed[o.Ref.ID] = true
			log.Warn("chapter failed", "chapter", o.Ref.ID, "url", o.Ref.URL, "error", o.Error)
			run.Reject(model.DeadLetter{
				Kind:      model.DeadFetchFailure,
				URL:       o.Ref.URL,
				ChapterID: o.Ref.ID,
				Reason:    o.Error.Error(),
			})
			continue
		}
		if o.Reused {
			res.Reused++
		}
		results = append(results, o.Result)
	}
	data := run.Collect(results)

	// 4. Registers
	if err := p.loadRegisters(ctx, &data); err != nil {
		return nil, err
	}

	// 5. Build and publish
	previous, err := p.store.Current()
	if err != nil && !errors.Is(err, store.ErrNoSnapshot) {
		return nil, err
	}
	if previous != nil && len(failed) > 0 {
		res.Carried = carryForward(&data, previous, failed)
		log.Info("kept failed chapters from previous snapshot", "chapters", len(failed), "codes", res.Carried)
	}
	snap, report, err := p.builder.Build(data, previous)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.saver != nil {
		if err := p.saver.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist snapshot: %w", err)
		}
	}

	res.Version = snap.Version()
	res.Published = p.store.Publish(snap)
	res.Hierarchy = report
	res.Stats = snap.Stats()
	res.Duration = time.Since(run.StartedAt)

	log.Info("extraction run finished",
		"version", res.Version,
		"published", res.Published,
		"chapters", res.Chapters,
		"reused", res.Reused,
		"failed", res.Failed,
		"carried", res.Carried,
		"dead_letters", res.Stats.DeadLetters,
		"duration", res.Duration,
	)
	return res, nil
}

// chapterRefs fetches each section page and collects chapter links. A
// section that cannot be fetched becomes a dead letter; a chapter linked from
// several sections is kept once, under the first.
func (p *Pipeline) chapterRefs(ctx context.Context, run *extract.Run, sections []extract.SectionRef) []extract.ChapterRef {
	var refs []extract.ChapterRef
	seen := make(map[string]bool)
	for _, s := range sections {
		if ctx.Err() != nil {
			return nil
		}
		if !run.Visit(s.URL) {
			continue
		}
		page, err := p.fetcher.Fetch(ctx, s.URL)
		if err == nil {
			var chapters []extract.ChapterRef
			chapters, err = p.links.Chapters(page.Body, page.FinalURL, s.ID)
			for _, c := range chapters {
				if seen[c.ID] || !run.Visit(c.URL) {
					continue
				}
				seen[c.ID] = true
				refs = append(refs, c)
			}
		}
		if err != nil {
			slog.Warn("section failed", "section", s.ID, "url", s.URL, "error", err)
			run.Reject(model.DeadLetter{Kind: model.DeadFetchFailure, URL: s.URL, Reason: err.Error()})
		}
	}
	return refs
}

// carryForward copies the active codes, general rates and notes of chapters
// that could not be fetched from previous into data, so a transient fetch
// failure does not retire them. Codes already present in data are left
// alone. It returns the number of codes carried.
func carryForward(data *store.Data, previous *store.Snapshot, failed map[string]bool) int {
	present := make(map[string]bool, len(data.Codes))
	for _, c := range data.Codes {
		present[c.Code] = true
	}
	noted := make(map[string]bool)
	for _, n := range data.Notes {
		noted[n.ChapterID] = true
	}

	carried := 0
	for _, c := range previous.Codes() {
		if !c.IsActive || !failed[c.ChapterID] || present[c.Code] {
			continue
		}
		present[c.Code] = true
		data.Codes = append(data.Codes, c)
		if g, ok := previous.GeneralRate(c.Code); ok {
			data.GeneralRates = append(data.GeneralRates, g)
		}
		carried++
	}
	for id := range failed {
		if !noted[id] {
			data.Notes = append(data.Notes, previous.Notes(id)...)
		}
	}
	return carried
}

// ProcessChapter fetches and parses one chapter page, reusing the previous
// parse when the page content is unchanged
func (p *Pipeline) ProcessChapter(ctx context.Context, ref extract.ChapterRef) (*extract.ChapterResult, bool, error) {
	page, err := p.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, false, err
	}
	if p.changes != nil {
		if cached, ok := p.changes.Unchanged(ref, page.ContentHash); ok {
			slog.Debug("chapter unchanged", "chapter", ref.ID, "hash", page.ContentHash)
			return cached, true, nil
		}
	}

	result, err := p.chapters.Extract(page.Body, ref)
	if err != nil {
		return nil, false, err
	}
	if p.changes != nil {
		if err := p.changes.Remember(ref, page.ContentHash, result); err != nil {
			slog.Warn("failed to cache chapter parse", "chapter", ref.ID, "error", err)
		}
	}
	return result, false, nil
}

// loadRegisters merges the register workbook into data. A workbook that
// cannot be read fails the run.
func (p *Pipeline) loadRegisters(ctx context.Context, data *store.Data) error {
	src := p.cfg.Source.RegisterWorkbook
	if src == "" {
		return nil
	}

	var (
		regs *extract.Registers
		err  error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		var page *Page
		page, err = p.fetcher.Fetch(ctx, src)
		if err == nil {
			regs, err = extract.ReadRegisters(strings.NewReader(page.Body), src)
		}
	} else {
		regs, err = extract.LoadRegisters(src)
	}
	if err != nil {
		return fmt.Errorf("load registers: %w", err)
	}

	data.PreferentialRates = append(data.PreferentialRates, regs.PreferentialRates...)
	data.TradeRemedies = append(data.TradeRemedies, regs.TradeRemedies...)
	data.Concessions = append(data.Concessions, regs.Concessions...)
	data.DeadLetters = append(data.DeadLetters, regs.DeadLetters...)
	return nil
}
