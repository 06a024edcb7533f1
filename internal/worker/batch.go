package worker

import (
	"context"
	"log/slog"

	"github.com/ppiankov/tariffscope/internal/extract"
)

// ChapterProcessor fetches and parses one chapter page. reused reports
// that an unchanged page was served from the change detector.
type ChapterProcessor interface {
	ProcessChapter(ctx context.Context, ref extract.ChapterRef) (result *extract.ChapterResult, reused bool, err error)
}

// ChapterJob is one chapter page to process
type ChapterJob struct {
	Ref       extract.ChapterRef
	Processor ChapterProcessor
	index     int
}

// Execute runs the job
func (j *ChapterJob) Execute(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return &ChapterOutcome{Ref: j.Ref, Error: err, index: j.index}
	}
	res, reused, err := j.Processor.ProcessChapter(ctx, j.Ref)
	return &ChapterOutcome{Ref: j.Ref, Result: res, Reused: reused, Error: err, index: j.index}
}

// ChapterOutcome is the result of a chapter job
type ChapterOutcome struct {
	Ref    extract.ChapterRef
	Result *extract.ChapterResult
	Reused bool
	Error  error
	index  int
}

// GetError returns the error from the chapter outcome
func (o *ChapterOutcome) GetError() error {
	return o.Error
}

// BatchProcessor fans chapter pages out over a bounded pool
type BatchProcessor struct {
	processor   ChapterProcessor
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(processor ChapterProcessor, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		processor:   processor,
		concurrency: concurrency,
	}
}

// ProcessChapters processes every ref and returns one outcome per ref, in
// completion order. A failing chapter never stops the others. Refs not
// started before ctx is cancelled come back with the context error.
func (b *BatchProcessor) ProcessChapters(ctx context.Context, refs []extract.ChapterRef) []*ChapterOutcome {
	if len(refs) == 0 {
		return []*ChapterOutcome{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, ref := range refs {
		if !pool.Submit(&ChapterJob{Ref: ref, Processor: b.processor, index: i}) {
			break
		}
	}

	results := pool.Wait()
	done := make([]bool, len(refs))
	outcomes := make([]*ChapterOutcome, 0, len(refs))
	for _, r := range results {
		o := r.(*ChapterOutcome)
		done[o.index] = true
		outcomes = append(outcomes, o)
	}
	skipped := 0
	for i, ref := range refs {
		if !done[i] {
			skipped++
			outcomes = append(outcomes, &ChapterOutcome{Ref: ref, Error: ctx.Err(), index: i})
		}
	}

	slog.Debug("chapter batch finished", "chapters", len(refs), "skipped", skipped)
	return outcomes
}
