package extract

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/store"
)

// Run is the state of one extraction run. It replaces process-wide
// "already seen" sets: everything here is discarded when the run ends.
// Visit and Reject are safe for concurrent use by chapter workers.
type Run struct {
	ID        string
	StartedAt time.Time

	mu          sync.Mutex
	visited     map[string]bool
	claimed     map[string]string // code -> URL of the page that emitted it
	deadLetters []model.DeadLetter
}

// NewRun starts a run with a fresh identifier
func NewRun() *Run {
	return &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		visited:   make(map[string]bool),
		claimed:   make(map[string]string),
	}
}

// Visit records url and reports whether this is its first visit in the run
func (r *Run) Visit(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[url] {
		return false
	}
	r.visited[url] = true
	return true
}

// Reject adds dead letters to the run's review list
func (r *Run) Reject(dls ...model.DeadLetter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadLetters = append(r.deadLetters, dls...)
}

// DeadLetters returns a copy of the review list
func (r *Run) DeadLetters() []model.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.deadLetters)
}

// claim reserves code for the page at url. A second claim is refused and
// the duplicate is rejected with a pointer to the first page.
func (r *Run) claim(code, chapterID, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if first, ok := r.claimed[code]; ok {
		r.deadLetters = append(r.deadLetters, model.DeadLetter{
			Kind:      model.DeadDuplicateCode,
			URL:       url,
			ChapterID: chapterID,
			Code:      code,
			Reason:    "code already emitted by " + first,
		})
		return false
	}
	r.claimed[code] = url
	return true
}

// Collect merges chapter results into raw snapshot data. Results are
// processed in chapter order so the first claim on a duplicated code does not
// depend on which worker finished first.
func (r *Run) Collect(results []*ChapterResult) store.Data {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b *ChapterResult) int {
		return cmp.Or(cmp.Compare(a.ChapterID, b.ChapterID), cmp.Compare(a.URL, b.URL))
	})

	var data store.Data
	for _, res := range ordered {
		if res == nil {
			continue
		}
		kept := make(map[string]bool, len(res.Codes))
		for _, c := range res.Codes {
			if r.claim(c.Code, res.ChapterID, res.URL) {
				kept[c.Code] = true
				data.Codes = append(data.Codes, c)
			}
		}
		for _, g := range res.GeneralRates {
			if kept[g.Code] {
				data.GeneralRates = append(data.GeneralRates, g)
				// Only the first row's rate is kept for a repeated code.
				delete(kept, g.Code)
			}
		}
		data.Notes = append(data.Notes, res.Notes...)
		r.Reject(res.DeadLetters...)
	}
	data.DeadLetters = r.DeadLetters()
	return data
}
