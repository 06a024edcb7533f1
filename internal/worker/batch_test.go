package worker

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ppiankov/tariffscope/internal/extract"
)

type mockProcessor struct {
	fail  map[string]bool
	delay time.Duration
}

func (m *mockProcessor) ProcessChapter(ctx context.Context, ref extract.ChapterRef) (*extract.ChapterResult, bool, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if m.fail[ref.ID] {
		return nil, false, errors.New("fetch failed")
	}
	return &extract.ChapterResult{ChapterID: ref.ID, URL: ref.URL}, ref.ID == "01", nil
}

func refs(ids ...string) []extract.ChapterRef {
	out := make([]extract.ChapterRef, len(ids))
	for i, id := range ids {
		out[i] = extract.ChapterRef{ID: id, URL: "http://tariff.example/ch" + id}
	}
	return out
}

func TestBatchProcessor_ProcessChapters(t *testing.T) {
	processor := NewBatchProcessor(&mockProcessor{fail: map[string]bool{"03": true}}, 2)

	outcomes := processor.ProcessChapters(context.Background(), refs("01", "02", "03", "04"))
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Ref.ID < outcomes[j].Ref.ID })
	for _, o := range outcomes {
		switch o.Ref.ID {
		case "03":
			if o.GetError() == nil || o.Result != nil {
				t.Errorf("expected failure for chapter 03, got %+v", o)
			}
		default:
			if o.GetError() != nil {
				t.Errorf("unexpected error for %s: %v", o.Ref.ID, o.Error)
			}
			if o.Result == nil || o.Result.ChapterID != o.Ref.ID {
				t.Errorf("missing result for %s", o.Ref.ID)
			}
		}
	}
	if !outcomes[0].Reused || outcomes[1].Reused {
		t.Errorf("reuse flag not carried through")
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockProcessor{}, 2)
	if outcomes := processor.ProcessChapters(context.Background(), nil); len(outcomes) != 0 {
		t.Errorf("expected 0 outcomes, got %d", len(outcomes))
	}
}

func TestBatchProcessor_CancelledRunReportsEveryChapter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processor := NewBatchProcessor(&mockProcessor{delay: time.Second}, 2)
	outcomes := processor.ProcessChapters(ctx, refs("01", "02", "03", "04", "05", "06"))
	if len(outcomes) != 6 {
		t.Fatalf("expected 6 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !errors.Is(o.GetError(), context.Canceled) {
			t.Errorf("chapter %s: expected context.Canceled, got %v", o.Ref.ID, o.Error)
		}
	}
}
