package pipeline

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ppiankov/tariffscope/internal/cache"
	"github.com/ppiankov/tariffscope/internal/extract"
)

// ChangeDetector remembers the content hash of each chapter page together
// with its parse, so an unchanged page is not parsed again
type ChangeDetector struct {
	cache cache.Cache
	ttl   time.Duration
}

type cachedChapter struct {
	Hash   string                 `json:"hash"`
	Result *extract.ChapterResult `json:"result"`
}

// NewChangeDetector creates a detector over c; ttl zero uses the cache default
func NewChangeDetector(c cache.Cache, ttl time.Duration) *ChangeDetector {
	return &ChangeDetector{cache: c, ttl: ttl}
}

// Unchanged returns the remembered parse of ref when its page still hashes
// to hash
func (d *ChangeDetector) Unchanged(ref extract.ChapterRef, hash string) (*extract.ChapterResult, bool) {
	raw, ok := d.cache.Get(chapterKey(ref))
	if !ok {
		return nil, false
	}
	var entry cachedChapter
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Result == nil {
		slog.Debug("discarding unreadable chapter cache entry", "chapter", ref.ID, "url", ref.URL)
		return nil, false
	}
	if entry.Hash != hash {
		return nil, false
	}
	return entry.Result, true
}

// Remember stores the parse of ref under the page hash
func (d *ChangeDetector) Remember(ref extract.ChapterRef, hash string, result *extract.ChapterResult) error {
	raw, err := json.Marshal(cachedChapter{Hash: hash, Result: result})
	if err != nil {
		return err
	}
	return d.cache.Set(chapterKey(ref), raw, d.ttl)
}

func chapterKey(ref extract.ChapterRef) string {
	return cache.Key("chapter", ref.SectionID+"|"+ref.ID+"|"+ref.URL)
}
