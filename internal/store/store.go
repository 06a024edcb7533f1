package store

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrNoSnapshot is returned by Current before anything was published
	ErrNoSnapshot = errors.New("no classification snapshot has been published")

	// ErrRunInProgress is returned by BeginRun while another run holds the store
	ErrRunInProgress = errors.New("an extraction run is already in progress")
)

// Store serves the currently published snapshot to readers and serializes
// extraction runs. Readers never block: publication is a single pointer swap.
type Store struct {
	current atomic.Pointer[Snapshot]
	run     sync.Mutex
}

// New creates an empty store
func New() *Store {
	return &Store{}
}

// Current returns the published snapshot
func (s *Store) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// Publish makes snap visible to readers. It reports false and leaves the
// store untouched when snap has the same version as the current snapshot.
func (s *Store) Publish(snap *Snapshot) bool {
	for {
		old := s.current.Load()
		if old != nil && old.Version() == snap.Version() {
			slog.Debug("snapshot unchanged, skipping publish", "version", snap.Version())
			return false
		}
		if s.current.CompareAndSwap(old, snap) {
			slog.Info("snapshot published", "version", snap.Version(), "codes", len(snap.data.Codes))
			return true
		}
	}
}

// BeginRun claims the store for one extraction run. The returned release
// function must be called when the run ends.
func (s *Store) BeginRun() (func(), error) {
	if !s.run.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(s.run.Unlock) }, nil
}
