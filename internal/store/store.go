package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/devicetest/dltcos/internal/pipeline"
)

// Entry is a report together with the time it was stored.
type Entry struct {
	Report    *pipeline.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store, keyed by cell ID.
// A background goroutine (Run) periodically evicts entries older than the
// retention period. A zero retention keeps entries forever.
type Store struct {
	mu        sync.RWMutex
	data      map[string]*Entry
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given retention.
func New(retention time.Duration) *Store {
	return &Store{
		data:      make(map[string]*Entry),
		retention: retention,
		now:       time.Now,
	}
}

// Put stores or replaces the report for rep.CellID.
// Callers must not modify rep after calling Put.
func (s *Store) Put(rep *pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rep.CellID] = &Entry{
		Report:    rep,
		UpdatedAt: s.now(),
	}
}

// Get returns the Entry for the given cell and whether one was found.
// The entry may be past retention if it has not been evicted yet.
func (s *Store) Get(cellID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[cellID]
	return e, ok
}

// List returns the live entries ordered by cell ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.data))
	now := s.now()
	for _, e := range s.data {
		if s.live(e, now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Report.CellID < out[j].Report.CellID })
	return out
}

// Reports returns the reports of List, in the same order.
func (s *Store) Reports() []*pipeline.Report {
	entries := s.List()
	out := make([]*pipeline.Report, len(entries))
	for i, e := range entries {
		out[i] = e.Report
	}
	return out
}

// Count returns the total number of entries currently held, including expired ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) live(e *Entry, now time.Time) bool {
	return s.retention <= 0 || e.UpdatedAt.After(now.Add(-s.retention))
}

// Evict removes entries older than now minus the retention period and
// returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop, ticking at half the retention
// period (minimum 1 second). It blocks until ctx is cancelled and returns
// immediately when retention is disabled.
func (s *Store) Run(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	interval := s.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Info("store: evicted expired reports", "count", n)
			}
		}
	}
}
