package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/devicetest/dltcos/internal/pipeline"
)

func rep(cell string) *pipeline.Report {
	return &pipeline.Report{CellID: cell, BatchID: "batch-" + cell}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := New(time.Hour)
	st.Put(rep("CEL01"))

	e, ok := st.Get("CEL01")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Report.BatchID != "batch-CEL01" {
		t.Errorf("BatchID: got %q, want batch-CEL01", e.Report.BatchID)
	}
	if _, ok := st.Get("unknown"); ok {
		t.Error("Get(unknown): expected false")
	}
}

func TestPut_ReplacesCell(t *testing.T) {
	st := New(time.Hour)
	st.Put(&pipeline.Report{CellID: "CEL01", BatchID: "first"})
	st.Put(&pipeline.Report{CellID: "CEL01", BatchID: "second"})

	e, _ := st.Get("CEL01")
	if e.Report.BatchID != "second" {
		t.Errorf("BatchID: got %q, want second", e.Report.BatchID)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestList_SortedAndExcludesExpired(t *testing.T) {
	base := time.Now()
	st := New(time.Hour)

	st.now = fixedClock(base.Add(-2 * time.Hour))
	st.Put(rep("CEL09"))

	st.now = fixedClock(base)
	st.Put(rep("CEL03"))
	st.Put(rep("CEL01"))

	entries := st.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].Report.CellID != "CEL01" || entries[1].Report.CellID != "CEL03" {
		t.Errorf("List order: %s, %s", entries[0].Report.CellID, entries[1].Report.CellID)
	}
	if reps := st.Reports(); len(reps) != 2 || reps[0].CellID != "CEL01" {
		t.Errorf("Reports = %v", reps)
	}
	if st.Count() != 3 {
		t.Errorf("Count includes expired: got %d, want 3", st.Count())
	}
}

func TestEvict(t *testing.T) {
	base := time.Now()
	st := New(time.Hour)

	st.now = fixedClock(base.Add(-2 * time.Hour))
	st.Put(rep("old1"))
	st.Put(rep("old2"))

	st.now = fixedClock(base)
	st.Put(rep("live"))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
	if removed := st.Evict(base); removed != 0 {
		t.Errorf("second Evict: removed %d, want 0", removed)
	}
}

func TestZeroRetention_KeepsEverything(t *testing.T) {
	base := time.Now()
	st := New(0)
	st.now = fixedClock(base.Add(-365 * 24 * time.Hour))
	st.Put(rep("ancient"))

	if removed := st.Evict(base); removed != 0 {
		t.Errorf("Evict with zero retention removed %d", removed)
	}
	st.now = fixedClock(base)
	if len(st.List()) != 1 {
		t.Error("List with zero retention dropped an entry")
	}

	// Run returns immediately when eviction is disabled.
	done := make(chan struct{})
	go func() { st.Run(context.Background()); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return with zero retention")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(time.Hour)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			st.Put(rep(fmt.Sprintf("CEL%02d", n%5)))
		}(i)
		go func() {
			defer wg.Done()
			st.List()
		}()
		go func() {
			defer wg.Done()
			st.Evict(time.Now())
		}()
	}
	wg.Wait()

	if st.Count() != 5 {
		t.Errorf("Count after concurrent puts: got %d, want 5", st.Count())
	}
}
