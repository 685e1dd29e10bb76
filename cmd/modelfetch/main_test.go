package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"modelfetch/internal/store"
)

func TestJournalHooks_RecordsLoadResults(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	h := &journalHooks{st: st}
	h.OnLoadResult("ranker", "network", "failure", 1, 250*time.Millisecond, "connection refused")
	h.OnLoadResult("ranker", "network", "success", 2, 100*time.Millisecond, "")

	recs, err := st.RecentLoads(context.Background(), "ranker", 10)
	if err != nil {
		t.Fatalf("RecentLoads failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 journal rows, got %d", len(recs))
	}
	if recs[0].Outcome != "success" || recs[0].Attempt != 2 {
		t.Fatalf("unexpected newest row: %+v", recs[0])
	}
	if recs[1].ErrorMessage != "connection refused" {
		t.Fatalf("expected error message persisted, got %q", recs[1].ErrorMessage)
	}
}

func TestJournalHooks_SwallowsShutdownErrors(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_ = st.Close()

	// Writing to a closed journal must not panic; the error is expected
	// during shutdown.
	h := &journalHooks{st: st}
	h.OnLoadResult("ranker", "cache", "miss", 0, time.Millisecond, "cache_not_found")
}

func TestIsExpectedError(t *testing.T) {
	h := &journalHooks{}

	for _, msg := range []string{
		"sql: database is closed",
		"context deadline exceeded",
		"context canceled",
	} {
		if !h.isExpectedError(errors.New(msg)) {
			t.Errorf("expected %q to be treated as expected", msg)
		}
	}
	if h.isExpectedError(nil) {
		t.Error("nil must not be expected")
	}
	if h.isExpectedError(errors.New("disk I/O error")) {
		t.Error("real failures must not be swallowed")
	}
}
