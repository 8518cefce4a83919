package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string) Run {
	return Run{
		ID:               id,
		Input:            "Hello world",
		SourceLang:       "en",
		IntermediateLang: "ja",
		ProviderID:       "unofficial",
		Intermediate:     "こんにちは世界",
		Final:            "Hello world again",
		Duration:         1500 * time.Millisecond,
	}
}

func TestStore_New(t *testing.T) {
	s := newTestStore(t)
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_SaveAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, sampleRun("run-1")); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	r := runs[0]
	if r.ID != "run-1" {
		t.Errorf("unexpected ID %q", r.ID)
	}
	if r.Input != "Hello world" || r.Intermediate != "こんにちは世界" || r.Final != "Hello world again" {
		t.Errorf("round trip mangled the texts: %+v", r)
	}
	if r.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", r.Duration)
	}
	if r.Error != "" {
		t.Errorf("expected no error, got %q", r.Error)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestStore_ListRuns_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := sampleRun("run-" + string(rune('a'+i)))
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 3)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("expected 3 runs with limit, got %d", len(runs))
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok := sampleRun("ok-1")
	if err := s.SaveRun(ctx, ok); err != nil {
		t.Fatal(err)
	}
	failed := sampleRun("fail-1")
	failed.Error = "phase 2 failed: rate_limited: slow down"
	if err := s.SaveRun(ctx, failed); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalRuns != 2 {
		t.Errorf("expected 2 total runs, got %d", stats.TotalRuns)
	}
	if stats.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", stats.Succeeded)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.AvgDurationMs != 1500 {
		t.Errorf("expected avg duration 1500ms, got %f", stats.AvgDurationMs)
	}
}

func TestStore_ClearRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRun(ctx, sampleRun("run-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, sampleRun("run-2")); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearRuns(ctx)
	if err != nil {
		t.Fatalf("ClearRuns failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty journal, got %d runs", len(runs))
	}
}
