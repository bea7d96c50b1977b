package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zonegate/pkg/config"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	cfg := &config.StorageConfig{
		Enabled:      true,
		DatabasePath: filepath.Join(t.TempDir(), "decisions.db"),
		BufferSize:   100,
		BusyTimeout:  5000,
		WALMode:      true,
	}

	s, err := NewSQLiteStorage(cfg, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s.(*SQLiteStorage)
}

func TestLogDecisionAndRecent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	decisions := []*Decision{
		{Host: "tracker.a.com", Root: "a.com", Blocked: true, Source: SourceEvaluated, DurationMs: 42.5},
		{Host: "cdn.a.com", Root: "a.com", Blocked: false, Source: SourcePolicy, Rule: "pin-cdn", DurationMs: 0.1},
	}
	for _, d := range decisions {
		if err := s.LogDecision(ctx, d); err != nil {
			t.Fatalf("LogDecision() failed: %v", err)
		}
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	got, err := s.RecentDecisions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("RecentDecisions() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentDecisions() returned %d rows, want 2", len(got))
	}

	byHost := map[string]*Decision{}
	for _, d := range got {
		byHost[d.Host] = d
	}

	tracker := byHost["tracker.a.com"]
	if tracker == nil || !tracker.Blocked || tracker.Source != SourceEvaluated {
		t.Errorf("tracker.a.com row = %+v, want blocked evaluated decision", tracker)
	}
	cdn := byHost["cdn.a.com"]
	if cdn == nil || cdn.Blocked || cdn.Rule != "pin-cdn" {
		t.Errorf("cdn.a.com row = %+v, want allowed policy decision with rule", cdn)
	}
}

func TestDecisionsByHost(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = s.LogDecision(ctx, &Decision{Host: "x.a.com", Root: "a.com", Blocked: true, Source: SourceVerdict})
	}
	_ = s.LogDecision(ctx, &Decision{Host: "y.a.com", Root: "a.com", Blocked: false, Source: SourceVerdict})

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	got, err := s.DecisionsByHost(ctx, "x.a.com", 10)
	if err != nil {
		t.Fatalf("DecisionsByHost() failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("DecisionsByHost() returned %d rows, want 3", len(got))
	}
}

func TestStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_ = s.LogDecision(ctx, &Decision{Host: "a.a.com", Root: "a.com", Blocked: true, Source: SourceEvaluated, DurationMs: 10})
	_ = s.LogDecision(ctx, &Decision{Host: "b.a.com", Root: "a.com", Blocked: false, Source: SourceEvaluated, DurationMs: 20})
	_ = s.LogDecision(ctx, &Decision{Host: "a.a.com", Root: "a.com", Blocked: true, Source: SourceVerdict, DurationMs: 0})

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	stats, err := s.Stats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	if stats.TotalDecisions != 3 {
		t.Errorf("TotalDecisions = %d, want 3", stats.TotalDecisions)
	}
	if stats.Blocked != 2 {
		t.Errorf("Blocked = %d, want 2", stats.Blocked)
	}
	if stats.UniqueHosts != 2 {
		t.Errorf("UniqueHosts = %d, want 2", stats.UniqueHosts)
	}
	if stats.BySource[SourceEvaluated] != 2 || stats.BySource[SourceVerdict] != 1 {
		t.Errorf("BySource = %v, want evaluated=2 verdict=1", stats.BySource)
	}
	if stats.BlockRate < 66 || stats.BlockRate > 67 {
		t.Errorf("BlockRate = %f, want ~66.7", stats.BlockRate)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := &Decision{
		Host: "old.a.com", Root: "a.com", Blocked: true,
		Source: SourceEvaluated, Timestamp: time.Now().Add(-48 * time.Hour),
	}
	fresh := &Decision{Host: "fresh.a.com", Root: "a.com", Blocked: false, Source: SourceEvaluated}

	_ = s.LogDecision(ctx, old)
	_ = s.LogDecision(ctx, fresh)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	if err := s.Cleanup(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	got, err := s.RecentDecisions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("RecentDecisions() failed: %v", err)
	}
	if len(got) != 1 || got[0].Host != "fresh.a.com" {
		t.Errorf("after Cleanup() rows = %+v, want only fresh.a.com", got)
	}
}

type droppedCounter struct {
	count int64
}

func (d *droppedCounter) AddDroppedDecision(ctx context.Context, count int64) {
	d.count += count
}

func TestBufferFullDropsAndCounts(t *testing.T) {
	cfg := &config.StorageConfig{
		Enabled:      true,
		DatabasePath: filepath.Join(t.TempDir(), "decisions.db"),
		BufferSize:   1,
		BusyTimeout:  5000,
	}

	counter := &droppedCounter{}
	raw, err := NewSQLiteStorage(cfg, counter)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() failed: %v", err)
	}
	s := raw.(*SQLiteStorage)
	t.Cleanup(func() { _ = s.Close() })

	// Write faster than the flush worker drains a size-1 buffer
	ctx := context.Background()
	dropped := 0
	for i := 0; i < 50; i++ {
		if err := s.LogDecision(ctx, &Decision{Host: "h.a.com", Root: "a.com", Source: SourceVerdict}); err == ErrBufferFull {
			dropped++
		}
	}

	if dropped == 0 {
		t.Skip("worker drained fast enough that nothing dropped")
	}
	if counter.count != int64(dropped) {
		t.Errorf("dropped metric = %d, want %d", counter.count, dropped)
	}
}

func TestClosedStorageRejectsWrites(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := s.LogDecision(context.Background(), &Decision{Host: "h.a.com"}); err != ErrClosed {
		t.Errorf("LogDecision() after Close() = %v, want ErrClosed", err)
	}
	if err := s.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping() after Close() = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestNewDisabledReturnsNoOp(t *testing.T) {
	s, err := New(&config.StorageConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, ok := s.(*NoOpStorage); !ok {
		t.Errorf("New() with disabled config = %T, want *NoOpStorage", s)
	}

	if err := s.LogDecision(context.Background(), &Decision{Host: "h"}); err != nil {
		t.Errorf("NoOp LogDecision() = %v, want nil", err)
	}
}
