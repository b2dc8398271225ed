package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func collect(t *testing.T, store *SQLiteStore, owner string) []ClipRecord {
	t.Helper()
	var out []ClipRecord
	for rec, err := range store.List(context.Background(), owner) {
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestAppendAndList(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	suggestion := "try X"
	id, err := store.Append(ctx, ClipRecord{
		OwnerID:       "u1",
		ClipKey:       "u1/video-a.webm",
		ClipRef:       "file:///clips/u1/video-a.webm",
		Transcript:    "hello",
		Sentiment:     "positive",
		CombinedLabel: "hello (positive).",
		Suggestion:    &suggestion,
		Timestamp:     base,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	if _, err := store.Append(ctx, ClipRecord{OwnerID: "u1", Transcript: "later", Timestamp: base.Add(time.Second)}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.Append(ctx, ClipRecord{OwnerID: "u2", Transcript: "other owner", Timestamp: base}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records := collect(t, store, "u1")
	if len(records) != 2 {
		t.Fatalf("expected 2 records for u1, got %d", len(records))
	}
	if records[0].Transcript != "later" {
		t.Fatalf("expected newest first, got %q", records[0].Transcript)
	}
	if records[0].Suggestion != nil {
		t.Fatalf("expected absent suggestion, got %q", *records[0].Suggestion)
	}

	got := records[1]
	if got.ID != id || got.ClipRef != "file:///clips/u1/video-a.webm" || got.CombinedLabel != "hello (positive)." {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Suggestion == nil || *got.Suggestion != "try X" {
		t.Fatalf("expected suggestion round trip, got %v", got.Suggestion)
	}
	if !got.Timestamp.Equal(base) {
		t.Fatalf("expected timestamp %s, got %s", base, got.Timestamp)
	}
}

func TestAppendRequiresOwner(t *testing.T) {
	store := newTestSQLiteStore(t)
	if _, err := store.Append(context.Background(), ClipRecord{}); err == nil {
		t.Fatal("expected error for missing owner")
	}
}

func TestListPagesAndRestarts(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	total := listPageSize*2 + 7
	for i := 0; i < total; i++ {
		// Pairs share a timestamp to exercise the id tiebreak across pages.
		ts := base.Add(time.Duration(i/2) * time.Millisecond)
		if _, err := store.Append(ctx, ClipRecord{OwnerID: "u1", Transcript: fmt.Sprint(i), Timestamp: ts}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	for pass := 0; pass < 2; pass++ {
		records := collect(t, store, "u1")
		if len(records) != total {
			t.Fatalf("pass %d: expected %d records, got %d", pass, total, len(records))
		}
		seen := make(map[string]bool, total)
		for i, rec := range records {
			if seen[rec.ID] {
				t.Fatalf("pass %d: duplicate record %s", pass, rec.ID)
			}
			seen[rec.ID] = true
			if i > 0 && rec.Timestamp.After(records[i-1].Timestamp) {
				t.Fatalf("pass %d: records out of order at %d", pass, i)
			}
		}
	}
}

func TestListStopsEarly(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, ClipRecord{OwnerID: "u1", Timestamp: time.Unix(int64(i), 0)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	n := 0
	for _, err := range store.List(ctx, "u1") {
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		n++
		break
	}
	if n != 1 {
		t.Fatalf("expected to stop after 1 record, got %d", n)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _ = store.Append(ctx, ClipRecord{
				OwnerID:    "u1",
				Transcript: fmt.Sprintf("clip-%d", idx),
				Timestamp:  base.Add(time.Duration(idx) * time.Second),
			})
			for range store.List(ctx, "u1") {
				break
			}
		}(i)
	}
	wg.Wait()

	if got := len(collect(t, store, "u1")); got != 20 {
		t.Fatalf("expected 20 records, got %d", got)
	}
}

func TestFormatTimestampIsFixedWidth(t *testing.T) {
	a := FormatTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := FormatTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 5, time.UTC))
	if len(a) != len(b) || !(a < b) {
		t.Fatalf("expected fixed-width ordered timestamps, got %q and %q", a, b)
	}
}
