package oplog_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/printpipe/dbopen"
	"github.com/hazyhaar/printpipe/oplog"
)

func newTestLogger(t *testing.T) *oplog.Logger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(oplog.Schema))
	return oplog.New(db, slog.New(slog.DiscardHandler))
}

func TestRecordAndRecent(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, oplog.Event{
		Kind:            "html",
		Success:         true,
		BytesIn:         1024,
		BytesOut:        4096,
		ImagesConverted: 2,
		NotesCount:      3,
		Duration:        1500 * time.Millisecond,
	})
	l.Record(ctx, oplog.Event{
		Kind:     "html-with-attachments",
		Success:  false,
		BytesIn:  512,
		Duration: 200 * time.Millisecond,
		Error:    "render timeout",
	})

	events, err := l.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.ID == "" {
			t.Error("event missing generated ID")
		}
	}
}

func TestRecentFilterByKind(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, oplog.Event{Kind: "html", Success: true})
	l.Record(ctx, oplog.Event{Kind: "html", Success: true})
	l.Record(ctx, oplog.Event{Kind: "html-with-attachments", Success: true})

	events, err := l.Recent(ctx, "html", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Kind != "html" {
			t.Errorf("unexpected kind %q", ev.Kind)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(ctx, oplog.Event{Kind: "html", Success: true})
	}
	events, err := l.Recent(ctx, "", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}

func TestRecordRoundTripFields(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, oplog.Event{
		ID:              "fixed-id",
		Kind:            "html",
		Success:         false,
		BytesIn:         100,
		BytesOut:        0,
		ImagesConverted: 1,
		ImagesFailed:    2,
		NotesCount:      4,
		Attachments:     5,
		Duration:        2500 * time.Millisecond,
		Error:           "boom",
	})

	events, err := l.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "fixed-id" || ev.Success || ev.BytesIn != 100 ||
		ev.ImagesConverted != 1 || ev.ImagesFailed != 2 ||
		ev.NotesCount != 4 || ev.Attachments != 5 ||
		ev.Duration != 2500*time.Millisecond || ev.Error != "boom" {
		t.Errorf("round trip mismatch: %+v", ev)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCleanup(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	l.Record(ctx, oplog.Event{Kind: "html", Success: true})

	// Recent rows survive a 7 day retention.
	n, err := l.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d rows, want 0", n)
	}

	// Disabled retention is a no-op.
	if n, err := l.Cleanup(ctx, 0); err != nil || n != 0 {
		t.Errorf("disabled cleanup: n=%d err=%v", n, err)
	}
}
