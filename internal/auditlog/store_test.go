package auditlog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, maxBytes int64) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		StateDir: dir,
		MaxBytes: maxBytes,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, 0)
	s.Append(Entry{Kind: "generation_result", ConversationID: "conv-1"})
	s.Append(Entry{Kind: "adapter_breaker_open", Status: "failure", Error: "context unavailable"})

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != "adapter_breaker_open" || got[1].Kind != "generation_result" {
		t.Fatalf("order = %q, %q", got[0].Kind, got[1].Kind)
	}
	if got[0].Status != "failure" {
		t.Fatalf("status = %q, want failure", got[0].Status)
	}
	// Defaults filled in on append.
	if got[1].Status != "success" || got[1].CreatedAt == "" {
		t.Fatalf("defaults missing: %+v", got[1])
	}
}

func TestRotationKeepsBackupsAndHistory(t *testing.T) {
	t.Parallel()

	// Tiny threshold so every append rotates.
	s, dir := newTestStore(t, 64)
	for i := 0; i < 10; i++ {
		s.Append(Entry{Kind: "generation_result", ConversationID: strings.Repeat("x", 80)})
	}

	ents, err := os.ReadDir(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	rotated := 0
	for _, ent := range ents {
		if strings.HasPrefix(ent.Name(), "events-") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Fatalf("no rotated files produced")
	}
	if rotated > defaultMaxBackups {
		t.Fatalf("rotated files = %d, want <= %d", rotated, defaultMaxBackups)
	}

	// List spans the active file and backups.
	got, err := s.List(1000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("no entries listed after rotation")
	}
}

func TestListToleratesCorruptLines(t *testing.T) {
	t.Parallel()

	s, dir := newTestStore(t, 0)
	s.Append(Entry{Kind: "generation_result"})

	path := filepath.Join(dir, "audit", "events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json}\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()
	s.Append(Entry{Kind: "adapter_breaker_closed"})

	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (corrupt line skipped)", len(got))
	}
}

func TestNewRequiresStateDir(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing StateDir")
	}
}
