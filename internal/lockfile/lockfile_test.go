package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	path := DefaultPath(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := Acquire(path); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyLocked", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Released locks can be taken again.
	l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer func() { _ = l2.Release() }()
}

func TestLockFileCarriesPid(t *testing.T) {
	t.Parallel()

	path := DefaultPath(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = l.Release() }()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file pid = %q, want %d", strings.TrimSpace(string(b)), os.Getpid())
	}
}

func TestAcquireRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Acquire(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	got := DefaultPath(filepath.Join("home", ".replypilot"))
	want := filepath.Join("home", ".replypilot", "agent.lock")
	if got != want {
		t.Fatalf("DefaultPath = %q, want %q", got, want)
	}
}
