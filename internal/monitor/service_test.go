package monitor

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"testing"
)

func TestSnapshotBasics(t *testing.T) {
	t.Parallel()

	s := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	snap := s.Snapshot(context.Background())

	if snap.Platform != runtime.GOOS {
		t.Fatalf("platform = %q, want %q", snap.Platform, runtime.GOOS)
	}
	if snap.TimestampMs <= 0 {
		t.Fatalf("timestamp = %d, want > 0", snap.TimestampMs)
	}
	if snap.CPUCores <= 0 {
		t.Fatalf("cpu cores = %d, want > 0", snap.CPUCores)
	}
}

func TestSnapshotIsCached(t *testing.T) {
	t.Parallel()

	s := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)))
	first := s.Snapshot(context.Background())
	second := s.Snapshot(context.Background())

	// Within the TTL the same sample is reused.
	if first.TimestampMs != second.TimestampMs {
		t.Fatalf("snapshot resampled within cache TTL: %d != %d", first.TimestampMs, second.TimestampMs)
	}
}

func TestAverage(t *testing.T) {
	t.Parallel()

	if got := average(nil); got != 0 {
		t.Fatalf("average(nil) = %v, want 0", got)
	}
	if got := average([]float64{1, 2, 3}); got != 2 {
		t.Fatalf("average = %v, want 2", got)
	}
}
