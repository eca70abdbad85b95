// Package monitor samples host and agent-process health for the status
// surface: CPU usage, load average, and the agent's own CPU/RSS footprint.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

const snapshotCacheTTL = 2 * time.Second

// Snapshot is a point-in-time health sample. Fields that could not be read
// stay zero; collection is best-effort.
type Snapshot struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`

	Platform    string `json:"platform"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type Service struct {
	log  *slog.Logger
	self *process.Process

	mu      sync.Mutex
	hasSnap bool
	snap    Snapshot
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{log: log}
	// Best-effort; a nil self just leaves the process fields zero.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.self = p
	} else {
		log.Warn("monitor: resolve own process failed", "error", err)
	}
	return s
}

// Snapshot returns a sample, reusing the previous one when it is younger
// than the cache TTL. Status polling from the UI must not turn into a
// sampling loop.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	now := time.Now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(time.UnixMilli(s.snap.TimestampMs)) < snapshotCacheTTL {
		out := s.snap
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	snap := s.collect(ctx)

	s.mu.Lock()
	s.snap = snap
	s.hasSnap = true
	s.mu.Unlock()

	return snap
}

func (s *Service) collect(ctx context.Context) Snapshot {
	collectedAt := time.Now()
	snap := Snapshot{
		Platform:    runtime.GOOS,
		TimestampMs: collectedAt.UnixMilli(),
	}

	if usage, err := readCPUUsage(ctx); err == nil {
		snap.CPUUsage = usage
	} else {
		s.log.Warn("monitor: get cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = cores
	} else {
		s.log.Warn("monitor: get cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		snap.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Warn("monitor: get load average failed", "error", err)
	}

	if s.self != nil {
		if pct, err := s.self.CPUPercentWithContext(ctx); err == nil {
			snap.ProcessCPUPercent = pct
		}
		if mem, err := s.self.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			snap.ProcessRSSBytes = mem.RSS
		}
	}

	return snap
}

func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	// Non-blocking: compare against the last call. This avoids short-interval
	// sampling returning 0 on newer macOS versions due to coarse aggregated
	// tick updates.
	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	// Fallback: take a short blocking interval to bootstrap lastTimes if needed.
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
