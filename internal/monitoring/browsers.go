// Package monitoring tracks headless browser usage so leaked Chromium
// processes show up in the health report and the log.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxChromeProcesses = 10
	maxImbalance       = 5
	maxGoroutines      = 1000
)

// BrowserStats is a point-in-time view of browser usage.
type BrowserStats struct {
	ChromeProcesses int       `json:"chrome_processes"`
	Goroutines      int       `json:"goroutines"`
	Launches        int64     `json:"launches"`
	Closes          int64     `json:"closes"`
	Active          int64     `json:"active"`
	LastUpdated     time.Time `json:"last_updated"`
	LeakDetected    bool      `json:"leak_detected"`
	LeakReason      string    `json:"leak_reason,omitempty"`
}

// BrowserTracker counts browser launches and closes and periodically
// samples the Chromium process count.
type BrowserTracker struct {
	launches atomic.Int64
	closes   atomic.Int64

	mu    sync.RWMutex
	stats BrowserStats

	countProcesses func() (int, error)
}

func NewBrowserTracker() *BrowserTracker {
	return &BrowserTracker{countProcesses: countChromeProcesses}
}

func (t *BrowserTracker) RecordLaunch() {
	n := t.launches.Add(1)
	slog.Debug("Browser launch recorded", "total_launches", n)
}

func (t *BrowserTracker) RecordClose() {
	n := t.closes.Add(1)
	slog.Debug("Browser close recorded", "total_closes", n)
}

// Stats returns the last sample with the counters brought up to date.
func (t *BrowserTracker) Stats() BrowserStats {
	t.mu.RLock()
	s := t.stats
	t.mu.RUnlock()

	s.Launches = t.launches.Load()
	s.Closes = t.closes.Load()
	s.Active = s.Launches - s.Closes
	return s
}

// Sample refreshes the process count and re-evaluates the leak heuristics.
func (t *BrowserTracker) Sample() BrowserStats {
	chrome, err := t.countProcesses()
	if err != nil {
		slog.Error("Failed to count Chrome processes", "error", err)
		chrome = -1
	}

	t.mu.Lock()
	t.stats = BrowserStats{
		ChromeProcesses: chrome,
		Goroutines:      runtime.NumGoroutine(),
		LastUpdated:     time.Now(),
	}
	t.mu.Unlock()

	s := t.Stats()
	s.LeakDetected, s.LeakReason = detectLeak(s)

	t.mu.Lock()
	t.stats.LeakDetected, t.stats.LeakReason = s.LeakDetected, s.LeakReason
	t.mu.Unlock()
	return s
}

func detectLeak(s BrowserStats) (bool, string) {
	switch {
	case s.ChromeProcesses > maxChromeProcesses:
		return true, fmt.Sprintf("high Chrome process count: %d", s.ChromeProcesses)
	case s.Active > maxImbalance:
		return true, fmt.Sprintf("launch/close imbalance: %d launches, %d closes", s.Launches, s.Closes)
	case s.Goroutines > maxGoroutines:
		return true, fmt.Sprintf("high goroutine count: %d", s.Goroutines)
	}
	return false, ""
}

// Run samples every interval until ctx is done.
func (t *BrowserTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Started browser metrics collection", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := t.Sample()
			if s.LeakDetected {
				slog.Warn("Browser leak detected",
					"reason", s.LeakReason,
					"chrome_processes", s.ChromeProcesses,
					"active", s.Active)
			}
		}
	}
}

func countChromeProcesses() (int, error) {
	out, err := exec.Command("pgrep", "-f", "chrome").Output()
	if err != nil {
		// pgrep exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return 0, nil
		}
		return 0, fmt.Errorf("pgrep: %w", err)
	}
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}
