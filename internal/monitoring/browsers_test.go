package monitoring

import (
	"errors"
	"strings"
	"testing"
)

func TestBrowserTrackerCounts(t *testing.T) {
	tr := NewBrowserTracker()
	tr.countProcesses = func() (int, error) { return 2, nil }

	tr.RecordLaunch()
	tr.RecordLaunch()
	tr.RecordClose()

	s := tr.Sample()
	if s.Launches != 2 || s.Closes != 1 || s.Active != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
	if s.ChromeProcesses != 2 || s.LeakDetected {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestBrowserTrackerLeaks(t *testing.T) {
	tests := []struct {
		name     string
		procs    int
		launches int
		want     string
	}{
		{"too many processes", 11, 0, "process count"},
		{"unclosed browsers", 0, 6, "imbalance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewBrowserTracker()
			tr.countProcesses = func() (int, error) { return tt.procs, nil }
			for i := 0; i < tt.launches; i++ {
				tr.RecordLaunch()
			}
			s := tr.Sample()
			if !s.LeakDetected || !strings.Contains(s.LeakReason, tt.want) {
				t.Errorf("expected leak %q, got %+v", tt.want, s)
			}
			if !tr.Stats().LeakDetected {
				t.Error("leak should persist until the next sample")
			}
		})
	}
}

func TestBrowserTrackerCountError(t *testing.T) {
	tr := NewBrowserTracker()
	tr.countProcesses = func() (int, error) { return 0, errors.New("no pgrep") }
	if s := tr.Sample(); s.ChromeProcesses != -1 {
		t.Errorf("expected -1 on count failure, got %d", s.ChromeProcesses)
	}
}
