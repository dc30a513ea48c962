package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"linkvault/internal/models"
	"linkvault/internal/monitor"
)

type LivenessCheckArgs struct {
	LinkID uint `json:"link_id"`
}

func (LivenessCheckArgs) Kind() string { return "liveness_check" }

type ContentCheckArgs struct {
	LinkID uint `json:"link_id"`
}

func (ContentCheckArgs) Kind() string { return "content_check" }

// IntegritySweepArgs selects one tier and check type to schedule.
type IntegritySweepArgs struct {
	Tier      string `json:"tier"`
	CheckType string `json:"check_type"`
}

func (IntegritySweepArgs) Kind() string { return "integrity_sweep" }

type LivenessCheckWorker struct {
	river.WorkerDefaults[LivenessCheckArgs]
	monitor *monitor.Monitor
}

func NewLivenessCheckWorker(m *monitor.Monitor) *LivenessCheckWorker {
	return &LivenessCheckWorker{monitor: m}
}

func (w *LivenessCheckWorker) Work(ctx context.Context, job *river.Job[LivenessCheckArgs]) error {
	return runCheck(ctx, w.monitor, job.ID, job.Args.LinkID, models.CheckLiveness)
}

type ContentCheckWorker struct {
	river.WorkerDefaults[ContentCheckArgs]
	monitor *monitor.Monitor
}

func NewContentCheckWorker(m *monitor.Monitor) *ContentCheckWorker {
	return &ContentCheckWorker{monitor: m}
}

func (w *ContentCheckWorker) Work(ctx context.Context, job *river.Job[ContentCheckArgs]) error {
	return runCheck(ctx, w.monitor, job.ID, job.Args.LinkID, models.CheckContentDiff)
}

func runCheck(ctx context.Context, m *monitor.Monitor, jobID int64, linkID uint, checkType string) error {
	logger := slog.With("worker", checkType, "job_id", jobID, "link_id", linkID)

	check, err := m.Run(ctx, linkID, checkType)
	if errors.Is(err, monitor.ErrNoSnapshot) {
		logger.Warn("Nothing archived to compare against")
		return river.JobCancel(err)
	}
	if err != nil {
		logger.Error("Integrity check failed", "error", err)
		return fmt.Errorf("%s check of link %d: %w", checkType, linkID, err)
	}
	logger.Debug("Integrity check recorded", "status", check.Status, "check_id", check.ID)
	return nil
}

// IntegritySweepWorker queues the checks that have come due for one tier.
type IntegritySweepWorker struct {
	river.WorkerDefaults[IntegritySweepArgs]
	monitor  *monitor.Monitor
	enqueuer monitor.Enqueuer
}

func NewIntegritySweepWorker(m *monitor.Monitor, enq monitor.Enqueuer) *IntegritySweepWorker {
	return &IntegritySweepWorker{monitor: m, enqueuer: enq}
}

func (w *IntegritySweepWorker) Work(ctx context.Context, job *river.Job[IntegritySweepArgs]) error {
	queued, err := w.monitor.Sweep(ctx, job.Args.Tier, job.Args.CheckType, time.Now(), w.enqueuer)
	if err != nil {
		return err
	}
	slog.Debug("Integrity sweep done", "tier", job.Args.Tier, "type", job.Args.CheckType, "queued", queued)
	return nil
}
