package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"linkvault/internal/pipeline"
	"linkvault/internal/service"
)

// ArchiveJobArgs is the payload of a queued capture. The link record
// already exists in pending state.
type ArchiveJobArgs struct {
	LinkID      uint   `json:"link_id"`
	RequesterIP string `json:"requester_ip,omitempty"`
}

// Kind returns the job kind for River
func (ArchiveJobArgs) Kind() string { return "archive" }

// ArchiveWorker runs the capture pipeline for one link.
type ArchiveWorker struct {
	river.WorkerDefaults[ArchiveJobArgs]
	svc *service.Service
}

func NewArchiveWorker(svc *service.Service) *ArchiveWorker {
	return &ArchiveWorker{svc: svc}
}

// Work captures the link. The pipeline retries internally, so a failed
// capture is final; rejected requests are recorded on the link and the job
// completes.
func (w *ArchiveWorker) Work(ctx context.Context, job *river.Job[ArchiveJobArgs]) error {
	logger := slog.With(
		"worker", "archive",
		"job_id", job.ID,
		"attempt", job.Attempt,
		"link_id", job.Args.LinkID,
	)
	logger.Info("Processing archive job")

	res, err := w.svc.Capture(ctx, job.Args.LinkID, job.Args.RequesterIP)
	if errors.Is(err, service.ErrLinkNotFound) {
		logger.Warn("Link vanished before capture")
		return river.JobCancel(err)
	}
	if err != nil {
		if res.Outcome == pipeline.OutcomeRejected {
			logger.Info("Capture rejected", "error", err)
			return nil
		}
		logger.Error("Capture failed", "error", err)
		return fmt.Errorf("capture link %d: %w", job.Args.LinkID, err)
	}

	logger.Info("Archive job completed",
		"outcome", res.Outcome,
		"method", res.Method,
		"storage_key", res.Snapshot.StorageKey,
		"duplicate", res.Snapshot.WasDuplicate)
	return nil
}
