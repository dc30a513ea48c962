package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"gorm.io/gorm"

	"linkvault/internal/models"
	"linkvault/internal/storage"
)

// DefaultCleanupAge is how old an incomplete capture must be before it is
// swept away.
const DefaultCleanupAge = 24 * time.Hour

type CaptureCleanupArgs struct {
	OlderThan time.Duration `json:"older_than"`
}

func (CaptureCleanupArgs) Kind() string { return "capture_cleanup" }

type CleanupWorker struct {
	river.WorkerDefaults[CaptureCleanupArgs]
	db    *gorm.DB
	store *storage.ArchiveStore
}

func NewCleanupWorker(db *gorm.DB, store *storage.ArchiveStore) *CleanupWorker {
	return &CleanupWorker{db: db, store: store}
}

func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CaptureCleanupArgs]) error {
	return w.RunCleanup(ctx, job.Args.OlderThan, time.Now())
}

// RunCleanup removes capture directories that never received a primary file
// and fails links whose capture has been pending for longer than olderThan.
func (w *CleanupWorker) RunCleanup(ctx context.Context, olderThan time.Duration, now time.Time) error {
	if olderThan <= 0 {
		olderThan = DefaultCleanupAge
	}
	slog.Info("Starting periodic capture cleanup", "older_than", olderThan)

	removed, err := w.store.CleanupIncomplete(olderThan, now)
	if err != nil {
		slog.Error("Failed to clean up incomplete captures", "error", err)
	} else if removed > 0 {
		slog.Info("Removed incomplete capture directories", "count", removed)
	}

	stale := w.db.WithContext(ctx).Model(&models.Link{}).
		Where("status = ? AND updated_at < ?", models.LinkPending, now.Add(-olderThan)).
		Updates(map[string]any{
			"status":      models.LinkFailed,
			"capture_log": gorm.Expr("COALESCE(capture_log, '') || ?", "\n\nMarked as failed during periodic cleanup - capture never completed ("+now.UTC().Format(time.RFC3339)+")"),
		})
	if stale.Error != nil {
		slog.Error("Failed to fail stale pending links", "error", stale.Error)
	} else if stale.RowsAffected > 0 {
		slog.Info("Failed stale pending links", "count", stale.RowsAffected)
	}

	slog.Info("Periodic cleanup completed", "directories", removed, "links", stale.RowsAffected)
	if err != nil {
		return err
	}
	return stale.Error
}
