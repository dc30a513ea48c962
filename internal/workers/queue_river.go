package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"linkvault/internal/models"
)

// Queue names
const (
	QueueArchive = "archive"
	QueueChecks  = "checks"
)

// RiverQueueManager handles River-based job queueing
type RiverQueueManager struct {
	RiverClient *river.Client[pgx.Tx]
}

// NewRiverQueueManager creates a new River queue manager. The client may be
// attached later, once workers that need the manager are registered.
func NewRiverQueueManager(riverClient *river.Client[pgx.Tx]) *RiverQueueManager {
	return &RiverQueueManager{RiverClient: riverClient}
}

func (rqm *RiverQueueManager) client() (*river.Client[pgx.Tx], error) {
	if rqm.RiverClient == nil {
		return nil, fmt.Errorf("river client not attached")
	}
	return rqm.RiverClient, nil
}

// EnqueueArchive queues the capture of an existing pending link.
func (rqm *RiverQueueManager) EnqueueArchive(ctx context.Context, linkID uint, requesterIP string) error {
	client, err := rqm.client()
	if err != nil {
		return err
	}
	opts := &river.InsertOpts{
		MaxAttempts: 1,
		Queue:       QueueArchive,
		Tags:        []string{"archive"},
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
	if _, err := client.Insert(ctx, ArchiveJobArgs{LinkID: linkID, RequesterIP: requesterIP}, opts); err != nil {
		slog.Error("Failed to enqueue archive job", "link_id", linkID, "error", err)
		return err
	}
	slog.Info("Queued archive job", "link_id", linkID)
	return nil
}

// CheckArgs builds the job payload for one integrity check.
func CheckArgs(linkID uint, checkType string) (river.JobArgs, error) {
	switch checkType {
	case models.CheckLiveness:
		return LivenessCheckArgs{LinkID: linkID}, nil
	case models.CheckContentDiff:
		return ContentCheckArgs{LinkID: linkID}, nil
	}
	return nil, fmt.Errorf("unknown check type %q", checkType)
}

// EnqueueCheck queues one integrity check. A check already queued for the
// same link within the last minute is not duplicated.
func (rqm *RiverQueueManager) EnqueueCheck(ctx context.Context, linkID uint, checkType string) error {
	client, err := rqm.client()
	if err != nil {
		return err
	}
	args, err := CheckArgs(linkID, checkType)
	if err != nil {
		return err
	}
	opts := &river.InsertOpts{
		MaxAttempts: 3,
		Queue:       QueueChecks,
		Tags:        []string{"integrity", checkType},
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Minute,
		},
	}
	_, err = client.Insert(ctx, args, opts)
	return err
}

// EnqueueSweep queues an immediate sweep, outside the periodic schedule.
func (rqm *RiverQueueManager) EnqueueSweep(ctx context.Context, tier, checkType string) error {
	client, err := rqm.client()
	if err != nil {
		return err
	}
	_, err = client.Insert(ctx, IntegritySweepArgs{Tier: tier, CheckType: checkType}, &river.InsertOpts{Queue: QueueChecks})
	return err
}
