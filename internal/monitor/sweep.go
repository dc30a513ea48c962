package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"linkvault/internal/models"
	"linkvault/internal/plans"
)

// Enqueuer hands a single check to the worker pool.
type Enqueuer interface {
	EnqueueCheck(ctx context.Context, linkID uint, checkType string) error
}

// DueLinks returns up to one batch of archived links on tier whose most
// recent checkType observation is older than the tier's cadence. Tiers
// without that kind of monitoring have nothing due.
func (m *Monitor) DueLinks(ctx context.Context, tier, checkType string, now time.Time) ([]models.Link, error) {
	cadence, ok := plans.For(tier).Cadence(checkType)
	if !ok {
		return nil, nil
	}
	cutoff := now.UTC().Add(-cadence)

	recent := m.db.Model(&models.IntegrityCheck{}).
		Select("1").
		Where("integrity_checks.link_id = links.id AND integrity_checks.check_type = ? AND integrity_checks.checked_at >= ?", checkType, cutoff)

	var links []models.Link
	err := m.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.id = links.account_id AND accounts.deleted_at IS NULL").
		Where("accounts.plan = ? AND links.status = ?", tier, models.LinkArchived).
		Where("NOT EXISTS (?)", recent).
		Order("links.id").
		Limit(m.cfg.BatchSize).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("select due %s links for %s: %w", checkType, tier, err)
	}
	return links, nil
}

// Sweep enqueues one check per due link and returns how many were queued.
func (m *Monitor) Sweep(ctx context.Context, tier, checkType string, now time.Time, enq Enqueuer) (int, error) {
	links, err := m.DueLinks(ctx, tier, checkType, now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, link := range links {
		if err := enq.EnqueueCheck(ctx, link.ID, checkType); err != nil {
			slog.Error("Failed to enqueue integrity check", "link_id", link.ID, "type", checkType, "error", err)
			continue
		}
		queued++
	}
	if len(links) > 0 {
		slog.Info("Integrity sweep scheduled checks", "tier", tier, "type", checkType, "due", len(links), "queued", queued)
	}
	return queued, nil
}

// Run performs the check of checkType for one link.
func (m *Monitor) Run(ctx context.Context, linkID uint, checkType string) (*models.IntegrityCheck, error) {
	var link models.Link
	if err := m.db.WithContext(ctx).First(&link, linkID).Error; err != nil {
		return nil, fmt.Errorf("load link %d: %w", linkID, err)
	}
	switch checkType {
	case models.CheckLiveness:
		return m.CheckLiveness(ctx, &link)
	case models.CheckContentDiff:
		return m.CheckContent(ctx, &link)
	}
	return nil, fmt.Errorf("unknown check type %q", checkType)
}
