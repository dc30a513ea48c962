// Package service ties link records to the archive pipeline and answers the
// read-side queries of the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"linkvault/internal/models"
	"linkvault/internal/pipeline"
	"linkvault/internal/plans"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrShortcodeUsed = errors.New("shortcode already in use")
)

const (
	shortcodeAttempts = 5
	defaultCheckLimit = 50
	maxCheckLimit     = 500
)

// ArchiveEnqueuer hands a pending link to the background capture queue.
type ArchiveEnqueuer interface {
	EnqueueArchive(ctx context.Context, linkID uint, requesterIP string) error
}

type Service struct {
	db          *gorm.DB
	pipeline    *pipeline.Pipeline
	validateURL func(string) error
	now         func() time.Time
}

func New(db *gorm.DB, p *pipeline.Pipeline) *Service {
	return &Service{
		db:          db,
		pipeline:    p,
		validateURL: utils.ValidateURL,
		now:         time.Now,
	}
}

// SetURLValidator replaces the target URL policy.
func (s *Service) SetURLValidator(fn func(string) error) {
	s.validateURL = fn
}

// SetClock replaces the time source used for quota windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Store() *storage.ArchiveStore {
	return s.pipeline.Store()
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CreateLink validates req, charges it against the account's monthly quota
// and inserts the pending link record.
func (s *Service) CreateLink(ctx context.Context, req utils.ArchiveRequest) (*models.Link, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrValidation, err)
	}
	if err := s.validateURL(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrValidation, err)
	}
	if req.Method == "" {
		req.Method = "singlefile"
	}

	var link *models.Link
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.First(&account, req.AccountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: account %d does not exist", pipeline.ErrValidation, req.AccountID)
			}
			return fmt.Errorf("load account %d: %w", req.AccountID, err)
		}
		profile := plans.For(account.Plan)

		var used int64
		if err := tx.Model(&models.Link{}).
			Where("account_id = ? AND created_at >= ? AND status NOT IN ?", account.ID, monthStart(s.now()),
				[]string{models.LinkRejected, models.LinkFailed}).
			Count(&used).Error; err != nil {
			return fmt.Errorf("count monthly links: %w", err)
		}
		if used >= profile.MonthlyCreationLimit {
			return fmt.Errorf("%w: %d of %d used on the %s plan", pipeline.ErrQuotaExceeded, used, profile.MonthlyCreationLimit, profile.Tier)
		}

		shortcode, err := s.pickShortcode(tx, req.Shortcode, profile)
		if err != nil {
			return err
		}

		link = &models.Link{
			Shortcode: shortcode,
			URL:       req.URL,
			AccountID: account.ID,
			Method:    req.Method,
			Status:    models.LinkPending,
		}
		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		link.Account = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Created link", "shortcode", link.Shortcode, "url", link.URL, "method", link.Method, "plan", link.Account.Plan)
	return link, nil
}

func (s *Service) pickShortcode(tx *gorm.DB, requested string, profile plans.Profile) (string, error) {
	minLength := profile.MinIdentifierLength
	taken := func(code string) (bool, error) {
		var n int64
		err := tx.Model(&models.Link{}).Unscoped().Where("shortcode = ?", code).Count(&n).Error
		return n > 0, err
	}

	if requested != "" {
		if !profile.CustomIdentifiers {
			return "", fmt.Errorf("%w: custom shortcodes are not available on the %s plan", pipeline.ErrValidation, profile.Tier)
		}
		if len(requested) < minLength {
			return "", fmt.Errorf("%w: shortcode must be at least %d characters on this plan", pipeline.ErrValidation, minLength)
		}
		used, err := taken(requested)
		if err != nil {
			return "", fmt.Errorf("check shortcode: %w", err)
		}
		if used {
			return "", fmt.Errorf("%w: %w", pipeline.ErrValidation, ErrShortcodeUsed)
		}
		return requested, nil
	}

	for i := 0; i < shortcodeAttempts; i++ {
		code := utils.GenerateShortcode(minLength)
		used, err := taken(code)
		if err != nil {
			return "", fmt.Errorf("check shortcode: %w", err)
		}
		if !used {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free shortcode of length %d after %d attempts", minLength, shortcodeAttempts)
}

// CreateArchive creates the link and captures it synchronously.
func (s *Service) CreateArchive(ctx context.Context, req utils.ArchiveRequest, requesterIP string) (*models.Link, *pipeline.Result, error) {
	link, err := s.CreateLink(ctx, req)
	if err != nil {
		return nil, &pipeline.Result{Outcome: pipeline.OutcomeOf(err)}, err
	}
	res, err := s.Capture(ctx, link.ID, requesterIP)
	return link, res, err
}

// EnqueueArchive creates the link and leaves the capture to the queue. The
// link is marked failed if it cannot be queued.
func (s *Service) EnqueueArchive(ctx context.Context, req utils.ArchiveRequest, requesterIP string, q ArchiveEnqueuer) (*models.Link, error) {
	link, err := s.CreateLink(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := q.EnqueueArchive(ctx, link.ID, requesterIP); err != nil {
		s.db.WithContext(ctx).Model(link).Update("status", models.LinkFailed)
		return nil, fmt.Errorf("enqueue capture of %s: %w", link.Shortcode, err)
	}
	return link, nil
}

// Capture runs the pipeline for a pending link and stores the outcome on it.
func (s *Service) Capture(ctx context.Context, linkID uint, requesterIP string) (*pipeline.Result, error) {
	var link models.Link
	if err := s.db.WithContext(ctx).Preload("Account").First(&link, linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &pipeline.Result{Outcome: pipeline.OutcomeFailed}, fmt.Errorf("%w: %d", ErrLinkNotFound, linkID)
		}
		return &pipeline.Result{Outcome: pipeline.OutcomeFailed}, fmt.Errorf("load link %d: %w", linkID, err)
	}

	logWriter := utils.NewDBLogWriter(s.db, link.ID)
	res, runErr := s.pipeline.Run(ctx, pipeline.Request{
		URL:         link.URL,
		Method:      link.Method,
		Tier:        link.Account.Plan,
		RequesterIP: requesterIP,
		Log:         logWriter,
	})

	updates := map[string]any{"capture_log": logWriter.String()}
	switch res.Outcome {
	case pipeline.OutcomeCreated, pipeline.OutcomeCreatedWithWarnings:
		updates["status"] = models.LinkArchived
		updates["archived_at"] = res.Snapshot.Timestamp.UTC()
		updates["storage_key"] = res.Snapshot.StorageKey
		updates["checksum"] = res.Checksum
		updates["size_bytes"] = res.SizeBytes
		updates["trust_timestamp"] = res.Trust.Timestamp
		updates["trust_tier"] = res.Trust.Tier
		updates["trust_source"] = res.Trust.Source
		updates["trust_metadata"] = datatypes.JSONMap(res.Trust.Metadata)
		if res.Proxy != nil {
			updates["proxy_ip"] = stringField(res.Proxy, "proxy_ip")
			updates["proxy_country"] = stringField(res.Proxy, "proxy_country")
			updates["proxy_provider"] = stringField(res.Proxy, "proxy_provider")
		}
	case pipeline.OutcomeRejected:
		updates["status"] = models.LinkRejected
	default:
		updates["status"] = models.LinkFailed
	}

	if err := s.db.WithContext(ctx).Model(&link).Updates(updates).Error; err != nil {
		slog.Error("Failed to store capture outcome", "shortcode", link.Shortcode, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("store capture of %s: %w", link.Shortcode, err)
		}
	}
	return res, runErr
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetLatestSnapshot returns the newest snapshot of url on disk.
func (s *Service) GetLatestSnapshot(url string) (*storage.Snapshot, error) {
	return s.pipeline.Store().Latest(url)
}

// LinkByShortcode loads one link with its account.
func (s *Service) LinkByShortcode(ctx context.Context, shortcode string) (*models.Link, error) {
	var link models.Link
	err := s.db.WithContext(ctx).Preload("Account").Where("shortcode = ?", shortcode).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, shortcode)
	}
	if err != nil {
		return nil, fmt.Errorf("load link %s: %w", shortcode, err)
	}
	return &link, nil
}

// ListIntegrityChecks returns the newest checks of a link, optionally of one
// type only. limit is clamped to a sane page size.
func (s *Service) ListIntegrityChecks(ctx context.Context, shortcode, checkType string, limit int) ([]models.IntegrityCheck, error) {
	link, err := s.LinkByShortcode(ctx, shortcode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCheckLimit
	}
	if limit > maxCheckLimit {
		limit = maxCheckLimit
	}

	q := s.db.WithContext(ctx).Where("link_id = ?", link.ID)
	if checkType != "" {
		q = q.Where("check_type = ?", checkType)
	}
	var checks []models.IntegrityCheck
	if err := q.Order("checked_at DESC, id DESC").Limit(limit).Find(&checks).Error; err != nil {
		return nil, fmt.Errorf("list checks for %s: %w", shortcode, err)
	}
	return checks, nil
}

// VerifyLink recomputes the checksum of a link's stored snapshot and reports
// whether it still matches the recorded one.
func (s *Service) VerifyLink(ctx context.Context, shortcode string) (string, bool, error) {
	link, err := s.LinkByShortcode(ctx, shortcode)
	if err != nil {
		return "", false, err
	}
	if link.StorageKey == "" {
		return "", false, fmt.Errorf("link %s has no stored snapshot", shortcode)
	}
	store := s.pipeline.Store()
	snap, err := store.Open(link.URL, link.StorageKey)
	if err != nil {
		return "", false, err
	}
	sum, _, err := store.ChecksumAndSize(*snap)
	if err != nil {
		return "", false, err
	}
	return sum, sum == link.Checksum, nil
}
