// Package monitor records liveness and content-drift observations of
// archived URLs, on schedule and from change-notification webhooks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"linkvault/internal/models"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

// ErrNoSnapshot means a content check found nothing archived to compare with.
var ErrNoSnapshot = errors.New("no snapshot to compare against")

const (
	DefaultBatchSize = 100
	maxPageBytes     = 10 << 20
	userAgent        = "Mozilla/5.0 (compatible; linkvault-monitor/1.0)"
)

type Config struct {
	CheckTimeout time.Duration
	BatchSize    int
}

type Monitor struct {
	db     *gorm.DB
	store  *storage.ArchiveStore
	client *http.Client
	cfg    Config
	now    func() time.Time
}

func New(db *gorm.DB, store *storage.ArchiveStore, cfg Config) *Monitor {
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = utils.DefaultTimeoutConfig().CheckTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Monitor{
		db:     db,
		store:  store,
		client: &http.Client{Timeout: cfg.CheckTimeout},
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for check timestamps.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Monitor) record(ctx context.Context, check *models.IntegrityCheck) error {
	if err := m.db.WithContext(ctx).Create(check).Error; err != nil {
		return fmt.Errorf("record %s check for link %d: %w", check.CheckType, check.LinkID, err)
	}
	return nil
}

func (m *Monitor) request(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return m.client.Do(req)
}

func accessible(code int) bool {
	return code >= 200 && code < 400
}

// CheckLiveness records whether link's URL still answers with a 2xx or 3xx.
// Servers that refuse HEAD are asked again with GET.
func (m *Monitor) CheckLiveness(ctx context.Context, link *models.Link) (*models.IntegrityCheck, error) {
	details := datatypes.JSONMap{}
	status := models.StatusBroken

	resp, err := m.request(ctx, http.MethodHead, link.URL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = m.request(ctx, http.MethodGet, link.URL)
	}
	if err != nil {
		details["error"] = err.Error()
	} else {
		resp.Body.Close()
		details["status_code"] = resp.StatusCode
		if final := resp.Request.URL.String(); final != link.URL {
			details["redirect_url"] = final
		}
		if accessible(resp.StatusCode) {
			status = models.StatusOK
		}
	}

	check := &models.IntegrityCheck{
		LinkID:    link.ID,
		CheckType: models.CheckLiveness,
		Status:    status,
		Details:   details,
		Source:    models.SourceScheduled,
		CheckedAt: m.now().UTC(),
	}
	if err := m.record(ctx, check); err != nil {
		return nil, err
	}
	if status != models.StatusOK {
		slog.Warn("Liveness check failed", "shortcode", link.Shortcode, "url", link.URL, "details", details)
	}
	return check, nil
}

// CheckContent compares the visible text of the live page with the newest
// snapshot of the URL. An unreachable page is recorded as broken without
// diffing.
func (m *Monitor) CheckContent(ctx context.Context, link *models.Link) (*models.IntegrityCheck, error) {
	snap, err := m.store.Latest(link.URL)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	archived, err := os.ReadFile(snap.PrimaryPath())
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", snap.StorageKey, err)
	}

	check := &models.IntegrityCheck{
		LinkID:    link.ID,
		CheckType: models.CheckContentDiff,
		Source:    models.SourceScheduled,
		CheckedAt: m.now().UTC(),
	}

	live, fetchErr := m.fetch(ctx, link.URL)
	if fetchErr != nil {
		check.Status = models.StatusBroken
		check.Details = datatypes.JSONMap{"error": "URL not accessible", "reason": fetchErr.Error()}
	} else {
		archivedText := VisibleText(archived)
		liveText := VisibleText(live)
		diffCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
		ratio, err := Similarity(diffCtx, archivedText, liveText)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("compare %s with %s: %w", link.URL, snap.StorageKey, err)
		}
		check.Status = Classify(ratio)
		check.Similarity = &ratio
		check.Details = datatypes.JSONMap{
			"similarity_ratio":        ratio,
			"content_length_archived": len(archivedText),
			"content_length_current":  len(liveText),
			"storage_key":             snap.StorageKey,
		}
	}

	if err := m.record(ctx, check); err != nil {
		return nil, err
	}
	if check.Status != models.StatusOK {
		slog.Warn("Content integrity drift", "shortcode", link.Shortcode, "url", link.URL, "status", check.Status)
	}
	return check, nil
}

func (m *Monitor) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := m.request(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if !accessible(resp.StatusCode) {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}
