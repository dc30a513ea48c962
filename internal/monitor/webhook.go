package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"linkvault/internal/models"
	"linkvault/internal/utils"
)

const (
	maxPlainDiff = 1000
	maxHTMLDiff  = 2000
)

var diffPolicy = bluemonday.UGCPolicy()

// Timestamp accepts a JSON string or number.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	*t = Timestamp(data)
	return nil
}

// Time parses unix seconds or RFC 3339. ok is false when neither matches.
func (t Timestamp) Time() (time.Time, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// WebhookPayload is a change notification pushed by changedetection.io.
// Either watch id field identifies the watch.
type WebhookPayload struct {
	WatchID          string    `json:"watch_id" validate:"required_without=WatchUUID"`
	WatchUUID        string    `json:"watch_uuid" validate:"required_without=WatchID"`
	SourceURL        string    `json:"source_url" validate:"required"`
	DiffPlaintext    string    `json:"diff_plaintext"`
	DiffHTML         string    `json:"diff_html"`
	ChangeDetectedAt Timestamp `json:"change_detected_at"`
	Title            string    `json:"title"`
}

func (p *WebhookPayload) Watch() string {
	if p.WatchID != "" {
		return p.WatchID
	}
	return p.WatchUUID
}

func (p *WebhookPayload) Validate() error {
	return utils.Validator().Struct(p)
}

// WebhookEntry is the classification assigned to one affected link.
type WebhookEntry struct {
	Shortcode          string  `json:"shortcode"`
	Status             string  `json:"status"`
	SimilarityRatio    float64 `json:"similarity_ratio"`
	CheckID            uint    `json:"check_id"`
	Plan               string  `json:"plan"`
	RecaptureSuggested bool    `json:"recapture_suggested"`
}

// AnalyzeDiff estimates severity from diff markers and length, since the
// notifier does not report a similarity ratio itself.
func AnalyzeDiff(plain, htmlDiff string) (string, float64) {
	text := plain
	if text == "" {
		text = htmlDiff
	}
	length := len(text)
	added := strings.Count(text, "+ ") + strings.Count(text, "<ins>")
	removed := strings.Count(text, "- ") + strings.Count(text, "<del>")
	changes := added + removed

	switch {
	case length == 0:
		return models.StatusOK, 1.0
	case changes > 50 || length > 5000:
		return models.StatusMajorChanges, 0.3
	case changes > 10 || length > 1000:
		return models.StatusMinorChanges, 0.7
	default:
		return models.StatusMinorChanges, 0.9
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}

// IngestWebhook records one content_diff check per archived link of the
// payload's URL, inside a single transaction.
func (m *Monitor) IngestWebhook(ctx context.Context, payload WebhookPayload) ([]WebhookEntry, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	received := m.now().UTC()
	checkedAt, ok := payload.ChangeDetectedAt.Time()
	if !ok {
		checkedAt = received
	}
	status, ratio := AnalyzeDiff(payload.DiffPlaintext, payload.DiffHTML)

	var entries []WebhookEntry
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var links []models.Link
		if err := tx.Preload("Account").
			Where("url = ? AND status = ?", payload.SourceURL, models.LinkArchived).
			Order("id").Find(&links).Error; err != nil {
			return fmt.Errorf("find links for %s: %w", payload.SourceURL, err)
		}

		for _, link := range links {
			plan := link.Account.Plan
			if plan == "" {
				plan = models.PlanFree
			}
			sim := ratio
			check := models.IntegrityCheck{
				LinkID:     link.ID,
				CheckType:  models.CheckContentDiff,
				Status:     status,
				Similarity: &sim,
				Source:     models.SourceWebhook,
				CheckedAt:  checkedAt,
				Details: datatypes.JSONMap{
					"watch_uuid":         payload.Watch(),
					"change_detected_at": string(payload.ChangeDetectedAt),
					"received_at":        received.Format(time.RFC3339),
					"diff_plaintext":     truncate(payload.DiffPlaintext, maxPlainDiff),
					"diff_html":          diffPolicy.Sanitize(truncate(payload.DiffHTML, maxHTMLDiff)),
					"similarity_ratio":   ratio,
					"source":             "changedetection.io",
					"title":              payload.Title,
				},
				RecaptureSuggested: status == models.StatusMajorChanges && plan == models.PlanSovereign,
			}
			if err := tx.Create(&check).Error; err != nil {
				return fmt.Errorf("record webhook check for %s: %w", link.Shortcode, err)
			}
			if check.RecaptureSuggested {
				slog.Info("Major change on sovereign link, recapture suggested", "shortcode", link.Shortcode, "url", link.URL)
			}
			entries = append(entries, WebhookEntry{
				Shortcode:          link.Shortcode,
				Status:             status,
				SimilarityRatio:    ratio,
				CheckID:            check.ID,
				Plan:               plan,
				RecaptureSuggested: check.RecaptureSuggested,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Processed change notification", "url", payload.SourceURL, "watch", payload.Watch(), "affected", len(entries), "status", status)
	return entries, nil
}
