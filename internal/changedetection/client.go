// Package changedetection registers archived URLs with an external
// changedetection.io instance, which pushes diffs back to the webhook.
package changedetection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"linkvault/internal/plans"
)

// ErrDisabled is returned by every call when the integration is not configured.
var ErrDisabled = errors.New("change detection is not configured")

// WebhookPath is where the server accepts change notifications.
const WebhookPath = "/api/internal/webhook/changedetection"

// notificationBody is the template changedetection.io renders into each
// notification; its keys match the inbound webhook payload.
var notificationBody = mustJSON(map[string]string{
	"watch_uuid":         "{{watch_uuid}}",
	"source_url":         "{{watch_url}}",
	"change_detected_at": "{{last_changed}}",
	"diff_plaintext":     "{{diff_plaintext}}",
	"diff_html":          "{{diff}}",
	"title":              "{{title}}",
})

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

type Config struct {
	Enabled bool
	BaseURL string
	APIKey  string
	// PublicURL is this server's externally reachable base URL.
	PublicURL string
	Timeout   time.Duration
}

// Client talks to the changedetection.io v1 API.
type Client struct {
	cfg     Config
	enabled bool
	http    *http.Client
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		enabled: cfg.Enabled && cfg.BaseURL != "" && cfg.APIKey != "",
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.Enabled && !c.enabled {
		slog.Warn("Change detection enabled but base URL or API key missing; integration disabled")
	}
	return c
}

func (c *Client) Enabled() bool {
	return c.enabled
}

// Interval is changedetection.io's time_between_check object.
type Interval struct {
	Weeks   int `json:"weeks,omitempty"`
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`
}

func IntervalFor(d time.Duration) Interval {
	total := int(d / time.Second)
	var iv Interval
	iv.Weeks, total = total/604800, total%604800
	iv.Days, total = total/86400, total%86400
	iv.Hours, total = total/3600, total%3600
	iv.Minutes, iv.Seconds = total/60, total%60
	return iv
}

func (iv Interval) Duration() time.Duration {
	secs := iv.Weeks*604800 + iv.Days*86400 + iv.Hours*3600 + iv.Minutes*60 + iv.Seconds
	return time.Duration(secs) * time.Second
}

// Register makes sure url is watched at least as often as tier requires.
// An existing watch is tightened but never loosened. Tiers without content
// monitoring are skipped.
func (c *Client) Register(ctx context.Context, url, tier string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	cadence := plans.For(tier).ContentDiffCadence
	if cadence == 0 {
		return "", nil
	}
	want := IntervalFor(cadence)

	uuid, current, err := c.findWatch(ctx, url)
	if err != nil {
		return "", err
	}

	if uuid == "" {
		uuid, err = c.createWatch(ctx, url, want)
		if err != nil {
			return "", err
		}
		slog.Info("Created change detection watch", "url", url, "tier", tier, "watch", uuid)
		return uuid, nil
	}

	if current > 0 && current <= cadence {
		return uuid, nil
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/watch/"+uuid, map[string]any{"time_between_check": want}, nil); err != nil {
		return "", fmt.Errorf("update watch %s: %w", uuid, err)
	}
	slog.Info("Tightened change detection watch", "url", url, "tier", tier, "watch", uuid, "from", current, "to", cadence)
	return uuid, nil
}

// RegisterWebhook points changedetection.io notifications at this server.
func (c *Client) RegisterWebhook(ctx context.Context) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}
	if c.cfg.PublicURL == "" {
		return "", fmt.Errorf("public URL is required to register the webhook")
	}
	host := c.cfg.PublicURL
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	target := "json://" + host + WebhookPath
	if strings.HasPrefix(c.cfg.PublicURL, "https://") {
		target = "jsons://" + host + WebhookPath
	}

	body := map[string]any{"notification_urls": []string{target}}
	if err := c.do(ctx, http.MethodPost, "/api/v1/notifications", body, nil); err != nil {
		return "", fmt.Errorf("register webhook: %w", err)
	}
	return target, nil
}

// findWatch returns the uuid and current interval of the watch for url, or
// an empty uuid when there is none.
func (c *Client) findWatch(ctx context.Context, url string) (string, time.Duration, error) {
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch", nil, &raw); err != nil {
		return "", 0, fmt.Errorf("list watches: %w", err)
	}

	var uuid string
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		if value.Get("url").String() == url {
			uuid = key.String()
			return false
		}
		return true
	})
	if uuid == "" {
		return "", 0, nil
	}

	if err := c.do(ctx, http.MethodGet, "/api/v1/watch/"+uuid, nil, &raw); err != nil {
		return "", 0, fmt.Errorf("get watch %s: %w", uuid, err)
	}
	var detail struct {
		TimeBetweenCheck Interval `json:"time_between_check"`
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		return "", 0, fmt.Errorf("decode watch %s: %w", uuid, err)
	}
	return uuid, detail.TimeBetweenCheck.Duration(), nil
}

func (c *Client) createWatch(ctx context.Context, url string, every Interval) (string, error) {
	body := map[string]any{
		"url":                 url,
		"title":               "linkvault monitor: " + url,
		"time_between_check":  every,
		"notification_format": "json",
		"notification_body":   notificationBody,
	}
	var raw []byte
	if err := c.do(ctx, http.MethodPost, "/api/v1/watch", body, &raw); err != nil {
		return "", fmt.Errorf("create watch: %w", err)
	}
	if uuid := gjson.GetBytes(raw, "uuid").String(); uuid != "" {
		return uuid, nil
	}
	uuid, _, err := c.findWatch(ctx, url)
	if err != nil {
		return "", err
	}
	if uuid == "" {
		return "unknown", nil
	}
	return uuid, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out *[]byte) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		*out = data
	}
	return nil
}
