package changedetection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"linkvault/internal/models"
)

type fakeServer struct {
	mu       sync.Mutex
	watches  map[string]map[string]any
	requests []string
	bodies   []map[string]any
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{watches: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)

		var body map[string]any
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &body)
			f.bodies = append(f.bodies, body)
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/watch":
			json.NewEncoder(w).Encode(f.watches)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/watch/"):
			json.NewEncoder(w).Encode(f.watches[strings.TrimPrefix(r.URL.Path, "/api/v1/watch/")])
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/watch":
			f.watches["new-uuid"] = body
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"uuid": "new-uuid"})
		case r.Method == http.MethodPut:
			id := strings.TrimPrefix(r.URL.Path, "/api/v1/watch/")
			f.watches[id]["time_between_check"] = body["time_between_check"]
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/notifications":
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestDisabled(t *testing.T) {
	c := New(Config{Enabled: true, BaseURL: "http://cd.local"})
	if c.Enabled() {
		t.Fatal("client without API key must be disabled")
	}
	if _, err := c.Register(context.Background(), "https://example.com", models.PlanSovereign); !errors.Is(err, ErrDisabled) {
		t.Errorf("Register error = %v", err)
	}
	if _, err := c.RegisterWebhook(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("RegisterWebhook error = %v", err)
	}
}

func TestRegisterCreatesWatch(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL + "/", APIKey: "k"})

	uuid, err := c.Register(context.Background(), "https://example.com/a", models.PlanProfessional)
	if err != nil {
		t.Fatal(err)
	}
	if uuid != "new-uuid" {
		t.Errorf("uuid = %q", uuid)
	}
	created := f.watches["new-uuid"]
	if created["url"] != "https://example.com/a" || created["notification_format"] != "json" {
		t.Errorf("unexpected watch %v", created)
	}
	if !strings.Contains(created["notification_body"].(string), `"source_url":"{{watch_url}}"`) {
		t.Errorf("notification body = %v", created["notification_body"])
	}
	every := created["time_between_check"].(map[string]any)
	if every["hours"] != float64(1) {
		t.Errorf("interval = %v", every)
	}
}

func TestRegisterTightensButNeverLoosens(t *testing.T) {
	f, srv := newFakeServer(t)
	f.watches["w1"] = map[string]any{"url": "https://example.com/a", "time_between_check": map[string]any{"hours": 3}}
	c := New(Config{Enabled: true, BaseURL: srv.URL, APIKey: "k"})

	if _, err := c.Register(context.Background(), "https://example.com/a", models.PlanSovereign); err != nil {
		t.Fatal(err)
	}
	every := f.watches["w1"]["time_between_check"].(map[string]any)
	if every["minutes"] != float64(5) {
		t.Errorf("watch not tightened: %v", every)
	}

	before := len(f.requests)
	if _, err := c.Register(context.Background(), "https://example.com/a", models.PlanProfessional); err != nil {
		t.Fatal(err)
	}
	for _, r := range f.requests[before:] {
		if strings.HasPrefix(r, "PUT") {
			t.Errorf("a slower tier must not loosen the watch, saw %s", r)
		}
	}
}

func TestRegisterSkipsFreeTier(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Register(context.Background(), "https://example.com", models.PlanFree); err != nil {
		t.Fatal(err)
	}
	if len(f.requests) != 0 {
		t.Errorf("free tier made requests: %v", f.requests)
	}
}

func TestRegisterWebhook(t *testing.T) {
	f, srv := newFakeServer(t)
	c := New(Config{Enabled: true, BaseURL: srv.URL, APIKey: "k", PublicURL: "http://vault.example.com/"})

	target, err := c.RegisterWebhook(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if target != "json://vault.example.com/api/internal/webhook/changedetection" {
		t.Errorf("target = %q", target)
	}
	urls := f.bodies[len(f.bodies)-1]["notification_urls"].([]any)
	if len(urls) != 1 || urls[0] != target {
		t.Errorf("registered %v", urls)
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Minute, 5 * time.Minute, time.Hour, 24 * time.Hour, 9*24*time.Hour + 90*time.Second} {
		if got := IntervalFor(d).Duration(); got != d {
			t.Errorf("IntervalFor(%v).Duration() = %v", d, got)
		}
	}
}
