package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Root != "./archives" {
		t.Errorf("unexpected defaults %q %q", cfg.ListenAddr, cfg.Root)
	}
	if cfg.Timeout != 2*time.Minute || cfg.SweepInterval != time.Minute {
		t.Errorf("unexpected durations %v %v", cfg.Timeout, cfg.SweepInterval)
	}
	if cfg.MirrorEnabled() || cfg.ProxyEnabled() || cfg.ChangeDetectionEnabled() {
		t.Error("optional integrations should be off by default")
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.SlogLevel())
	}
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "STORAGE_PATH=/srv/archives\nPROXY_ENABLED=true\nPROXY_FALLBACK_URL=socks5://127.0.0.1:1080\nLOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set.
	t.Setenv("STORAGE_PATH", "/override")
	t.Cleanup(func() {
		os.Unsetenv("PROXY_ENABLED")
		os.Unsetenv("PROXY_FALLBACK_URL")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/override" {
		t.Errorf("environment should win over the file, got %q", cfg.Root)
	}
	if !cfg.ProxyEnabled() || cfg.ProxySettings().FallbackURL != "socks5://127.0.0.1:1080" {
		t.Errorf("proxy settings not loaded: %+v", cfg.ProxySettings())
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.SlogLevel())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"mirror backend", map[string]string{"MIRROR_BACKEND": "ftp"}},
		{"s3 without bucket", map[string]string{"MIRROR_BACKEND": "s3"}},
		{"zero workers", map[string]string{"ARCHIVE_WORKERS": "0"}},
		{"bad duration", map[string]string{"CAPTURE_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSettings(t *testing.T) {
	t.Setenv("MIRROR_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "snapshots")
	t.Setenv("CHANGEDETECTION_ENABLED", "true")
	t.Setenv("CHANGEDETECTION_URL", "http://changedetection:5000")
	t.Setenv("CHANGEDETECTION_API_KEY", "key")
	t.Setenv("PUBLIC_BASE_URL", "https://vault.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s3 := cfg.S3Settings(); s3.Bucket != "snapshots" || s3.Region != "us-east-1" || s3.Prefix != "snapshots/" {
		t.Errorf("unexpected s3 settings %+v", s3)
	}
	if !cfg.ChangeDetectionEnabled() || cfg.ChangeDetectionSettings().PublicURL != "https://vault.example.com" {
		t.Errorf("unexpected change detection settings %+v", cfg.ChangeDetectionSettings())
	}
}
