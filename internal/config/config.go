// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"linkvault/internal/changedetection"
	"linkvault/internal/proxy"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

type Config struct {
	DBURL      string `envconfig:"DB_URL" default:"host=localhost user=user password=pass dbname=linkvault port=5432 sslmode=disable"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Sections are embedded so their variables keep unprefixed names.
	StorageConfig
	CaptureConfig
	ProxyConfig
	ChangeDetectionConfig
	MonitorConfig
}

type StorageConfig struct {
	Root string `envconfig:"STORAGE_PATH" default:"./archives"`
	// Mirror is none, fs or s3.
	Mirror     string `envconfig:"MIRROR_BACKEND" default:"none" validate:"oneof=none fs s3"`
	MirrorPath string `envconfig:"MIRROR_PATH" default:"./mirror"`

	S3Endpoint        string `envconfig:"S3_ENDPOINT"`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket          string `envconfig:"S3_BUCKET"`
	S3Prefix          string `envconfig:"S3_PREFIX" default:"snapshots/"`
	S3ForcePathStyle  bool   `envconfig:"S3_FORCE_PATH_STYLE"`
}

type CaptureConfig struct {
	SingleFilePath string        `envconfig:"SINGLEFILE_PATH" default:"single-file"`
	SingleFileArgs []string      `envconfig:"SINGLEFILE_ARGS"`
	Timeout        time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"2m"`
	AssetTimeout   time.Duration `envconfig:"ASSET_TIMEOUT" default:"60s"`
	Screenshot     bool          `envconfig:"CAPTURE_SCREENSHOT" default:"true"`
	PDF            bool          `envconfig:"CAPTURE_PDF" default:"false"`
	MaxRetries     int           `envconfig:"CAPTURE_MAX_RETRIES" default:"3" validate:"gte=0,lte=10"`
	Workers        int           `envconfig:"ARCHIVE_WORKERS" default:"5" validate:"gte=1"`
}

type ProxyConfig struct {
	Enabled            bool          `envconfig:"PROXY_ENABLED"`
	Provider           string        `envconfig:"PROXY_PROVIDER" default:"brightdata"`
	BrightDataUsername string        `envconfig:"BRIGHTDATA_USERNAME"`
	BrightDataPassword string        `envconfig:"BRIGHTDATA_PASSWORD"`
	BrightDataEndpoint string        `envconfig:"BRIGHTDATA_ENDPOINT" default:"brd.superproxy.io"`
	BrightDataPort     int           `envconfig:"BRIGHTDATA_PORT" default:"33335"`
	FallbackURL        string        `envconfig:"PROXY_FALLBACK_URL"`
	GeoIPPath          string        `envconfig:"GEOIP_DB_PATH"`
	EchoURL            string        `envconfig:"IP_ECHO_URL" default:"https://httpbin.org/ip"`
	HealthInterval     time.Duration `envconfig:"PROXY_HEALTH_INTERVAL" default:"5m"`
}

type ChangeDetectionConfig struct {
	Enabled   bool   `envconfig:"CHANGEDETECTION_ENABLED"`
	BaseURL   string `envconfig:"CHANGEDETECTION_URL"`
	APIKey    string `envconfig:"CHANGEDETECTION_API_KEY"`
	PublicURL string `envconfig:"PUBLIC_BASE_URL"`
}

type MonitorConfig struct {
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	BatchSize     int           `envconfig:"SWEEP_BATCH_SIZE" default:"100" validate:"gte=1"`
	CheckTimeout  time.Duration `envconfig:"CHECK_TIMEOUT" default:"15s"`
	Workers       int           `envconfig:"CHECK_WORKERS" default:"20" validate:"gte=1"`
	CleanupAge    time.Duration `envconfig:"CLEANUP_AGE" default:"24h"`
}

// Load reads envFile when it exists and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := utils.Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StorageConfig.Mirror == "s3" && c.StorageConfig.S3Bucket == "" {
		return errors.New("invalid configuration: MIRROR_BACKEND=s3 requires S3_BUCKET")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *Config) ProxyEnabled() bool {
	return c.ProxyConfig.Enabled && (c.ProxyConfig.FallbackURL != "" || (c.ProxyConfig.BrightDataUsername != "" && c.ProxyConfig.BrightDataPassword != ""))
}

func (c *Config) ChangeDetectionEnabled() bool {
	cd := c.ChangeDetectionConfig
	return cd.Enabled && cd.BaseURL != "" && cd.APIKey != ""
}

func (c *Config) MirrorEnabled() bool {
	return c.StorageConfig.Mirror != "none"
}

func (c *Config) ProxySettings() proxy.Config {
	return proxy.Config{
		Enabled:  c.ProxyConfig.Enabled,
		Provider: c.ProxyConfig.Provider,
		BrightData: proxy.BrightDataConfig{
			Username: c.ProxyConfig.BrightDataUsername,
			Password: c.ProxyConfig.BrightDataPassword,
			Endpoint: c.ProxyConfig.BrightDataEndpoint,
			Port:     c.ProxyConfig.BrightDataPort,
		},
		FallbackURL: c.ProxyConfig.FallbackURL,
	}
}

func (c *Config) ChangeDetectionSettings() changedetection.Config {
	return changedetection.Config{
		Enabled:   c.ChangeDetectionConfig.Enabled,
		BaseURL:   c.ChangeDetectionConfig.BaseURL,
		APIKey:    c.ChangeDetectionConfig.APIKey,
		PublicURL: c.ChangeDetectionConfig.PublicURL,
	}
}

func (c *Config) S3Settings() storage.S3Config {
	s := c.StorageConfig
	return storage.S3Config{
		Endpoint:        s.S3Endpoint,
		Region:          s.S3Region,
		AccessKeyID:     s.S3AccessKeyID,
		SecretAccessKey: s.S3SecretAccessKey,
		Bucket:          s.S3Bucket,
		Prefix:          s.S3Prefix,
		ForcePathStyle:  s.S3ForcePathStyle,
	}
}
