// Package proxy picks a residential egress for a capture based on where the
// requester is, so the archived page matches what they saw.
package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Providers
const (
	ProviderBrightData = "brightdata"
	ProviderFallback   = "fallback"
)

// Location is a geolocation result.
type Location struct {
	CountryCode string
	City        string
	Lat         float64
	Lon         float64
}

// Locator resolves an IP to a location. A nil location with a nil error
// means the address is unknown.
type Locator interface {
	Locate(ip string) (*Location, error)
}

// BrightDataConfig holds the zone credentials of a Bright Data account.
type BrightDataConfig struct {
	Username string
	Password string
	Endpoint string
	Port     int
}

func (b BrightDataConfig) complete() bool {
	return b.Username != "" && b.Password != "" && b.Endpoint != "" && b.Port > 0
}

// Config is the proxy section of the service configuration.
type Config struct {
	Enabled     bool
	Provider    string
	BrightData  BrightDataConfig
	FallbackURL string
}

// Proxy is one concrete egress path for a capture. It is built per request
// and never persisted; only the exit IP it yields is.
type Proxy struct {
	Scheme      string // http or socks5
	Server      string // host:port
	Username    string
	Password    string
	CountryCode string
	City        string
	Lat         float64
	Lon         float64
	Provider    string
}

// URL renders the proxy as a URL including credentials.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme, Host: p.Server}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u
}

// Metadata is what gets recorded alongside a capture's trust record.
func (p *Proxy) Metadata() map[string]any {
	return map[string]any{
		"proxy_server":     p.Server,
		"proxy_country":    p.CountryCode,
		"proxy_city":       p.City,
		"proxy_lat":        p.Lat,
		"proxy_lon":        p.Lon,
		"proxy_provider":   p.Provider,
		"proxy_configured": true,
	}
}

// Selection is the outcome of Select. Proxy is nil when the capture should
// go direct; Disabled distinguishes "proxying is off" from "no path found".
type Selection struct {
	Proxy    *Proxy
	Disabled bool
	Reason   string
}

// Selector chooses a proxy per capture. Whether proxying is usable at all
// is decided once, in NewSelector.
type Selector struct {
	cfg      Config
	locator  Locator
	enabled  bool
	reason   string
	fallback *Proxy
}

func NewSelector(cfg Config, locator Locator) *Selector {
	s := &Selector{cfg: cfg, locator: locator}
	s.cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	if cfg.FallbackURL != "" {
		fb, err := parseFallback(cfg.FallbackURL)
		if err != nil {
			slog.Warn("Invalid fallback proxy URL", "error", err)
		} else {
			s.fallback = fb
		}
	}

	s.enabled, s.reason = s.checkConfiguration()
	if s.enabled {
		slog.Info("Residential proxy enabled", "provider", s.cfg.Provider, "fallback", s.fallback != nil)
	} else {
		slog.Info("Residential proxy disabled", "reason", s.reason)
	}
	return s
}

func (s *Selector) checkConfiguration() (bool, string) {
	if !s.cfg.Enabled {
		return false, "disabled in configuration"
	}
	switch s.cfg.Provider {
	case ProviderBrightData:
		if !s.cfg.BrightData.complete() {
			return false, "brightdata credentials incomplete"
		}
	case "", ProviderFallback:
		if s.fallback == nil {
			return false, "no provider and no usable fallback"
		}
	default:
		if s.fallback == nil {
			return false, fmt.Sprintf("unknown provider %q and no fallback", s.cfg.Provider)
		}
	}
	return true, ""
}

// Enabled reports the capability decided at construction.
func (s *Selector) Enabled() bool {
	return s.enabled
}

// Select picks an egress for a capture requested from requesterIP, which may
// be empty.
func (s *Selector) Select(requesterIP string) Selection {
	if !s.enabled {
		return Selection{Disabled: true, Reason: s.reason}
	}

	if requesterIP == "" || net.ParseIP(requesterIP) == nil || s.locator == nil {
		return s.useFallback("requester location unavailable")
	}

	loc, err := s.locator.Locate(requesterIP)
	if err != nil {
		slog.Debug("Geolocation failed", "ip", requesterIP, "error", err)
		return s.useFallback("geolocation failed")
	}
	if loc == nil || loc.CountryCode == "" {
		return s.useFallback("requester location unknown")
	}

	switch s.cfg.Provider {
	case ProviderBrightData:
		p := s.brightData(loc)
		slog.Info("Selected proxy", "provider", p.Provider, "country", p.CountryCode)
		return Selection{Proxy: p}
	default:
		return s.useFallback("provider has no geo targeting")
	}
}

func (s *Selector) brightData(loc *Location) *Proxy {
	bd := s.cfg.BrightData
	return &Proxy{
		Scheme:      "http",
		Server:      net.JoinHostPort(bd.Endpoint, strconv.Itoa(bd.Port)),
		Username:    fmt.Sprintf("%s-country-%s", bd.Username, strings.ToLower(loc.CountryCode)),
		Password:    bd.Password,
		CountryCode: loc.CountryCode,
		City:        loc.City,
		Lat:         loc.Lat,
		Lon:         loc.Lon,
		Provider:    ProviderBrightData,
	}
}

func (s *Selector) useFallback(reason string) Selection {
	if s.fallback == nil {
		return Selection{Reason: reason + ", no fallback configured"}
	}
	p := *s.fallback
	return Selection{Proxy: &p, Reason: reason}
}

func parseFallback(raw string) (*Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("fallback proxy %q needs a host and port", u.Redacted())
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	p := &Proxy{
		Scheme:   scheme,
		Server:   u.Host,
		Provider: ProviderFallback,
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// Fallback returns the configured static proxy, or nil.
func (s *Selector) Fallback() *Proxy {
	return s.fallback
}
