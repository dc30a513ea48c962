package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

const DefaultEchoURL = "https://httpbin.org/ip"

// Prober sends a request through a proxy to an IP echo endpoint to learn
// the address the target site will see.
type Prober struct {
	EchoURL string
	Timeout time.Duration
}

func NewProber(echoURL string) *Prober {
	if echoURL == "" {
		echoURL = DefaultEchoURL
	}
	return &Prober{EchoURL: echoURL, Timeout: 10 * time.Second}
}

func (pr *Prober) client(p *Proxy) (*http.Client, error) {
	return NewHTTPClient(p, pr.Timeout)
}

// NewHTTPClient returns a client whose requests leave through p, or go
// direct when p is nil.
func NewHTTPClient(p *Proxy, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{DisableKeepAlives: true}
	if p == nil {
		return &http.Client{Transport: transport, Timeout: timeout}, nil
	}

	switch p.URL().Scheme {
	case "socks5", "socks5h":
		dialer, err := xproxy.FromURL(p.URL(), xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS dialer: %w", err)
		}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		transport.Proxy = http.ProxyURL(p.URL())
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// ExitIP returns the egress address seen by the echo endpoint.
func (pr *Prober) ExitIP(ctx context.Context, p *Proxy) (string, error) {
	client, err := pr.client(p)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.EchoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return "", fmt.Errorf("proxy connection timeout: %w", err)
		}
		return "", fmt.Errorf("proxy connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("echo request failed with status: %d", resp.StatusCode)
	}

	var body struct {
		Origin string `json:"origin"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode echo response: %w", err)
	}
	// httpbin reports "client, proxy" when the request was forwarded
	ip := strings.TrimSpace(strings.Split(body.Origin, ",")[0])
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("echo returned invalid ip %q", body.Origin)
	}
	return ip, nil
}

// HealthStatus represents the current status of the fallback proxy
type HealthStatus struct {
	IsHealthy    bool      `json:"is_healthy"`
	LastChecked  time.Time `json:"last_checked"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExitIP       string    `json:"exit_ip,omitempty"`
	Enabled      bool      `json:"enabled"`
}

// HealthChecker periodically probes one proxy and keeps the last result for
// the health endpoint.
type HealthChecker struct {
	mu            sync.RWMutex
	status        HealthStatus
	target        *Proxy
	prober        *Prober
	stopChan      chan struct{}
	stopOnce      sync.Once
	checkInterval time.Duration
}

// NewHealthChecker builds a checker for target. A nil target yields a
// checker that reports the proxy as not configured.
func NewHealthChecker(target *Proxy, prober *Prober, interval time.Duration) *HealthChecker {
	return &HealthChecker{
		target:        target,
		prober:        prober,
		stopChan:      make(chan struct{}),
		checkInterval: interval,
		status: HealthStatus{
			Enabled:     target != nil,
			IsHealthy:   true, // assume healthy until proven otherwise
			LastChecked: time.Now(),
		},
	}
}

// Start runs an initial check and then checks on every interval until Stop.
func (c *HealthChecker) Start() {
	if c.target == nil {
		slog.Info("Proxy not configured, health monitoring disabled")
		return
	}
	slog.Info("Proxy health monitoring enabled", "provider", c.target.Provider, "server", c.target.Server)
	c.CheckNow(context.Background())
	go c.loop()
}

func (c *HealthChecker) GetStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// CheckNow performs an immediate check.
func (c *HealthChecker) CheckNow(ctx context.Context) {
	if c.target == nil {
		return
	}
	ip, err := c.prober.ExitIP(ctx, c.target)
	if err != nil {
		c.updateStatus(false, "", err.Error())
		return
	}
	c.updateStatus(true, ip, "")
}

func (c *HealthChecker) updateStatus(healthy bool, ip, errorMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previouslyHealthy := c.status.IsHealthy
	c.status.IsHealthy = healthy
	c.status.LastChecked = time.Now()
	c.status.ErrorMessage = errorMsg
	c.status.ExitIP = ip

	if previouslyHealthy != healthy {
		if healthy {
			slog.Info("Proxy is now healthy", "exit_ip", ip)
		} else {
			slog.Warn("Proxy is now unhealthy", "error", errorMsg)
		}
	}
}

func (c *HealthChecker) loop() {
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckNow(context.Background())
		case <-c.stopChan:
			slog.Info("Proxy health monitoring stopped")
			return
		}
	}
}

func (c *HealthChecker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}
