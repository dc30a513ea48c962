package utils

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator exposes the shared validator so other packages reuse its cache.
func Validator() *validator.Validate {
	return validate
}

// ValidateURL validates a capture URL and rejects targets that would make the
// capture backends reach into private networks.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("only HTTP and HTTPS protocols are allowed")
	}

	if parsedURL.Hostname() == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if err := checkSSRFProtection(parsedURL.Hostname()); err != nil {
		return err
	}

	return checkMaliciousPatterns(rawURL)
}

// lookupIP is swapped in tests to avoid real DNS.
var lookupIP = net.LookupIP

// checkSSRFProtection prevents requests to private/internal networks
func checkSSRFProtection(hostname string) error {
	if isLocalhost(hostname) {
		return fmt.Errorf("requests to localhost are not allowed")
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("requests to private/internal IP addresses are not allowed")
		}
		return nil
	}

	ips, err := lookupIP(hostname)
	if err != nil {
		return fmt.Errorf("unable to resolve hostname: %w", err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("requests to private/internal IP addresses are not allowed")
		}
	}

	return nil
}

func isLocalhost(hostname string) bool {
	for _, local := range []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"} {
		if strings.EqualFold(hostname, local) {
			return true
		}
	}
	return strings.HasSuffix(strings.ToLower(hostname), ".localhost")
}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",     // RFC1918
	"172.16.0.0/12",  // RFC1918
	"192.168.0.0/16", // RFC1918
	"127.0.0.0/8",    // Loopback
	"169.254.0.0/16", // Link-local
	"100.64.0.0/10",  // CGNAT
	"224.0.0.0/4",    // Multicast
	"240.0.0.0/4",    // Reserved
	"::1/128",        // Loopback
	"fe80::/10",      // Link-local
	"fc00::/7",       // Unique local
	"ff00::/8",       // Multicast
)

func mustParseCIDRs(ranges ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(ranges))
	for _, r := range ranges {
		_, n, err := net.ParseCIDR(r)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// checkMaliciousPatterns catches other schemes smuggled into the URL,
// including percent-encoded ones.
func checkMaliciousPatterns(rawURL string) error {
	lower := strings.ToLower(rawURL)

	suspiciousPatterns := []string{
		"file://",
		"ftp://",
		"gopher://",
		"dict://",
		"ldap://",
		"ldaps://",
		"telnet://",
		"ssh://",
		"sftp://",
		"tftp://",
	}

	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("protocol %s is not allowed", pattern)
		}
	}

	if strings.Contains(lower, "%") {
		decoded, err := url.QueryUnescape(lower)
		if err == nil && decoded != lower {
			return checkMaliciousPatterns(decoded)
		}
	}

	return nil
}

// ArchiveRequest is the body of an archive creation request.
type ArchiveRequest struct {
	URL       string `json:"url" validate:"required,url"`
	Method    string `json:"method" validate:"omitempty,oneof=singlefile browser both"`
	AccountID uint   `json:"account_id" validate:"required"`
	Shortcode string `json:"shortcode,omitempty" validate:"omitempty,max=64"`
}

// Validate checks struct tags and the custom identifier alphabet. URL safety
// is checked separately so callers can substitute their own policy.
func (r *ArchiveRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if r.Shortcode != "" && !IsValidShortcode(r.Shortcode) {
		return fmt.Errorf("invalid shortcode: %q", r.Shortcode)
	}
	return nil
}
