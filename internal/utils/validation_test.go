package utils

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func stubLookup(t *testing.T, addrs map[string]string) {
	t.Helper()
	orig := lookupIP
	lookupIP = func(host string) ([]net.IP, error) {
		if a, ok := addrs[host]; ok {
			return []net.IP{net.ParseIP(a)}, nil
		}
		return nil, errors.New("no such host")
	}
	t.Cleanup(func() { lookupIP = orig })
}

func TestURLValidation(t *testing.T) {
	stubLookup(t, map[string]string{
		"example.com":       "93.184.216.34",
		"internal.corp":     "10.1.2.3",
		"metadata.internal": "169.254.169.254",
	})

	tests := []struct {
		name        string
		url         string
		shouldError bool
		errorMsg    string
	}{
		{name: "Valid HTTPS URL", url: "https://example.com"},
		{name: "Valid HTTP URL", url: "http://example.com/path"},
		{name: "Empty URL", url: "", shouldError: true, errorMsg: "URL cannot be empty"},
		{name: "Localhost", url: "http://localhost:8080", shouldError: true, errorMsg: "requests to localhost are not allowed"},
		{name: "Loopback literal", url: "http://127.0.0.1:3000", shouldError: true, errorMsg: "requests to localhost are not allowed"},
		{name: "Private IP literal", url: "http://192.168.1.1", shouldError: true, errorMsg: "private/internal"},
		{name: "Resolves to private", url: "https://internal.corp/", shouldError: true, errorMsg: "private/internal"},
		{name: "Resolves to link-local", url: "http://metadata.internal/latest", shouldError: true, errorMsg: "private/internal"},
		{name: "Unresolvable", url: "https://nope.invalid", shouldError: true, errorMsg: "unable to resolve"},
		{name: "File protocol", url: "file:///etc/passwd", shouldError: true, errorMsg: "only HTTP and HTTPS protocols are allowed"},
		{name: "No host", url: "https:///path", shouldError: true, errorMsg: "valid hostname"},
		{name: "Encoded scheme in query", url: "https://example.com/?u=gopher%3A%2F%2Fx", shouldError: true, errorMsg: "gopher://"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error for %q", tt.url)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for %q: %v", tt.url, err)
			}
		})
	}
}

func TestArchiveRequestValidation(t *testing.T) {
	tests := []struct {
		name        string
		req         ArchiveRequest
		shouldError bool
	}{
		{name: "minimal", req: ArchiveRequest{URL: "https://example.com", AccountID: 1}},
		{name: "both methods", req: ArchiveRequest{URL: "https://example.com", Method: "both", AccountID: 1}},
		{name: "custom shortcode", req: ArchiveRequest{URL: "https://example.com", AccountID: 1, Shortcode: "myLink"}},
		{name: "missing url", req: ArchiveRequest{AccountID: 1}, shouldError: true},
		{name: "not a url", req: ArchiveRequest{URL: "example", AccountID: 1}, shouldError: true},
		{name: "unknown method", req: ArchiveRequest{URL: "https://example.com", Method: "mhtml", AccountID: 1}, shouldError: true},
		{name: "missing account", req: ArchiveRequest{URL: "https://example.com"}, shouldError: true},
		{name: "reserved shortcode", req: ArchiveRequest{URL: "https://example.com", AccountID: 1, Shortcode: "admin"}, shouldError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.shouldError && err == nil {
				t.Error("expected validation error")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
