package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// base58 avoids 0, O, I and l so identifiers can be read aloud
const base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// PathHash maps a URL to the directory segment its snapshots live under.
// The first 8 bytes of the SHA-256 digest are read big-endian and re-based
// into base62. It is a naming scheme only, not a security boundary.
func PathHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	n := binary.BigEndian.Uint64(sum[:8])
	if n == 0 {
		return base62Alphabet[:1]
	}

	var buf [11]byte // 62^11 > 2^64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(buf[i:])
}

// URLDomain returns the lower-cased host[:port] used as the top level of the
// archive layout.
func URLDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}

// GenerateShortcode returns a random base58 identifier of the given length.
func GenerateShortcode(length int) string {
	var sb strings.Builder
	max := big.NewInt(int64(len(base58Alphabet)))
	for i := 0; i < length; i++ {
		n, _ := rand.Int(rand.Reader, max)
		sb.WriteByte(base58Alphabet[n.Int64()])
	}
	return sb.String()
}

// IsValidShortcode reports whether s only uses the identifier alphabet and
// is not a reserved route name.
func IsValidShortcode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return !reservedShortcodes[strings.ToLower(s)]
}

var reservedShortcodes = map[string]bool{
	"admin": true, "api": true, "static": true, "media": true, "dashboard": true,
	"login": true, "logout": true, "signup": true, "pricing": true, "about": true,
	"contact": true, "terms": true, "privacy": true, "settings": true, "profile": true,
	"accounts": true, "billing": true, "docs": true, "help": true,
}

// ArchiveFilename creates a descriptive filename for snapshot downloads.
// Format: YYYY-MM-DD_downcased_url.extension
func ArchiveFilename(capturedAt time.Time, rawURL, extension string) string {
	date := capturedAt.Format("2006-01-02")

	name := strings.ToLower(rawURL)
	name = strings.TrimPrefix(name, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "www.")
	name = strings.NewReplacer(
		"/", "_",
		"?", "_",
		"&", "_",
		"=", "_",
		"#", "_",
		":", "_",
		";", "_",
		" ", "_",
		"+", "_",
		"%", "_",
		".", "_",
	).Replace(name)
	name = strings.Trim(name, "_/")
	if len(name) > 50 {
		name = name[:50]
	}

	extension = strings.TrimPrefix(extension, ".")
	return fmt.Sprintf("%s_%s.%s", date, name, extension)
}
