package utils

import (
	"strings"
	"testing"
	"time"
)

func TestPathHashDeterministic(t *testing.T) {
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"http://example.com/a",
		"https://example.com/a?x=1",
	}

	seen := make(map[string]string)
	for _, u := range urls {
		h1 := PathHash(u)
		h2 := PathHash(u)
		if h1 != h2 {
			t.Errorf("PathHash(%q) not stable: %s vs %s", u, h1, h2)
		}
		if h1 == "" || len(h1) > 11 {
			t.Errorf("PathHash(%q) = %q, unexpected length", u, h1)
		}
		for _, r := range h1 {
			if !strings.ContainsRune(base62Alphabet, r) {
				t.Errorf("PathHash(%q) = %q contains non-base62 rune %q", u, h1, r)
			}
		}
		if other, ok := seen[h1]; ok {
			t.Errorf("PathHash collision between %q and %q", u, other)
		}
		seen[h1] = u
	}
}

func TestPathHashKnownValue(t *testing.T) {
	// Pinned so the on-disk layout never silently changes between releases.
	// sha256("https://example.com") starts with 0x100680ad546ce6a5.
	got := PathHash("https://example.com")
	want := "1NIm5dudJe1"
	if got != want {
		t.Errorf("PathHash(https://example.com) = %q, want %q", got, want)
	}
}

func TestURLDomain(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "lowercases host", url: "https://Example.COM/a", want: "example.com"},
		{name: "keeps port", url: "http://example.com:8080/", want: "example.com:8080"},
		{name: "no host", url: "/just/a/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URLDomain(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("URLDomain(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestGenerateShortcode(t *testing.T) {
	for _, length := range []int{4, 6, 8} {
		code := GenerateShortcode(length)
		if len(code) != length {
			t.Errorf("expected length %d, got %q", length, code)
		}
		for _, r := range code {
			if strings.ContainsRune("0OIl", r) {
				t.Errorf("shortcode %q contains ambiguous rune %q", code, r)
			}
		}
	}

	if GenerateShortcode(12) == GenerateShortcode(12) {
		t.Error("two random shortcodes were identical")
	}
}

func TestIsValidShortcode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"abc123", true},
		{"", false},
		{"has space", false},
		{"zer0", false},
		{"admin", false},
		{"API", false},
	}
	for _, tt := range tests {
		if got := IsValidShortcode(tt.code); got != tt.want {
			t.Errorf("IsValidShortcode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestArchiveFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	got := ArchiveFilename(ts, "https://www.Example.com/a/b?c=d", ".html")
	want := "2024-03-09_example_com_a_b_c_d.html"
	if got != want {
		t.Errorf("ArchiveFilename = %q, want %q", got, want)
	}

	long := ArchiveFilename(ts, "https://example.com/"+strings.Repeat("x", 200), "pdf")
	if len(long) != len("2024-03-09_")+50+len(".pdf") {
		t.Errorf("expected truncated name, got %q", long)
	}
}
