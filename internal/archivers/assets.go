package archivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"linkvault/internal/proxy"
)

// Files served at these paths are tried before the page is parsed.
var wellKnownIcons = []string{
	"/favicon.ico",
	"/apple-touch-icon.png",
	"/favicon.png",
	"/apple-touch-icon-precomposed.png",
}

const maxFaviconBytes = 1 << 20

var errNoFavicon = errors.New("no favicon found")

// Renderer draws a live page. PlaywrightRenderer is the production one.
type Renderer interface {
	Screenshot(ctx context.Context, url string, p *proxy.Proxy, logWriter io.Writer) ([]byte, error)
	PDF(ctx context.Context, url string, p *proxy.Proxy, logWriter io.Writer) ([]byte, error)
}

// AssetExtractor fetches the auxiliary files of a capture. Every asset is
// best effort; a missing one never fails the capture.
type AssetExtractor struct {
	Timeout    time.Duration
	Renderer   Renderer
	Screenshot bool
	PDF        bool
}

func (a *AssetExtractor) client(p *proxy.Proxy) (*http.Client, error) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return proxy.NewHTTPClient(p, timeout)
}

// Extract gathers favicon, screenshot and PDF for a capture whose primary
// file is already in req.Dir. It returns the paths written.
func (a *AssetExtractor) Extract(ctx context.Context, req Request) []string {
	log := req.Log
	if log == nil {
		log = io.Discard
	}

	var paths []string
	if path, err := a.Favicon(ctx, req.URL, req.Dir, req.Proxy); err != nil {
		fmt.Fprintf(log, "Favicon not extracted: %v\n", err)
	} else {
		paths = append(paths, path)
	}

	if a.Renderer == nil {
		return paths
	}

	if a.Screenshot {
		data, err := a.Renderer.Screenshot(ctx, req.URL, req.Proxy, log)
		if err == nil {
			var path string
			if path, err = writeScreenshot(ctx, data, req.Dir, log); err == nil {
				paths = append(paths, path)
			}
		}
		if err != nil {
			fmt.Fprintf(log, "Warning: Screenshot failed: %v\n", err)
		}
	}

	if a.PDF {
		data, err := a.Renderer.PDF(ctx, req.URL, req.Proxy, log)
		if err == nil {
			path := filepath.Join(req.Dir, PDFFile)
			if err = os.WriteFile(path, data, 0644); err == nil {
				paths = append(paths, path)
			}
		}
		if err != nil {
			fmt.Fprintf(log, "Warning: PDF failed: %v\n", err)
		}
	}
	return paths
}

// Favicon stores the site icon as favicon.ico in dir. Well-known paths are
// tried first, then icon links in the captured primary file, then icon
// links in the live page.
func (a *AssetExtractor) Favicon(ctx context.Context, pageURL, dir string, p *proxy.Proxy) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	client, err := a.client(p)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, path := range wellKnownIcons {
		candidates = append(candidates, base.ResolveReference(&url.URL{Path: path}).String())
	}

	if data, err := os.ReadFile(filepath.Join(dir, PrimaryFile)); err == nil {
		candidates = append(candidates, iconLinks(data, base)...)
	}

	dest := filepath.Join(dir, FaviconFile)
	for _, c := range candidates {
		if data, ok := fetchIcon(ctx, client, c); ok {
			return dest, os.WriteFile(dest, data, 0644)
		}
	}

	if live, err := fetch(ctx, client, pageURL, 5<<20); err == nil {
		for _, c := range iconLinks(live, base) {
			if data, ok := fetchIcon(ctx, client, c); ok {
				return dest, os.WriteFile(dest, data, 0644)
			}
		}
	}
	return "", errNoFavicon
}

func fetchIcon(ctx context.Context, client *http.Client, iconURL string) ([]byte, bool) {
	data, err := fetch(ctx, client, iconURL, maxFaviconBytes)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "text/html") {
		return nil, false
	}
	return data, true
}

func fetch(ctx context.Context, client *http.Client, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// iconLinks returns the absolute hrefs of <link rel="...icon..."> elements
// in document order.
func iconLinks(doc []byte, base *url.URL) []string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil
	}

	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Link {
			var rel, href string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = strings.ToLower(attr.Val)
				case "href":
					href = strings.TrimSpace(attr.Val)
				}
			}
			if strings.Contains(rel, "icon") && href != "" && !strings.HasPrefix(href, "data:") {
				if ref, err := url.Parse(href); err == nil {
					out = append(out, base.ResolveReference(ref).String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
