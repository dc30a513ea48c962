package archivers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Requests to these never settle and would keep network-idle from firing.
var ignoredRequestPatterns = []string{
	"analytics", "google-analytics", "googletagmanager", "gtag",
	"segment.com", "mixpanel", "amplitude", "hotjar", "fullstory",
	"doubleclick", "googlesyndication", "googleadservices", "adsystem",
	"facebook.com/tr", "connect.facebook.net",
	"moatads", "scorecardresearch", "quantserve", "outbrain", "taboola", "criteo",
	"doubleverify", "beacon", "pixel", "/track", "impression",
	"twitter.com/i/adsct", "linkedin.com/px", "tiktok.com/tr",
	"pusher", "websocket", "socket.io", "eventsource",
	"livechat", "intercom", "zendesk", "drift",
}

func isIgnoredRequest(url string) bool {
	lower := strings.ToLower(url)
	for _, pattern := range ignoredRequestPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// loadPage navigates to url and waits until the page has settled: lazy
// images forced eager, network idle, and optionally a scroll pass to
// trigger content loaded on scroll.
func loadPage(ctx context.Context, page playwright.Page, url string, logWriter io.Writer, scroll bool) error {
	fmt.Fprintf(logWriter, "Navigating to %s\n", url)
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(30000),
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := page.Evaluate(`() => {
		const style = document.createElement('style');
		style.innerHTML = '* { transition: none !important; animation: none !important; }';
		document.head.appendChild(style);
		document.querySelectorAll('img[loading="lazy"]').forEach(img => img.setAttribute('loading', 'eager'));
		document.querySelectorAll('img[data-src], img[data-lazy-src]').forEach(img => {
			if (img.dataset.src) img.src = img.dataset.src;
			if (img.dataset.lazySrc) img.src = img.dataset.lazySrc;
		});
	}`); err != nil {
		fmt.Fprintf(logWriter, "Warning: Failed to prepare page: %v\n", err)
	}

	if err := runWithContext(ctx, func() error {
		return waitForNetworkIdle(page, logWriter, 2*time.Second, 20*time.Second)
	}); err != nil {
		return err
	}

	if scroll {
		if err := runWithContext(ctx, func() error { return scrollThrough(page, logWriter) }); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(logWriter, "Warning: Scrolling failed, continuing: %v\n", err)
		}
		if err := runWithContext(ctx, func() error {
			return waitForNetworkIdle(page, logWriter, time.Second, 10*time.Second)
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(logWriter, "Warning: Post-scroll network idle wait failed: %v\n", err)
		}
	}

	fmt.Fprintf(logWriter, "Page load finished\n")
	return nil
}

// runWithContext returns when fn finishes or ctx ends, whichever is first.
func runWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func scrollThrough(page playwright.Page, logWriter io.Writer) error {
	_, err := page.Evaluate(`async () => {
		const step = window.innerHeight * 0.8;
		let pos = 0;
		let lastHeight = document.body.scrollHeight;
		let stable = 0;
		while (stable < 5) {
			pos += step;
			window.scrollTo(0, pos);
			await new Promise(r => setTimeout(r, 500));
			const h = document.body.scrollHeight;
			if (pos >= h) {
				stable = (h === lastHeight) ? stable + 1 : 0;
				lastHeight = h;
				pos = h;
			} else {
				stable = 0;
			}
		}
		window.scrollTo(0, 0);
		await new Promise(r => setTimeout(r, 500));
	}`)
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "Scroll pass completed\n")
	return nil
}

// waitForNetworkIdle waits until no tracked request has been pending for
// idle. After five seconds a handful of long-lived requests is tolerated.
func waitForNetworkIdle(page playwright.Page, logWriter io.Writer, idle, total time.Duration) error {
	const (
		maxPersistent  = 3
		minBeforeGrace = 5 * time.Second
		graceTimeout   = 15 * time.Second
		pollInterval   = 100 * time.Millisecond
	)

	var mu sync.Mutex
	pending := make(map[string]struct{})

	page.On("request", func(req playwright.Request) {
		if isIgnoredRequest(req.URL()) {
			return
		}
		mu.Lock()
		pending[req.URL()] = struct{}{}
		mu.Unlock()
	})
	settle := func(req playwright.Request) {
		mu.Lock()
		delete(pending, req.URL())
		mu.Unlock()
	}
	page.On("requestfinished", settle)
	page.On("requestfailed", settle)

	start := time.Now()
	var idleSince time.Time
	for {
		elapsed := time.Since(start)
		mu.Lock()
		count := len(pending)
		mu.Unlock()

		if elapsed > total {
			return fmt.Errorf("network idle timed out after %v with %d pending requests", total, count)
		}

		if count == 0 {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) >= idle {
				return nil
			}
		} else {
			idleSince = time.Time{}
			if elapsed > minBeforeGrace && count <= maxPersistent {
				fmt.Fprintf(logWriter, "Accepting %d persistent requests after %v\n", count, elapsed.Round(time.Millisecond))
				return nil
			}
			if elapsed > graceTimeout {
				fmt.Fprintf(logWriter, "Giving up on network idle with %d pending requests\n", count)
				return nil
			}
		}
		time.Sleep(pollInterval)
	}
}
