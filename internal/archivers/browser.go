package archivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/playwright-community/playwright-go"

	"linkvault/internal/proxy"
)

var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-features=VizDisplayCompositor",
}

// LaunchRecorder is told about every browser launch and close so leaked
// Chromium processes can be detected.
type LaunchRecorder interface {
	RecordLaunch()
	RecordClose()
}

// PWBundle owns one Playwright driver, browser and page. Cleanup is
// idempotent so every exit path can defer it.
type PWBundle struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	page      playwright.Page
	logWriter io.Writer
	recorder  LaunchRecorder
	once      sync.Once
}

// NewPWBundle starts Playwright and a headless Chromium, routed through p
// when it is non-nil. rec may be nil.
func NewPWBundle(logWriter io.Writer, p *proxy.Proxy, pageOpts playwright.BrowserNewPageOptions, rec LaunchRecorder) (*PWBundle, error) {
	fmt.Fprintf(logWriter, "Starting Playwright...\n")
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start Playwright: %w", err)
	}
	b := &PWBundle{pw: pw, logWriter: logWriter, recorder: rec}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     launchArgs,
	}
	if p != nil {
		opts.Proxy = playwrightProxy(p)
		fmt.Fprintf(logWriter, "Using %s proxy %s\n", p.Provider, p.Server)
	}

	b.browser, err = pw.Chromium.Launch(opts)
	if err != nil {
		b.Cleanup()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	if rec != nil {
		rec.RecordLaunch()
	}

	b.page, err = b.browser.NewPage(pageOpts)
	if err != nil {
		b.Cleanup()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	b.page.On("console", func(msg playwright.ConsoleMessage) {
		fmt.Fprintf(logWriter, "Console [%s]: %s\n", msg.Type(), msg.Text())
	})
	b.page.On("pageerror", func(err error) {
		fmt.Fprintf(logWriter, "Page error: %v\n", err)
	})
	return b, nil
}

func playwrightProxy(p *proxy.Proxy) *playwright.Proxy {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	out := &playwright.Proxy{Server: scheme + "://" + p.Server}
	if p.Username != "" {
		out.Username = playwright.String(p.Username)
		out.Password = playwright.String(p.Password)
	}
	return out
}

func (b *PWBundle) Page() playwright.Page {
	return b.page
}

// Cleanup closes the page, the browser and the driver, in that order.
func (b *PWBundle) Cleanup() {
	b.once.Do(func() {
		if b.page != nil {
			if err := b.page.Close(); err != nil {
				fmt.Fprintf(b.logWriter, "Warning: Page close error: %v\n", err)
			}
		}
		if b.browser != nil {
			if err := b.browser.Close(); err != nil {
				fmt.Fprintf(b.logWriter, "Warning: Browser close error: %v\n", err)
			}
			if b.recorder != nil {
				b.recorder.RecordClose()
			}
		}
		if b.pw != nil {
			if err := b.pw.Stop(); err != nil {
				fmt.Fprintf(b.logWriter, "Warning: Playwright stop error: %v\n", err)
			}
		}
	})
}

// PlaywrightRenderer produces screenshots and PDFs of live pages.
type PlaywrightRenderer struct {
	Width    int
	Height   int
	Recorder LaunchRecorder
}

func (r *PlaywrightRenderer) viewport() playwright.BrowserNewPageOptions {
	w, h := r.Width, r.Height
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1080
	}
	return playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: w, Height: h},
	}
}

func (r *PlaywrightRenderer) Screenshot(ctx context.Context, url string, p *proxy.Proxy, logWriter io.Writer) ([]byte, error) {
	b, err := NewPWBundle(logWriter, p, r.viewport(), r.Recorder)
	if err != nil {
		return nil, err
	}
	defer b.Cleanup()

	if err := loadPage(ctx, b.Page(), url, logWriter, false); err != nil {
		return nil, err
	}
	return b.Page().Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
}

func (r *PlaywrightRenderer) PDF(ctx context.Context, url string, p *proxy.Proxy, logWriter io.Writer) ([]byte, error) {
	b, err := NewPWBundle(logWriter, p, playwright.BrowserNewPageOptions{}, r.Recorder)
	if err != nil {
		return nil, err
	}
	defer b.Cleanup()

	if err := loadPage(ctx, b.Page(), url, logWriter, false); err != nil {
		return nil, err
	}
	return b.Page().PDF(playwright.PagePdfOptions{
		Format:          playwright.String("A4"),
		PrintBackground: playwright.Bool(true),
	})
}

// BrowserBackend renders the page in headless Chromium and stores the
// serialized DOM as the primary file, with a screenshot and PDF from the
// same page load.
type BrowserBackend struct {
	Screenshot bool
	PDF        bool
	Assets     *AssetExtractor
	Recorder   LaunchRecorder
}

func (b *BrowserBackend) Name() string { return MethodBrowser }

func (b *BrowserBackend) Capture(ctx context.Context, req Request) (*Result, error) {
	log := req.Log
	if log == nil {
		log = io.Discard
	}

	bundle, err := NewPWBundle(log, req.Proxy, playwright.BrowserNewPageOptions{
		Viewport:          &playwright.Size{Width: 1500, Height: 1080},
		DeviceScaleFactor: playwright.Float(2.0),
	}, b.Recorder)
	if err != nil {
		return nil, err
	}
	defer bundle.Cleanup()
	page := bundle.Page()

	if err := loadPage(ctx, page, req.URL, log, true); err != nil {
		return nil, err
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("serialize page: %w", err)
	}
	primary := filepath.Join(req.Dir, PrimaryFile)
	if err := os.WriteFile(primary, []byte(html), 0644); err != nil {
		return nil, err
	}

	res := &Result{
		PrimaryPath: primary,
		Metadata:    map[string]any{"method": MethodBrowser, "page_title": pageTitle(page)},
	}

	if b.Screenshot {
		if data, err := page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
		}); err != nil {
			fmt.Fprintf(log, "Warning: Screenshot failed: %v\n", err)
		} else if path, err := writeScreenshot(ctx, data, req.Dir, log); err != nil {
			fmt.Fprintf(log, "Warning: Screenshot encoding failed: %v\n", err)
		} else {
			res.AuxiliaryPaths = append(res.AuxiliaryPaths, path)
		}
	}

	if b.PDF {
		path := filepath.Join(req.Dir, PDFFile)
		if data, err := page.PDF(playwright.PagePdfOptions{
			Format:          playwright.String("A4"),
			PrintBackground: playwright.Bool(true),
		}); err != nil {
			fmt.Fprintf(log, "Warning: PDF failed: %v\n", err)
		} else if err := os.WriteFile(path, data, 0644); err != nil {
			fmt.Fprintf(log, "Warning: PDF write failed: %v\n", err)
		} else {
			res.AuxiliaryPaths = append(res.AuxiliaryPaths, path)
		}
	}

	if b.Assets != nil {
		if path, err := b.Assets.Favicon(ctx, req.URL, req.Dir, req.Proxy); err == nil {
			res.AuxiliaryPaths = append(res.AuxiliaryPaths, path)
		} else {
			fmt.Fprintf(log, "Favicon not extracted: %v\n", err)
		}
	}

	return res, nil
}

func pageTitle(page playwright.Page) string {
	title, err := page.Title()
	if err != nil {
		return ""
	}
	return title
}
