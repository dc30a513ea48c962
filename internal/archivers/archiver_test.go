package archivers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"linkvault/internal/proxy"
)

type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Capture(ctx context.Context, req Request) (*Result, error) {
	return &Result{PrimaryPath: filepath.Join(req.Dir, PrimaryFile)}, nil
}

func TestRegistryMethods(t *testing.T) {
	reg := NewRegistry(&stubBackend{MethodSingleFile}, &stubBackend{MethodBrowser}, &stubBackend{MethodSingleFile})

	if got := reg.Names(); len(got) != 2 || got[0] != MethodBrowser || got[1] != MethodSingleFile {
		t.Errorf("Names() = %v", got)
	}

	tests := []struct {
		requested string
		want      []string
		wantErr   bool
	}{
		{requested: "", want: []string{MethodSingleFile}},
		{requested: MethodBrowser, want: []string{MethodBrowser}},
		{requested: MethodBoth, want: []string{MethodSingleFile, MethodBrowser}},
		{requested: "wget", wantErr: true},
	}
	for _, tt := range tests {
		backends, err := reg.Methods(tt.requested)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Methods(%q) expected error", tt.requested)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Methods(%q): %v", tt.requested, err)
		}
		var names []string
		for _, b := range backends {
			names = append(names, b.Name())
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Methods(%q) = %v, want %v", tt.requested, names, tt.want)
		}
	}

	if _, err := NewRegistry().Methods(""); err == nil {
		t.Error("empty registry should fail to resolve")
	}
}

func TestIconLinks(t *testing.T) {
	base, _ := url.Parse("https://example.com/blog/post")
	doc := []byte(`<html><head>
		<link rel="stylesheet" href="/style.css">
		<link rel="Shortcut Icon" href="/static/fav.ico">
		<link rel="apple-touch-icon" href="touch.png">
		<link rel="icon" href="data:image/png;base64,AAAA">
	</head><body></body></html>`)

	got := iconLinks(doc, base)
	want := []string{"https://example.com/static/fav.ico", "https://example.com/blog/touch.png"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("iconLinks = %v, want %v", got, want)
	}
}

func TestFaviconWellKnownPath(t *testing.T) {
	icon := []byte{0, 0, 1, 0, 1, 0, 16, 16}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/apple-touch-icon.png" {
			w.Write(icon)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	a := &AssetExtractor{}
	path, err := a.Favicon(context.Background(), srv.URL+"/page", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != FaviconFile {
		t.Errorf("favicon written to %s", path)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, icon) {
		t.Errorf("favicon content = %v", data)
	}
}

func TestFaviconFromCapturedDocument(t *testing.T) {
	icon := []byte("\x89PNG\r\n\x1a\nfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/assets/icon.png" {
			w.Write(icon)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	primary := `<html><head><link rel="icon" href="/assets/icon.png"></head></html>`
	if err := os.WriteFile(filepath.Join(dir, PrimaryFile), []byte(primary), 0644); err != nil {
		t.Fatal(err)
	}

	a := &AssetExtractor{}
	if _, err := a.Favicon(context.Background(), srv.URL, dir, nil); err != nil {
		t.Fatal(err)
	}
}

func TestFaviconFromLivePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, `<html><head><link rel="icon" href="/i.ico"></head></html>`)
		case "/i.ico":
			w.Write([]byte{0, 0, 1, 0})
		case "/favicon.ico":
			// soft 404 pages must not be stored as icons
			io.WriteString(w, "<html><body>not here</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	a := &AssetExtractor{}
	path, err := a.Favicon(context.Background(), srv.URL+"/", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, []byte{0, 0, 1, 0}) {
		t.Errorf("unexpected favicon %q", data)
	}
}

func TestFaviconMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	a := &AssetExtractor{}
	if _, err := a.Favicon(context.Background(), srv.URL, dir, nil); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := os.Stat(filepath.Join(dir, FaviconFile)); !os.IsNotExist(err) {
		t.Error("no favicon file should be written")
	}
}

type fakeRenderer struct {
	png []byte
	pdf []byte
}

func (f *fakeRenderer) Screenshot(ctx context.Context, url string, p *proxy.Proxy, w io.Writer) ([]byte, error) {
	return f.png, nil
}

func (f *fakeRenderer) PDF(ctx context.Context, url string, p *proxy.Proxy, w io.Writer) ([]byte, error) {
	return f.pdf, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractScreenshotAndPDF(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	a := &AssetExtractor{
		Renderer:   &fakeRenderer{png: testPNG(t, 32, 24), pdf: []byte("%PDF-1.4")},
		Screenshot: true,
		PDF:        true,
	}
	paths := a.Extract(context.Background(), Request{URL: srv.URL, Dir: dir})

	names := map[string]bool{}
	for _, p := range paths {
		names[filepath.Base(p)] = true
	}
	if !names[ScreenshotWebP] || !names[PDFFile] || names[FaviconFile] {
		t.Errorf("unexpected assets %v", paths)
	}
}

func TestSelectImageFormat(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 100, 100))
	if name, _ := selectImageFormat(small, io.Discard); name != ScreenshotWebP {
		t.Errorf("small image encoded as %s", name)
	}
	tall := image.NewRGBA(image.Rect(0, 0, 10, webpMaxDimension+1))
	if name, _ := selectImageFormat(tall, io.Discard); name != ScreenshotJPEG {
		t.Errorf("tall image encoded as %s", name)
	}
}

func TestWriteScreenshotRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if _, err := writeScreenshot(context.Background(), []byte("nope"), dir, io.Discard); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSingleFileCommand(t *testing.T) {
	s := &SingleFileBackend{Args: []string{"--browser-headless=true"}}
	req := Request{
		URL:   "https://example.com",
		Proxy: &proxy.Proxy{Server: "brd.superproxy.io:22225", Username: "u-country-us", Password: "pw"},
	}
	args := s.command(req, "/tmp/out.html")
	want := []string{
		"https://example.com", "/tmp/out.html",
		"--http-proxy-server=http://brd.superproxy.io:22225",
		"--http-proxy-username=u-country-us",
		"--http-proxy-password=pw",
		"--browser-headless=true",
	}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("command = %v", args)
	}
	if strings.Contains(redactProxyPassword(args), "=pw") {
		t.Error("password leaked into log line")
	}
}

func TestSingleFileBackendRunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	bin := filepath.Join(t.TempDir(), "single-file")
	script := "#!/bin/sh\nprintf '<html>%s</html>' \"$1\" > \"$2\"\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	s := &SingleFileBackend{Path: bin}
	res, err := s.Capture(context.Background(), Request{URL: "https://example.com", Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(res.PrimaryPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<html>https://example.com</html>" {
		t.Errorf("primary = %q", data)
	}

	failing := filepath.Join(t.TempDir(), "single-file")
	os.WriteFile(failing, []byte("#!/bin/sh\nexit 3\n"), 0755)
	if _, err := (&SingleFileBackend{Path: failing}).Capture(context.Background(), Request{URL: "https://example.com", Dir: t.TempDir()}); err == nil {
		t.Error("expected failure from exiting binary")
	}
}
