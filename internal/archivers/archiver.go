package archivers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"linkvault/internal/proxy"
)

// Capture methods
const (
	MethodSingleFile = "singlefile"
	MethodBrowser    = "browser"
	MethodBoth       = "both"
)

// Output file names inside a capture directory
const (
	PrimaryFile    = "singlefile.html"
	FaviconFile    = "favicon.ico"
	ScreenshotWebP = "screenshot.webp"
	ScreenshotJPEG = "screenshot.jpg"
	PDFFile        = "output.pdf"
)

// Request is one capture invocation. Backends write every file they
// produce into Dir, which the caller owns and removes on failure.
type Request struct {
	URL       string
	Timestamp time.Time
	Dir       string
	Proxy     *proxy.Proxy // nil means direct
	Log       io.Writer
}

// Result describes what a backend produced.
type Result struct {
	PrimaryPath    string
	AuxiliaryPaths []string
	Metadata       map[string]any
}

// Backend captures a URL into a directory. Implementations must be safe to
// call again with a fresh timestamp and must not deduplicate themselves.
type Backend interface {
	Name() string
	Capture(ctx context.Context, req Request) (*Result, error)
}

// Registry maps method names to backends.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry registers backends in the given order; that order is the
// order "both" expands to.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		if _, dup := r.backends[b.Name()]; dup {
			continue
		}
		r.backends[b.Name()] = b
		r.order = append(r.order, b.Name())
	}
	return r
}

func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Methods resolves a requested method to the backends to run. An empty
// request means the first registered backend.
func (r *Registry) Methods(requested string) ([]Backend, error) {
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no capture backends configured")
	}
	switch requested {
	case "":
		return []Backend{r.backends[r.order[0]]}, nil
	case MethodBoth:
		out := make([]Backend, 0, len(r.order))
		for _, name := range r.order {
			out = append(out, r.backends[name])
		}
		return out, nil
	}
	b, ok := r.backends[requested]
	if !ok {
		return nil, fmt.Errorf("unknown capture method %q", requested)
	}
	return []Backend{b}, nil
}
