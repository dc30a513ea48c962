package archivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SingleFileBackend shells out to the single-file CLI, which inlines every
// subresource of the page into one HTML document.
type SingleFileBackend struct {
	Path   string // binary, defaults to "single-file"
	Args   []string
	Assets *AssetExtractor
}

func (s *SingleFileBackend) Name() string { return MethodSingleFile }

func (s *SingleFileBackend) command(req Request, output string) []string {
	args := []string{req.URL, output}
	if p := req.Proxy; p != nil {
		scheme := p.Scheme
		if scheme == "" {
			scheme = "http"
		}
		args = append(args, "--http-proxy-server="+scheme+"://"+p.Server)
		if p.Username != "" {
			args = append(args,
				"--http-proxy-username="+p.Username,
				"--http-proxy-password="+p.Password,
			)
		}
	}
	return append(args, s.Args...)
}

func (s *SingleFileBackend) Capture(ctx context.Context, req Request) (*Result, error) {
	log := req.Log
	if log == nil {
		log = io.Discard
	}
	bin := s.Path
	if bin == "" {
		bin = "single-file"
	}

	primary := filepath.Join(req.Dir, PrimaryFile)
	args := s.command(req, primary)
	fmt.Fprintf(log, "Running %s %s\n", bin, redactProxyPassword(args))

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = log
	cmd.Stderr = log
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("single-file failed: %w", err)
	}

	info, err := os.Stat(primary)
	if err != nil {
		return nil, fmt.Errorf("single-file produced no output: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("single-file produced an empty document")
	}
	fmt.Fprintf(log, "SingleFile wrote %d bytes\n", info.Size())

	res := &Result{
		PrimaryPath: primary,
		Metadata:    map[string]any{"method": MethodSingleFile},
	}
	if s.Assets != nil {
		res.AuxiliaryPaths = s.Assets.Extract(ctx, req)
	}
	return res, nil
}

func redactProxyPassword(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "--http-proxy-password=") {
			a = "--http-proxy-password=***"
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
