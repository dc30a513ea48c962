// Package pipeline turns a capture request into a placed, checksummed and
// trust-stamped snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"linkvault/internal/archivers"
	"linkvault/internal/changedetection"
	"linkvault/internal/plans"
	"linkvault/internal/proxy"
	"linkvault/internal/storage"
	"linkvault/internal/utils"
)

// Outcome is the user-visible result class of a creation request.
type Outcome string

const (
	OutcomeCreated             Outcome = "created"
	OutcomeCreatedWithWarnings Outcome = "created_with_warnings"
	OutcomeRejected            Outcome = "rejected"
	OutcomeFailed              Outcome = "failed"
)

var (
	ErrSizeLimit         = errors.New("snapshot exceeds plan size limit")
	ErrAllBackendsFailed = errors.New("all capture methods failed")
	ErrQuotaExceeded     = errors.New("monthly archive quota exceeded")
	ErrValidation        = errors.New("invalid archive request")
)

// OutcomeOf classifies an error returned by Run.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCreated
	case errors.Is(err, ErrSizeLimit), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrValidation):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// ProxySelector picks the egress for a capture.
type ProxySelector interface {
	Select(requesterIP string) proxy.Selection
}

// ExitIPProber discovers the address a proxy presents to the target.
type ExitIPProber interface {
	ExitIP(ctx context.Context, p *proxy.Proxy) (string, error)
}

// Registrar subscribes a URL to external change notifications.
type Registrar interface {
	Register(ctx context.Context, url, tier string) (string, error)
}

type Request struct {
	URL         string
	Method      string
	Tier        string
	RequesterIP string
	Log         io.Writer
}

type Result struct {
	Outcome   Outcome
	Snapshot  *storage.Snapshot
	Method    string
	Checksum  string
	SizeBytes int64
	// Proxy holds the proxy-used metadata; nil when the capture went direct.
	Proxy    map[string]any
	Trust    Trust
	Attempts int
	Warnings []string
}

type Options struct {
	Retry          utils.RetryConfig
	CaptureTimeout time.Duration
	ProbeTimeout   time.Duration
	Prober         ExitIPProber
	Registrar      Registrar
	Mirror         *storage.Mirror
	Now            func() time.Time
}

type Pipeline struct {
	store    *storage.ArchiveStore
	backends *archivers.Registry
	proxies  ProxySelector
	opts     Options
}

func New(store *storage.ArchiveStore, backends *archivers.Registry, proxies ProxySelector, opts Options) *Pipeline {
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = utils.DefaultRetryConfig()
	}
	if opts.CaptureTimeout == 0 {
		opts.CaptureTimeout = utils.DefaultTimeoutConfig().CaptureTimeout
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = utils.DefaultTimeoutConfig().CheckTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{store: store, backends: backends, proxies: proxies, opts: opts}
}

func (p *Pipeline) Store() *storage.ArchiveStore {
	return p.store
}

// Run captures req.URL and places the result. The returned Result is never
// nil; its Outcome matches OutcomeOf(err).
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	logWriter := req.Log
	if logWriter == nil {
		logWriter = io.Discard
	}
	logger := slog.With("url", req.URL, "method", req.Method, "tier", req.Tier)
	res := &Result{Outcome: OutcomeFailed}

	reject := func(err error) (*Result, error) {
		res.Outcome = OutcomeOf(err)
		fmt.Fprintf(logWriter, "Capture %s: %v\n", res.Outcome, err)
		return res, err
	}

	profile := plans.For(req.Tier)
	backends, err := p.backends.Methods(req.Method)
	if err != nil {
		return reject(fmt.Errorf("%w: %v", ErrValidation, err))
	}

	var egress *proxy.Proxy
	if p.proxies != nil {
		sel := p.proxies.Select(req.RequesterIP)
		egress = sel.Proxy
		if egress != nil {
			res.Proxy = egress.Metadata()
			p.probeExitIP(ctx, egress, res.Proxy, logWriter)
		} else if sel.Reason != "" {
			fmt.Fprintf(logWriter, "Capturing directly: %s\n", sel.Reason)
		}
	}

	var snap *storage.Snapshot
	err = utils.WithRetryConfig(ctx, func(attempt int) error {
		res.Attempts = attempt
		s, method, warnings, err := p.captureOnce(ctx, req.URL, backends, egress, logWriter)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			return err
		}
		snap, res.Method = s, method
		return nil
	}, logWriter, p.opts.Retry)
	if err != nil {
		logger.Error("Capture failed", "attempts", res.Attempts, "error", err)
		return reject(err)
	}
	res.Snapshot = snap
	if snap.WasDuplicate {
		fmt.Fprintf(logWriter, "Content identical to snapshot %s, reusing it\n", snap.StorageKey)
	}

	size, err := p.store.DirSize(*snap)
	if err != nil {
		p.discard(snap)
		return reject(fmt.Errorf("measure snapshot: %w", err))
	}
	if !profile.SizeUnlimited() && size > profile.MaxSnapshotBytes {
		// a duplicate belongs to an earlier capture and stays where it is
		p.discard(snap)
		res.Snapshot = nil
		logger.Warn("Snapshot exceeds size limit", "size", size, "limit", profile.MaxSnapshotBytes)
		return reject(fmt.Errorf("%w: %s exceeds the %s allowed on the %s plan",
			ErrSizeLimit, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(profile.MaxSnapshotBytes)), profile.Tier))
	}

	res.Checksum, res.SizeBytes, err = p.store.ChecksumAndSize(*snap)
	if err != nil {
		p.discard(snap)
		res.Snapshot = nil
		return reject(fmt.Errorf("checksum snapshot: %w", err))
	}

	res.Trust = GenerateTrust(req.Tier, p.opts.Now(), res.Checksum)
	if res.Proxy != nil {
		for k, v := range res.Proxy {
			res.Trust.Metadata[k] = v
		}
	}

	if p.opts.Mirror != nil && !snap.WasDuplicate {
		if n, err := p.opts.Mirror.Push(*snap); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("mirror: %v", err))
			logger.Warn("Snapshot mirror failed", "pushed", n, "error", err)
		}
	}

	if profile.HasContentMonitoring() && p.opts.Registrar != nil {
		if _, err := p.opts.Registrar.Register(ctx, req.URL, req.Tier); err != nil && !errors.Is(err, changedetection.ErrDisabled) {
			logger.Warn("Change detection registration failed", "error", err)
		}
	}

	res.Outcome = OutcomeCreated
	if len(res.Warnings) > 0 {
		res.Outcome = OutcomeCreatedWithWarnings
	}
	logger.Info("Capture stored", "storage_key", snap.StorageKey, "duplicate", snap.WasDuplicate,
		"size", res.SizeBytes, "attempts", res.Attempts, "outcome", res.Outcome)
	return res, nil
}

// captureOnce runs every backend, each into its own pending directory, and
// places the first output that holds a primary file in backend order. The
// outputs of later backends are aborted once a snapshot is placed. Each
// failure is returned as a warning; if none succeeds the error wraps
// ErrAllBackendsFailed.
func (p *Pipeline) captureOnce(ctx context.Context, url string, backends []archivers.Backend, egress *proxy.Proxy, logWriter io.Writer) (*storage.Snapshot, string, []string, error) {
	ts := p.opts.Now()
	var warnings []string
	var outputs []captured

	abortAll := func(rest []captured) {
		for _, o := range rest {
			p.store.Abort(o.pending)
		}
	}

	for _, b := range backends {
		pending, err := p.store.Begin(url, ts)
		if err != nil {
			abortAll(outputs)
			return nil, "", warnings, err
		}
		fmt.Fprintf(logWriter, "Capturing with %s\n", b.Name())

		var result *archivers.Result
		err = utils.WithTimeout(ctx, p.opts.CaptureTimeout, func(ctx context.Context) error {
			var err error
			result, err = b.Capture(ctx, archivers.Request{
				URL:       url,
				Timestamp: ts,
				Dir:       pending.Dir,
				Proxy:     egress,
				Log:       logWriter,
			})
			return err
		})
		if err != nil {
			p.store.Abort(pending)
			if ctx.Err() != nil {
				abortAll(outputs)
				return nil, "", warnings, ctx.Err()
			}
			warnings = append(warnings, fmt.Sprintf("%s: %v", b.Name(), err))
			fmt.Fprintf(logWriter, "%s failed: %v\n", b.Name(), err)
			slog.Warn("Capture backend failed", "url", url, "backend", b.Name(), "error", err)
			continue
		}
		outputs = append(outputs, captured{backend: b.Name(), pending: pending, result: result})
	}

	for i, o := range outputs {
		snap, err := p.store.Place(o.pending, produced(o.result))
		if errors.Is(err, storage.ErrNoPrimary) {
			warnings = append(warnings, fmt.Sprintf("%s: %v", o.backend, err))
			continue
		}
		if err != nil {
			abortAll(outputs[i+1:])
			return nil, "", warnings, err
		}
		for _, rest := range outputs[i+1:] {
			fmt.Fprintf(logWriter, "%s output not kept, %s was placed\n", rest.backend, o.backend)
		}
		abortAll(outputs[i+1:])
		return snap, o.backend, warnings, nil
	}

	return nil, "", warnings, fmt.Errorf("%w: %s", ErrAllBackendsFailed, strings.Join(warnings, "; "))
}

// captured is a backend output waiting to be placed.
type captured struct {
	backend string
	pending *storage.Pending
	result  *archivers.Result
}

func produced(r *archivers.Result) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.AuxiliaryPaths)+1)
	if r.PrimaryPath != "" {
		out = append(out, r.PrimaryPath)
	}
	return append(out, r.AuxiliaryPaths...)
}

// discard deletes a freshly placed snapshot. Duplicates are left alone.
func (p *Pipeline) discard(s *storage.Snapshot) {
	if s == nil || s.WasDuplicate {
		return
	}
	if err := p.store.Delete(*s); err != nil {
		slog.Error("Failed to delete rejected snapshot", "storage_key", s.StorageKey, "error", err)
	}
}

func (p *Pipeline) probeExitIP(ctx context.Context, egress *proxy.Proxy, meta map[string]any, logWriter io.Writer) {
	if p.opts.Prober == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()
	ip, err := p.opts.Prober.ExitIP(ctx, egress)
	if err != nil {
		fmt.Fprintf(logWriter, "Warning: could not determine proxy exit IP: %v\n", err)
		return
	}
	meta["proxy_ip"] = ip
	fmt.Fprintf(logWriter, "Proxy exit IP %s (%s, %s)\n", ip, egress.Provider, egress.CountryCode)
}
