package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"linkvault/internal/utils"
)

// PrimaryFile is the completeness marker of a capture directory.
const PrimaryFile = "singlefile.html"

const (
	partialSuffix = ".partial"
	yearLayout    = "2006"
	dayLayout     = "0102"
	timeLayout    = "150405"

	// maxSlotProbe bounds how far Place walks forward when two distinct
	// captures of one URL land in the same second.
	maxSlotProbe = 60
)

var (
	ErrNoPrimary = errors.New("capture produced no primary content file")
	ErrNotFound  = errors.New("snapshot not found")
)

// Snapshot is one completed capture directory.
type Snapshot struct {
	URL          string
	Timestamp    time.Time
	StorageKey   string // domain/hash/YYYY/MMDD/HHMMSS, slash separated
	Dir          string
	WasDuplicate bool
}

// PrimaryPath is the absolute path of the primary content file.
func (s Snapshot) PrimaryPath() string {
	return filepath.Join(s.Dir, PrimaryFile)
}

// Pending is a capture directory being written. Backends write into Dir;
// nothing under it is visible to ListSnapshots until Place succeeds.
type Pending struct {
	URL       string
	Timestamp time.Time
	Dir       string
	urlDir    string
}

// Path returns where a backend should write the named file.
func (p *Pending) Path(name string) string {
	return filepath.Join(p.Dir, name)
}

// ArchiveStore owns the capture directory tree
// {root}/{domain}/{url_hash}/{YYYY}/{MMDD}/{HHMMSS}/. The tree is the index:
// there is no table of snapshots to drift out of sync with the disk.
type ArchiveStore struct {
	root string
}

func NewArchiveStore(root string) *ArchiveStore {
	return &ArchiveStore{root: root}
}

func (a *ArchiveStore) Root() string {
	return a.root
}

// urlKey returns the slash separated domain/hash prefix for a URL.
func urlKey(rawURL string) (string, error) {
	domain, err := utils.URLDomain(rawURL)
	if err != nil {
		return "", err
	}
	// ports would otherwise put a colon in a path segment
	domain = strings.ReplaceAll(domain, ":", "_")
	return domain + "/" + utils.PathHash(rawURL), nil
}

func slotKey(ts time.Time) string {
	ts = ts.UTC()
	return ts.Format(yearLayout) + "/" + ts.Format(dayLayout) + "/" + ts.Format(timeLayout)
}

// Begin allocates a pending capture directory for url at ts.
func (a *ArchiveStore) Begin(rawURL string, ts time.Time) (*Pending, error) {
	prefix, err := urlKey(rawURL)
	if err != nil {
		return nil, fmt.Errorf("begin capture: %w", err)
	}
	ts = ts.UTC().Truncate(time.Second)
	urlDir := filepath.Join(a.root, filepath.FromSlash(prefix))
	slot := filepath.Join(urlDir, filepath.FromSlash(slotKey(ts)))
	if err := os.MkdirAll(filepath.Dir(slot), 0755); err != nil {
		return nil, fmt.Errorf("create pending dir: %w", err)
	}
	// concurrent attempts for the same second each get their own directory
	dir, err := os.MkdirTemp(filepath.Dir(slot), filepath.Base(slot)+".*"+partialSuffix)
	if err != nil {
		return nil, fmt.Errorf("create pending dir: %w", err)
	}
	return &Pending{URL: rawURL, Timestamp: ts, Dir: dir, urlDir: urlDir}, nil
}

// Abort removes everything written for a pending capture. Safe to call
// more than once.
func (a *ArchiveStore) Abort(p *Pending) error {
	if p == nil {
		return nil
	}
	if err := os.RemoveAll(p.Dir); err != nil {
		return fmt.Errorf("abort capture %s: %w", p.Dir, err)
	}
	a.pruneEmpty(filepath.Dir(p.Dir), p.urlDir)
	return nil
}

// Place completes a pending capture. Files in produced that live outside
// the pending directory are copied in under their base name. The primary
// file is then compared byte for byte against every existing snapshot of
// the URL; on a match the pending directory is discarded and the existing
// snapshot is returned with WasDuplicate set. Otherwise the directory is
// renamed into its final place. On any error the pending directory is
// removed before returning.
func (a *ArchiveStore) Place(p *Pending, produced []string) (snap *Snapshot, err error) {
	defer func() {
		if err != nil {
			a.Abort(p)
		}
	}()

	inside := filepath.Clean(p.Dir) + string(filepath.Separator)
	for _, src := range produced {
		if strings.HasPrefix(filepath.Clean(src), inside) {
			continue
		}
		if err := copyFile(src, p.Path(filepath.Base(src))); err != nil {
			return nil, fmt.Errorf("collect %s: %w", src, err)
		}
	}

	primary := p.Path(PrimaryFile)
	info, err := os.Stat(primary)
	if err != nil || !info.Mode().IsRegular() {
		return nil, ErrNoPrimary
	}

	existing, err := a.ListSnapshots(p.URL)
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		same, err := sameContent(primary, s.PrimaryPath())
		if err != nil {
			slog.Warn("Dedup comparison failed", "snapshot", s.StorageKey, "error", err)
			continue
		}
		if same {
			if err := a.Abort(p); err != nil {
				return nil, err
			}
			s.WasDuplicate = true
			return &s, nil
		}
	}

	prefix, _ := urlKey(p.URL)
	ts := p.Timestamp
	for i := 0; i < maxSlotProbe; i++ {
		key := prefix + "/" + slotKey(ts)
		final := filepath.Join(a.root, filepath.FromSlash(key))
		if _, statErr := os.Stat(final); statErr == nil {
			ts = ts.Add(time.Second)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
			return nil, fmt.Errorf("create snapshot parent: %w", err)
		}
		if err := os.Rename(p.Dir, final); err != nil {
			return nil, fmt.Errorf("move snapshot into place: %w", err)
		}
		a.pruneEmpty(filepath.Dir(p.Dir), p.urlDir)
		return &Snapshot{URL: p.URL, Timestamp: ts, StorageKey: key, Dir: final}, nil
	}
	return nil, fmt.Errorf("no free snapshot slot near %s", p.Timestamp.Format(time.RFC3339))
}

// ListSnapshots returns the completed snapshots of url, newest first.
// Directories that do not parse as a timestamp or lack the primary file
// are skipped.
func (a *ArchiveStore) ListSnapshots(rawURL string) ([]Snapshot, error) {
	prefix, err := urlKey(rawURL)
	if err != nil {
		return nil, err
	}
	urlDir := filepath.Join(a.root, filepath.FromSlash(prefix))

	years, err := os.ReadDir(urlDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var snaps []Snapshot
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		days, _ := os.ReadDir(filepath.Join(urlDir, y.Name()))
		for _, d := range days {
			if !d.IsDir() {
				continue
			}
			times, _ := os.ReadDir(filepath.Join(urlDir, y.Name(), d.Name()))
			for _, t := range times {
				if !t.IsDir() {
					continue
				}
				ts, ok := parseSlot(y.Name(), d.Name(), t.Name())
				if !ok {
					continue
				}
				key := prefix + "/" + y.Name() + "/" + d.Name() + "/" + t.Name()
				dir := filepath.Join(urlDir, y.Name(), d.Name(), t.Name())
				if !isRegular(filepath.Join(dir, PrimaryFile)) {
					continue
				}
				snaps = append(snaps, Snapshot{URL: rawURL, Timestamp: ts, StorageKey: key, Dir: dir})
			}
		}
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	return snaps, nil
}

func parseSlot(year, day, tod string) (time.Time, bool) {
	if len(year) != 4 || len(day) != 4 || len(tod) != 6 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(yearLayout+dayLayout+timeLayout, year+day+tod, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Latest returns the newest snapshot of url or ErrNotFound.
func (a *ArchiveStore) Latest(rawURL string) (*Snapshot, error) {
	snaps, err := a.ListSnapshots(rawURL)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return &snaps[0], nil
}

// Open resolves a storage key recorded on a link back to its snapshot.
func (a *ArchiveStore) Open(rawURL, storageKey string) (*Snapshot, error) {
	parts := strings.Split(storageKey, "/")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: malformed key %q", ErrNotFound, storageKey)
	}
	ts, ok := parseSlot(parts[2], parts[3], parts[4])
	if !ok {
		return nil, fmt.Errorf("%w: malformed key %q", ErrNotFound, storageKey)
	}
	dir := filepath.Join(a.root, filepath.FromSlash(storageKey))
	if !isRegular(filepath.Join(dir, PrimaryFile)) {
		return nil, ErrNotFound
	}
	return &Snapshot{URL: rawURL, Timestamp: ts, StorageKey: storageKey, Dir: dir}, nil
}

// Files lists the snapshot's files as slash separated paths relative to the
// snapshot directory, in lexicographic order.
func (a *ArchiveStore) Files(s Snapshot) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ChecksumAndSize hashes every file of the snapshot in lexicographic path
// order with SHA-256 and returns the hex digest and total byte count.
func (a *ArchiveStore) ChecksumAndSize(s Snapshot) (string, int64, error) {
	files, err := a.Files(s)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", s.StorageKey, err)
	}

	hasher := sha256.New()
	var total int64
	for _, name := range files {
		f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(name)))
		if err != nil {
			return "", 0, fmt.Errorf("checksum %s: %w", name, err)
		}
		n, err := io.Copy(hasher, f)
		f.Close()
		if err != nil {
			return "", 0, fmt.Errorf("checksum %s: %w", name, err)
		}
		total += n
	}
	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

// DirSize returns the total size of the snapshot's files in bytes.
func (a *ArchiveStore) DirSize(s Snapshot) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.Dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Delete removes a snapshot directory. Deleting a missing snapshot is not
// an error.
func (a *ArchiveStore) Delete(s Snapshot) error {
	if s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", s.StorageKey, err)
	}
	a.pruneEmpty(filepath.Dir(s.Dir), a.root)
	return nil
}

// CleanupIncomplete removes capture directories at snapshot depth that have
// no primary file and were last modified before now-olderThan. Pending
// directories left behind by crashed workers are included. It returns the
// number of directories removed.
func (a *ArchiveStore) CleanupIncomplete(olderThan time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-olderThan)
	// root/domain/hash/YYYY/MMDD/HHMMSS
	pattern := filepath.Join(a.root, "*", "*", "*", "*", "*")
	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if isRegular(filepath.Join(dir, PrimaryFile)) && !strings.HasSuffix(dir, partialSuffix) {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove incomplete capture", "dir", dir, "error", err)
			continue
		}
		a.pruneEmpty(filepath.Dir(dir), a.root)
		removed++
	}
	return removed, nil
}

// pruneEmpty removes now-empty parents of dir up to, not including, stop.
func (a *ArchiveStore) pruneEmpty(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sameContent compares two files byte for byte, short-circuiting on size.
func sameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}

	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
