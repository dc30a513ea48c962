package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Mirror copies completed snapshots into a blob Storage, usually an
// S3Storage wrapped in ZSTDStorage. Each file lands at
// {storage_key}/{name}.zst.
type Mirror struct {
	store *ArchiveStore
	blob  Storage
}

func NewMirror(store *ArchiveStore, blob Storage) *Mirror {
	return &Mirror{store: store, blob: blob}
}

// MirrorKey is the blob key for one file of a snapshot.
func MirrorKey(storageKey, name string) string {
	return storageKey + "/" + name + ".zst"
}

// Push uploads every file of s. It returns the number of files written.
// A failed push removes the files it already wrote, so a mirrored snapshot
// is either complete or absent.
func (m *Mirror) Push(s Snapshot) (int, error) {
	files, err := m.store.Files(s)
	if err != nil {
		return 0, fmt.Errorf("mirror %s: %w", s.StorageKey, err)
	}

	for i, name := range files {
		if err := m.pushFile(s, name); err != nil {
			if rmErr := m.Remove(s.StorageKey, files[:i]); rmErr != nil {
				slog.Warn("Failed to roll back partial mirror", "storage_key", s.StorageKey, "error", rmErr)
			}
			return 0, fmt.Errorf("mirror %s/%s: %w", s.StorageKey, name, err)
		}
	}
	return len(files), nil
}

func (m *Mirror) pushFile(s Snapshot, name string) error {
	src, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(name)))
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := m.blob.Writer(MirrorKey(s.StorageKey, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Open reads one mirrored file back, decompressed.
func (m *Mirror) Open(storageKey, name string) (io.ReadCloser, error) {
	return m.blob.Reader(MirrorKey(storageKey, name))
}

// Remove deletes the mirrored copies of the named files.
func (m *Mirror) Remove(storageKey string, names []string) error {
	for _, name := range names {
		if err := m.blob.Delete(MirrorKey(storageKey, name)); err != nil {
			return fmt.Errorf("remove mirror %s/%s: %w", storageKey, name, err)
		}
	}
	return nil
}
