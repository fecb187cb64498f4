package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	_ Snapshotter = (*FileSnapshotter)(nil)
	_ Quarantiner = (*FileSnapshotter)(nil)
)

// FileSnapshotter keeps a snapshot in a single JSON file.
// Writes are atomic: temp file, fsync, rename.
type FileSnapshotter struct {
	path string
}

func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path}
}

func (f *FileSnapshotter) Path() string {
	return f.path
}

func (f *FileSnapshotter) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}

	tmpPath := f.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing snapshot: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot: %w", err)
	}

	return nil
}

func (f *FileSnapshotter) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", f.path, err)
	}
	return data, nil
}

// Quarantine renames the snapshot file to <path>.corrupt-<unix>.
func (f *FileSnapshotter) Quarantine(ctx context.Context) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
	if err := os.Rename(f.path, dest); err != nil {
		return "", fmt.Errorf("moving snapshot aside: %w", err)
	}
	return dest, nil
}

// snapshotWriter serializes writes to one backend and drops snapshots older
// than the last one written, so concurrent persists never move the stored
// state backwards.
type snapshotWriter struct {
	mu      sync.Mutex
	backend Snapshotter
	written uint64
	held    bool
}

func (w *snapshotWriter) write(ctx context.Context, version uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.held {
		return ErrSnapshotHeld
	}
	if version <= w.written {
		return nil
	}
	if err := w.backend.Save(context.WithoutCancel(ctx), data); err != nil {
		return err
	}
	w.written = version
	return nil
}

// setAside moves an unreadable snapshot out of the way. When the backend
// cannot do that, every later write is refused so the original survives.
func (w *snapshotWriter) setAside(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.backend.(Quarantiner)
	if !ok {
		w.held = true
		return "", errors.New("backend cannot set snapshots aside")
	}
	dest, err := q.Quarantine(ctx)
	if err != nil {
		w.held = true
		return "", err
	}
	return dest, nil
}
