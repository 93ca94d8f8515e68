package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const snapshotFileMode = 0o644

// FileStore keeps the snapshot in a single JSON file. Readers share a read
// lock; Mutate and SaveAll hold the write lock, so load-modify-save cycles
// are linearized within the process. Saves replace the file by renaming a
// fully written temporary file over it.
type FileStore struct {
	path     string
	mu       sync.RWMutex
	observer OpObserver
}

type FileStoreOption func(*FileStore)

// WithObserver reports the duration and outcome of every load and save.
func WithObserver(o OpObserver) FileStoreOption {
	return func(s *FileStore) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path, observer: nopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) LoadAll(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *FileStore) SaveAll(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(snap)
}

func (s *FileStore) Mutate(_ context.Context, fn func(Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	return s.save(snap)
}

// load reads the snapshot. A missing or empty file is an empty store.
func (s *FileStore) load() (snap Snapshot, err error) {
	start := time.Now()
	defer func() { s.observer.ObserveStoreOp("load", time.Since(start), err) }()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, s.path, err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

func (s *FileStore) save(snap Snapshot) (err error) {
	start := time.Now()
	defer func() { s.observer.ObserveStoreOp("save", time.Since(start), err) }()

	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrStoreUnavailable, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path. Readers see the old or the new file,
// never a partial one.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, snapshotFileMode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Platforms that cannot open or sync a directory are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
