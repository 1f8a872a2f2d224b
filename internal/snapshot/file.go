package snapshot

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/farmdash/internal/errors"
)

// FileStore keeps the snapshot as a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore writing to path, creating its directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.ValidationError("snapshot file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Name() string { return BackendFile }

// Load reads the snapshot file; a missing file is not an error.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryFileIO).
			Context("operation", "load").
			Context("path", f.path).
			Build()
	}
	return decode(data)
}

// Save writes the snapshot to a temporary file in the same directory and renames it into place.
func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tempFile, err := os.CreateTemp(filepath.Dir(f.path), "snapshot-*.json")
	if err != nil {
		return f.ioError(err, "create_temp")
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return f.ioError(err, "write_temp")
	}
	if err := tempFile.Close(); err != nil {
		return f.ioError(err, "close_temp")
	}
	if err := os.Rename(tempFileName, f.path); err != nil {
		return f.ioError(err, "rename")
	}
	return nil
}

// Clear removes the snapshot file.
func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.ioError(err, "clear")
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) ioError(err error, op string) error {
	return errors.New(err).
		Component("snapshot").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", f.path).
		Build()
}
