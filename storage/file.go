package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/ruteri/token-provisioner/interfaces"
)

// FileStore keeps one JSON document per state key in a local directory.
// Records are replaced atomically by writing a temporary file next to the
// target and renaming it into place.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file store rooted at baseDir, creating the directory
// if it doesn't exist.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("empty state directory")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Load reads the record for key. A missing file is not an error.
func (s *FileStore) Load(ctx context.Context, key interfaces.StateKey) (*interfaces.ProvisioningState, error) {
	path := s.PathFor(key)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Debug("No provisioning state on disk", slog.String("path", path))
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	state, err := DecodeState(key, data)
	if err != nil {
		return nil, err
	}

	s.log.Debug("Loaded provisioning state",
		slog.String("path", path),
		slog.String("stage", state.Stage().String()))

	return state, nil
}

// Save writes the record for key, replacing any previous snapshot.
func (s *FileStore) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}

	path := s.PathFor(key)
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return err
	}

	s.log.Debug("Stored provisioning state",
		slog.String("path", path),
		slog.String("stage", state.Stage().String()))

	return nil
}

// Lock takes an advisory lock on the record for key. The lock lives in a
// sibling ".lock" file and is released by calling the returned function.
func (s *FileStore) Lock(ctx context.Context, key interfaces.StateKey) (func() error, error) {
	lock := flock.New(s.PathFor(key) + ".lock")

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStateLocked, lock.Path())
	}

	return lock.Unlock, nil
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

// PathFor returns the file holding the record for key.
func (s *FileStore) PathFor(key interfaces.StateKey) string {
	return filepath.Join(s.baseDir, key.String()+".json")
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}
