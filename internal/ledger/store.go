package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

const (
	// StateFileName is the name of the ledger file inside a run directory
	StateFileName = "ledger.json"

	lockFileName   = "ledger.lock"
	lockRetryDelay = 20 * time.Millisecond
)

// Store persists ledger state keyed by run key
type Store interface {
	// Load returns the stored state for key, or the zero State if none exists
	Load(ctx context.Context, key string) (*State, error)

	// Save durably stores state for key before returning
	Save(ctx context.Context, key string, state *State) error
}

// fileStore implements Store using the local filesystem
type fileStore struct {
	basePath string
}

// NewFileStore creates a Store that keeps one JSON file per run key under basePath
func NewFileStore(basePath string) Store {
	return &fileStore{
		basePath: basePath,
	}
}

func (f *fileStore) runDir(key string) (string, error) {
	escaped := url.PathEscape(key)
	if key == "" || escaped == "." || escaped == ".." {
		return "", fmt.Errorf("invalid ledger key %q", key)
	}
	return filepath.Join(f.basePath, escaped), nil
}

// Save writes the state to a temporary file and renames it over the previous one.
// Writers of the same key in other processes are excluded with a file lock.
func (f *fileStore) Save(ctx context.Context, key string, state *State) error {
	dir, err := f.runDir(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create ledger directory for '%s': %w", key, err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock ledger for '%s': %w", key, err)
	}
	if !locked {
		return fmt.Errorf("failed to lock ledger for '%s'", key)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	filePath := filepath.Join(dir, StateFileName)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger for '%s': %w", key, err)
	}

	tempPath := filePath + ".tmp"
	if err := writeSynced(tempPath, data); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write temporary ledger file for '%s': %w", key, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename ledger file for '%s': %w", key, err)
	}

	return nil
}

// Load reads the state for key. A missing file yields the zero State.
func (f *fileStore) Load(_ context.Context, key string) (*State, error) {
	dir, err := f.runDir(key)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- path is basePath joined with an escaped key
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger file for '%s': %w", key, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger for '%s': %w", key, err)
	}

	return &state, nil
}

func writeSynced(path string, data []byte) error {
	// #nosec G304 -- path is derived from the ledger directory
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
