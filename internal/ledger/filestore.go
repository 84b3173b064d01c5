package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore keeps State as a JSON document. Writes go to a temp file in the
// same directory and are renamed over the target.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

// Load reads the state file. A missing file yields ErrNoState. An
// undecodable file is moved aside and yields ErrCorruptState.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, ErrNoState
	}
	if err != nil {
		return State{}, fmt.Errorf("read %s: %w", f.path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
		if rerr := os.Rename(f.path, aside); rerr != nil {
			return State{}, fmt.Errorf("%w: %v (rename: %v)", ErrCorruptState, err, rerr)
		}
		return State{}, fmt.Errorf("%w: %v (moved to %s)", ErrCorruptState, err, aside)
	}
	return st, nil
}

// Save atomically replaces the state file.
func (f *FileStore) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
