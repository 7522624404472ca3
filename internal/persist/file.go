package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileAdapter keeps the snapshot as a JSON file on local disk. Writes
// go through a temp file and rename, so a crash mid-write never leaves
// a truncated snapshot behind.
type FileAdapter struct {
	path string
}

// NewFileAdapter creates a file adapter writing to path.
func NewFileAdapter(path string) *FileAdapter {
	return &FileAdapter{path: path}
}

func (a *FileAdapter) Save(_ context.Context, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("persist: create snapshot dir: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("persist: commit snapshot: %w", err)
	}
	return nil
}

func (a *FileAdapter) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	if state.Version != SchemaVersion {
		return nil, fmt.Errorf("persist: unsupported snapshot version %d", state.Version)
	}
	return &state, nil
}
