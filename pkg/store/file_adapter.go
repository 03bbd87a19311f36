package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"reelsync/pkg/domain"
)

// FileAdapter stores one TOML document per identity under a base directory.
// It is the local, synchronous backend used for guests: missing or corrupt
// documents degrade to defaults, other read errors are returned.
type FileAdapter struct {
	basePath string
}

// NewFileAdapter creates the base directory if missing.
func NewFileAdapter(basePath string) (*FileAdapter, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("local storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &FileAdapter{basePath: basePath}, nil
}

func (f *FileAdapter) Name() string  { return "local" }
func (f *FileAdapter) IsAsync() bool { return false }

// Load reads the document for id. Missing and undecodable documents yield
// defaults.
func (f *FileAdapter) Load(_ context.Context, id string) (domain.UserState, error) {
	id, err := normalizeID(id)
	if err != nil {
		return domain.UserState{}, err
	}
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return emptyState(id), nil
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("read local document %s: %w", id, err)
	}
	var state domain.UserState
	if err := toml.Unmarshal(data, &state); err != nil {
		return emptyState(id), nil
	}
	return prepareLoaded(state, id), nil
}

// Save writes the document through a temp file and rename.
func (f *FileAdapter) Save(_ context.Context, id string, state domain.UserState) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	state.ID = id
	data, err := toml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(f.basePath, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, f.path(id)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Clear removes the document for id. Missing documents are not an error.
func (f *FileAdapter) Clear(_ context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (f *FileAdapter) path(id string) string {
	return filepath.Join(f.basePath, safeFilename(id)+".toml")
}

func safeFilename(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "identity"
	}
	return b.String()
}
