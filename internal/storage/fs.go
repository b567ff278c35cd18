package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/starford/storyloom/internal/checksum"
	"github.com/starford/storyloom/internal/models"
)

// FS implements Provider on a vault directory laid out as
// <root>/<story_id>/context.md.
type FS struct {
	root string // absolute path to vault directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// resolve maps a vault-relative path to an absolute one. Absolute paths and
// paths leaving the vault are rejected.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return filepath.Join(f.root, local), nil
}

// List returns metadata for the context document of storyID, or of every
// story when storyID is empty. Stories without a document are skipped.
func (f *FS) List(storyID string) ([]models.DocumentMetadata, error) {
	ids := []string{storyID}
	if storyID == "" {
		entries, err := os.ReadDir(f.root)
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		ids = ids[:0]
		for _, e := range entries {
			if e.IsDir() && ValidStoryID(e.Name()) {
				ids = append(ids, e.Name())
			}
		}
	}

	var out []models.DocumentMetadata
	for _, id := range ids {
		rel, err := ContextPath(id)
		if err != nil {
			return nil, err
		}
		meta, err := f.stat(rel)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (f *FS) stat(rel string) (models.DocumentMetadata, error) {
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return models.DocumentMetadata{}, err
	}
	if !info.Mode().IsRegular() {
		return models.DocumentMetadata{}, fs.ErrNotExist
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.DocumentMetadata{}, err
	}
	return models.DocumentMetadata{
		Path:      rel,
		Checksum:  checksum.Sum(data),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces path with content so readers never see a partial document.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	return writeAtomic(abs, content)
}

// writeAtomic writes a sibling temp file, syncs it, then renames it over abs.
func writeAtomic(abs string, content []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".storyloom-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = os.Rename(tmp.Name(), abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Delete removes a file from the vault, and its directory once empty.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: refusing to delete vault root")
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	if dir := filepath.Dir(abs); dir != f.root {
		// Fails harmlessly while other files remain.
		_ = os.Remove(dir)
	}
	return nil
}
