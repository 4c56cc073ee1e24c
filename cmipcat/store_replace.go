package cmipcat

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Replacer is implemented by stores that can overwrite a path in one step.
// Readers observe either the old or the new content, never a partial one.
type Replacer interface {
	Replace(ctx context.Context, path string, r io.Reader) error
}

// Replace writes r to a temp file in the target directory and renames it
// over path.
func (f *fsStore) Replace(_ context.Context, path string, r io.Reader) error {
	fullPath, err := f.resolveFile(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cmipcat-replace-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Replace swaps the content of path under the store lock.
func (m *memoryStore) Replace(_ context.Context, path string, r io.Reader) error {
	key, ok := normalizePathForFile(path)
	if !ok {
		return ErrInvalidPath
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

var (
	_ Replacer = (*fsStore)(nil)
	_ Replacer = (*memoryStore)(nil)
)
