package cmipcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a path that would escape the storage root.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store using the local filesystem.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
//
// Put never overwrites; use Replace to swap an existing file.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, os.ErrNotExist)
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) Put(_ context.Context, path string, r io.Reader) error {
	fullPath, err := f.resolveFile(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrPathExists
		}
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *fsStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := f.resolveFile(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *fsStore) Exists(_ context.Context, path string) (bool, error) {
	fullPath, err := f.resolveFile(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	searchPath, err := f.resolvePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(searchPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (f *fsStore) Delete(_ context.Context, path string) error {
	fullPath, err := f.resolveFile(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolveFile maps a store key to a file below root.
func (f *fsStore) resolveFile(path string) (string, error) {
	cleaned, ok := normalizePathForFile(path)
	if !ok {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

// resolvePrefix maps a list prefix to a directory below root. Prefixes
// name directories; a partial file name is not matched.
func (f *fsStore) resolvePrefix(prefix string) (string, error) {
	cleaned, ok := normalizePathForPrefix(prefix)
	if !ok {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store using an in-memory map.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory Store.
// Memory is safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{
		data: make(map[string][]byte),
	}
}

func (m *memoryStore) Put(_ context.Context, path string, r io.Reader) error {
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
	if _, exists := m.data[key]; exists {
		return ErrPathExists
	}
	m.data[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	key, ok := normalizePathForFile(path)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[key]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (m *memoryStore) Exists(_ context.Context, path string) (bool, error) {
	key, ok := normalizePathForFile(path)
	if !ok {
		return false, ErrInvalidPath
	}

	m.mu.RLock()
	_, exists := m.data[key]
	m.mu.RUnlock()
	return exists, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	normalized, ok := normalizePathForPrefix(prefix)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for key := range m.data {
		if strings.HasPrefix(key, normalized) {
			paths = append(paths, key)
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func (m *memoryStore) Delete(_ context.Context, path string) error {
	key, ok := normalizePathForFile(path)
	if !ok {
		return ErrInvalidPath
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// replace writes r to path over any existing object. Stores implementing
// Replacer swap the content atomically; for others the delete and the write
// are separate steps.
func replace(ctx context.Context, store Store, path string, r io.Reader) error {
	if rp, ok := store.(Replacer); ok {
		return rp.Replace(ctx, path, r)
	}
	if err := store.Delete(ctx, path); err != nil {
		return err
	}
	return store.Put(ctx, path, r)
}

func normalizePathForFile(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}

func normalizePathForPrefix(path string) (string, bool) {
	if path == "" {
		return "", true
	}
	cleaned := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	if cleaned == "." || cleaned == "" {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	if strings.HasSuffix(path, "/") {
		cleaned += "/"
	}
	return cleaned, true
}
