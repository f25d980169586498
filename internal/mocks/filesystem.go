package mocks

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

// MockFileSystem implements ports.FileSystem for testing.
type MockFileSystem struct {
	// Files maps paths to file contents
	Files map[string][]byte
	// MTimes maps paths to modification times reported by Stat
	MTimes map[string]time.Time
	// Dirs tracks directories created with MkdirAll
	Dirs map[string]bool
	// Errors maps paths to errors for simulating failures
	Errors map[string]error
	// WalkEntries contains the entries replayed by Walk
	WalkEntries []WalkEntry
}

// WalkEntry represents a file or directory entry for Walk testing.
type WalkEntry struct {
	Path string
	Info os.FileInfo
	Err  error
}

// NewMockFileSystem creates a new mock filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:  make(map[string][]byte),
		MTimes: make(map[string]time.Time),
		Dirs:   make(map[string]bool),
		Errors: make(map[string]error),
	}
}

// AddFile stores content and a modification time for a path.
func (m *MockFileSystem) AddFile(path string, content []byte, mtime time.Time) {
	m.Files[path] = content
	m.MTimes[path] = mtime
}

// Stat returns file info for the named file.
func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if content, ok := m.Files[name]; ok {
		return &mockFileInfo{
			name:    filepath.Base(name),
			size:    int64(len(content)),
			modTime: m.MTimes[name],
		}, nil
	}
	if m.Dirs[name] {
		return &mockFileInfo{name: filepath.Base(name), isDir: true}, nil
	}
	return nil, os.ErrNotExist
}

// MkdirAll records the directory as existing.
func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if err, ok := m.Errors[path]; ok {
		return err
	}
	m.Dirs[path] = true
	return nil
}

// ReadFile reads the named file and returns the contents.
func (m *MockFileSystem) ReadFile(name string) ([]byte, error) {
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if content, ok := m.Files[name]; ok {
		return content, nil
	}
	return nil, os.ErrNotExist
}

// WriteFile writes data to the named file, creating it if necessary.
func (m *MockFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err, ok := m.Errors[name]; ok {
		return err
	}
	m.Files[name] = data
	return nil
}

// Chtimes records a new modification time for the named file.
func (m *MockFileSystem) Chtimes(name string, atime, mtime time.Time) error {
	if err, ok := m.Errors[name]; ok {
		return err
	}
	if _, ok := m.Files[name]; !ok {
		return os.ErrNotExist
	}
	m.MTimes[name] = mtime
	return nil
}

// Walk replays WalkEntries whose path is under root.
func (m *MockFileSystem) Walk(root string, fn ports.WalkFunc) error {
	for _, entry := range m.WalkEntries {
		if strings.HasPrefix(entry.Path, root) {
			if err := fn(entry.Path, entry.Info, entry.Err); err != nil {
				if err == filepath.SkipDir || err == filepath.SkipAll {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// FileInfo builds an os.FileInfo for WalkEntries.
func FileInfo(name string, size int64, modTime time.Time, isDir bool) os.FileInfo {
	return &mockFileInfo{name: name, size: size, modTime: modTime, isDir: isDir}
}

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi *mockFileInfo) Sys() interface{}   { return nil }

// Compile-time check that MockFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*MockFileSystem)(nil)
