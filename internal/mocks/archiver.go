package mocks

import (
	"github.com/mirrorops/mirrorctl/internal/ports"
)

// MockArchiver implements ports.Archiver for testing.
type MockArchiver struct {
	// CreateCalls records calls to Create
	CreateCalls []CreateCall
	// ExtractCalls records calls to Extract
	ExtractCalls []ExtractCall
	// ListResults maps archive paths to entry listings
	ListResults map[string]map[string]ports.FileEntry
	// ReadResults maps "archivePath:name" to content
	ReadResults map[string][]byte
	// Errors maps method names to errors
	Errors map[string]error
}

// CreateCall records parameters of a Create call.
type CreateCall struct {
	DestPath string
	BaseDir  string
	Files    []string
	AddCalls int
}

// ExtractCall records parameters of an Extract call.
type ExtractCall struct {
	ArchivePath string
	DestDir     string
}

// NewMockArchiver creates a new mock archiver.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{
		ListResults: make(map[string]map[string]ports.FileEntry),
		ReadResults: make(map[string][]byte),
		Errors:      make(map[string]error),
	}
}

// Create records the call and invokes onAdd once per file.
func (m *MockArchiver) Create(destPath, baseDir string, files []string, onAdd func(done int)) error {
	call := CreateCall{
		DestPath: destPath,
		BaseDir:  baseDir,
		Files:    append([]string{}, files...),
	}
	if err, ok := m.Errors["Create"]; ok {
		m.CreateCalls = append(m.CreateCalls, call)
		return err
	}
	for i := range files {
		if onAdd != nil {
			onAdd(i + 1)
			call.AddCalls++
		}
	}
	m.CreateCalls = append(m.CreateCalls, call)
	return nil
}

// List returns the configured entry listing for the archive.
func (m *MockArchiver) List(archivePath string) (map[string]ports.FileEntry, error) {
	if err, ok := m.Errors["List"]; ok {
		return nil, err
	}
	if result, ok := m.ListResults[archivePath]; ok {
		return result, nil
	}
	return make(map[string]ports.FileEntry), nil
}

// Extract records the call.
func (m *MockArchiver) Extract(archivePath, destDir string) error {
	m.ExtractCalls = append(m.ExtractCalls, ExtractCall{
		ArchivePath: archivePath,
		DestDir:     destDir,
	})
	if err, ok := m.Errors["Extract"]; ok {
		return err
	}
	return nil
}

// ReadFile returns the configured content for "archivePath:name".
func (m *MockArchiver) ReadFile(archivePath, name string) ([]byte, error) {
	if err, ok := m.Errors["ReadFile"]; ok {
		return nil, err
	}
	if content, ok := m.ReadResults[archivePath+":"+name]; ok {
		return content, nil
	}
	return nil, nil
}

// Compile-time check that MockArchiver implements ports.Archiver.
var _ ports.Archiver = (*MockArchiver)(nil)
