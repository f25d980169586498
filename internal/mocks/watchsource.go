package mocks

import (
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/ports"
)

// MockWatchSource implements ports.WatchSource for testing.
type MockWatchSource struct {
	// ConfigResult is the config to return from LoadConfig
	ConfigResult *config.Config
	// ConfigError is the error to return from LoadConfig
	ConfigError error

	// StatusResult is the status to return
	StatusResult *ports.WatchStatus
	// StatusError is the error to return from Status
	StatusError error

	// ProgressResult is the progress to return
	ProgressResult *ports.WatchProgress
	// ProgressError is the error to return from Progress
	ProgressError error

	// Broken is the broken-archive list to return
	Broken []string

	// Snapshots is the diff snapshot list to return
	Snapshots []ports.WatchDiffInfo

	// Manifests maps diff IDs to manifest entries
	Manifests map[string][]ports.WatchFileEntry

	// FrozenContents and LiveContents map tracked paths to file contents
	FrozenContents map[string]string
	LiveContents   map[string]string

	// Call tracking
	LoadConfigCalls    int
	StatusCalls        int
	ProgressCalls      int
	ManifestFilesCalls []string
	FileVersionsCalls  []string
}

// NewMockWatchSource creates a new mock watch source.
func NewMockWatchSource() *MockWatchSource {
	return &MockWatchSource{
		ConfigResult:   config.DefaultConfig(),
		StatusResult:   &ports.WatchStatus{Status: "completed"},
		ProgressResult: &ports.WatchProgress{},
		Manifests:      make(map[string][]ports.WatchFileEntry),
		FrozenContents: make(map[string]string),
		LiveContents:   make(map[string]string),
	}
}

// LoadConfig returns the configured result.
func (m *MockWatchSource) LoadConfig() (*config.Config, error) {
	m.LoadConfigCalls++
	if m.ConfigError != nil {
		return nil, m.ConfigError
	}
	return m.ConfigResult, nil
}

// Status returns the configured status document.
func (m *MockWatchSource) Status(cfg *config.Config) (*ports.WatchStatus, error) {
	m.StatusCalls++
	if m.StatusError != nil {
		return nil, m.StatusError
	}
	return m.StatusResult, nil
}

// Progress returns the configured progress document.
func (m *MockWatchSource) Progress(cfg *config.Config) (*ports.WatchProgress, error) {
	m.ProgressCalls++
	if m.ProgressError != nil {
		return nil, m.ProgressError
	}
	return m.ProgressResult, nil
}

// BrokenArchives returns the configured broken-archive list.
func (m *MockWatchSource) BrokenArchives(cfg *config.Config) ([]string, error) {
	return m.Broken, nil
}

// DiffSnapshots returns the configured snapshot list.
func (m *MockWatchSource) DiffSnapshots(cfg *config.Config) ([]ports.WatchDiffInfo, error) {
	return m.Snapshots, nil
}

// ManifestFiles returns the configured manifest for the diff ID.
func (m *MockWatchSource) ManifestFiles(cfg *config.Config, diffID string) ([]ports.WatchFileEntry, error) {
	m.ManifestFilesCalls = append(m.ManifestFilesCalls, diffID)
	return m.Manifests[diffID], nil
}

// FileVersions returns the configured frozen and live contents.
func (m *MockWatchSource) FileVersions(cfg *config.Config, relPath string) (string, string, error) {
	m.FileVersionsCalls = append(m.FileVersionsCalls, relPath)
	return m.FrozenContents[relPath], m.LiveContents[relPath], nil
}

// Compile-time check that MockWatchSource implements ports.WatchSource.
var _ ports.WatchSource = (*MockWatchSource)(nil)
