package ports

import (
	"time"

	"github.com/mirrorops/mirrorctl/internal/config"
)

// WatchStatus is the coarse task state parsed from the status document.
type WatchStatus struct {
	Status    string
	Message   string
	UpdatedAt time.Time
}

// WatchProgress is the merged view of a progress document, whichever
// task shape wrote it. Fields outside the writing task's shape are zero.
type WatchProgress struct {
	Phase          string
	Current        int
	Total          int
	Success        int
	Failed         int
	Broken         int
	Fixed          int
	CurrentPackage string
	CurrentFile    string
	Percent        float64
	Errors         []WatchError
	UpdatedAt      time.Time
}

// WatchError is one recent failure from a refresh progress document.
type WatchError struct {
	Package string
	Error   string
}

// WatchDiffInfo describes one diff snapshot found in the archives directory.
type WatchDiffInfo struct {
	ID          string
	FileCount   int
	ArchiveSize int64
	CreatedAt   time.Time
}

// WatchFileEntry is one manifest row of a diff snapshot.
type WatchFileEntry struct {
	Path  string
	Size  int64
	MTime time.Time
}

// WatchSource provides the telemetry read by the watch dashboard.
// This abstraction allows the TUI to be tested without real files.
type WatchSource interface {
	// LoadConfig loads the application configuration.
	LoadConfig() (*config.Config, error)

	// Status reads the current status document.
	Status(cfg *config.Config) (*WatchStatus, error)

	// Progress reads the current progress document.
	Progress(cfg *config.Config) (*WatchProgress, error)

	// BrokenArchives reads the broken-archives list, one path per line.
	BrokenArchives(cfg *config.Config) ([]string, error)

	// DiffSnapshots enumerates the diff manifests in the archives directory.
	DiffSnapshots(cfg *config.Config) ([]WatchDiffInfo, error)

	// ManifestFiles reads the manifest of a diff snapshot.
	ManifestFiles(cfg *config.Config, diffID string) ([]WatchFileEntry, error)

	// FileVersions returns the frozen and live contents of a tracked file
	// so the dashboard can render a diff between them. A missing side is
	// returned as an empty string.
	FileVersions(cfg *config.Config, relPath string) (frozen string, live string, err error)
}
