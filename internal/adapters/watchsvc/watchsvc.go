// Package watchsvc provides the real implementation of ports.WatchSource.
// It reads the status, progress and broken-list documents that the task
// services publish, plus the diff manifests and both file trees.
package watchsvc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/ports"
)

const manifestSuffix = "_files.json"

// Service implements ports.WatchSource over the real filesystem.
type Service struct{}

// New creates a new watch source.
func New() *Service {
	return &Service{}
}

// LoadConfig loads the application configuration.
func (s *Service) LoadConfig() (*config.Config, error) {
	return config.Load()
}

// statusDoc mirrors the status document layout on disk.
type statusDoc struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updatedAt"`
}

// progressDoc is the superset of every progress document shape. A given
// task only writes its own fields; the rest decode to zero values.
type progressDoc struct {
	Phase          string       `json:"phase"`
	Current        int          `json:"current"`
	Total          int          `json:"total"`
	Success        int          `json:"success"`
	Failed         int          `json:"failed"`
	Broken         int          `json:"broken"`
	Fixed          int          `json:"fixed"`
	CurrentPackage string       `json:"currentPackage"`
	CurrentFile    string       `json:"currentFile"`
	Percent        float64      `json:"percent"`
	Errors         []errorEntry `json:"errors"`
	UpdatedAt      string       `json:"updatedAt"`
}

type errorEntry struct {
	Package string `json:"package"`
	Error   string `json:"error"`
}

type manifestEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	MTime string `json:"mtime"`
}

// Status reads the current status document.
func (s *Service) Status(cfg *config.Config) (*ports.WatchStatus, error) {
	data, err := os.ReadFile(cfg.StatusFile)
	if err != nil {
		return nil, err
	}
	var doc statusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfg.StatusFile, err)
	}
	return &ports.WatchStatus{
		Status:    doc.Status,
		Message:   doc.Message,
		UpdatedAt: parseTime(doc.UpdatedAt),
	}, nil
}

// Progress reads the current progress document, whichever task wrote it.
func (s *Service) Progress(cfg *config.Config) (*ports.WatchProgress, error) {
	data, err := os.ReadFile(cfg.ProgressFile)
	if err != nil {
		return nil, err
	}
	var doc progressDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfg.ProgressFile, err)
	}

	p := &ports.WatchProgress{
		Phase:          doc.Phase,
		Current:        doc.Current,
		Total:          doc.Total,
		Success:        doc.Success,
		Failed:         doc.Failed,
		Broken:         doc.Broken,
		Fixed:          doc.Fixed,
		CurrentPackage: doc.CurrentPackage,
		CurrentFile:    doc.CurrentFile,
		Percent:        doc.Percent,
		UpdatedAt:      parseTime(doc.UpdatedAt),
	}
	for _, e := range doc.Errors {
		p.Errors = append(p.Errors, ports.WatchError{Package: e.Package, Error: e.Error})
	}
	return p, nil
}

// BrokenArchives reads the broken-archives list, one path per line.
// A missing list simply means no integrity check has run yet.
func (s *Service) BrokenArchives(cfg *config.Config) ([]string, error) {
	data, err := os.ReadFile(cfg.BrokenFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// DiffSnapshots enumerates the diff manifests in the archives directory,
// newest first.
func (s *Service) DiffSnapshots(cfg *config.Config) ([]ports.WatchDiffInfo, error) {
	entries, err := os.ReadDir(cfg.DiffArchivesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result []ports.WatchDiffInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, manifestSuffix)

		info := ports.WatchDiffInfo{ID: id}
		if fi, err := entry.Info(); err == nil {
			info.CreatedAt = fi.ModTime()
		}
		if files, err := s.readManifest(filepath.Join(cfg.DiffArchivesDir, name)); err == nil {
			info.FileCount = len(files)
		}
		if fi, err := os.Stat(filepath.Join(cfg.DiffArchivesDir, id+".tar.gz")); err == nil {
			info.ArchiveSize = fi.Size()
		}
		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ManifestFiles reads the manifest of a diff snapshot.
func (s *Service) ManifestFiles(cfg *config.Config, diffID string) ([]ports.WatchFileEntry, error) {
	files, err := s.readManifest(filepath.Join(cfg.DiffArchivesDir, diffID+manifestSuffix))
	if err != nil {
		return nil, err
	}

	result := make([]ports.WatchFileEntry, len(files))
	for i, f := range files {
		result[i] = ports.WatchFileEntry{
			Path:  f.Path,
			Size:  f.Size,
			MTime: parseTime(f.MTime),
		}
	}
	return result, nil
}

// FileVersions returns the frozen and live contents of a tracked file.
// A side that does not exist reads as empty.
func (s *Service) FileVersions(cfg *config.Config, relPath string) (string, string, error) {
	rel := filepath.FromSlash(relPath)

	frozen, err := readIfPresent(filepath.Join(cfg.FrozenDir, rel))
	if err != nil {
		return "", "", err
	}
	live, err := readIfPresent(filepath.Join(cfg.StorageDir, rel))
	if err != nil {
		return "", "", err
	}
	return frozen, live, nil
}

func (s *Service) readManifest(path string) ([]manifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var files []manifestEntry
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return files, nil
}

func readIfPresent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseTime reads an RFC 3339 timestamp, returning the zero time when the
// field is absent or malformed.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Compile-time check that Service implements ports.WatchSource.
var _ ports.WatchSource = (*Service)(nil)
