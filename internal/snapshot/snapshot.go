// Package snapshot computes the difference between the live storage
// tree and the frozen baseline, packs it into a portable archive with a
// manifest, and later replays the manifest to advance the baseline.
//
// The frozen tree only ever advances through Sync replaying a manifest
// written by Diff. The cycle is: diff, carry the archive across the air
// gap, confirm, sync.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mirrorops/mirrorctl/internal/adapters/osfs"
	"github.com/mirrorops/mirrorctl/internal/adapters/targz"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/logging"
	"github.com/mirrorops/mirrorctl/internal/ports"
	"github.com/mirrorops/mirrorctl/internal/progress"
)

// excludedNames are registry bookkeeping and OS metadata files that
// never belong in a diff, whatever their modification time.
var excludedNames = map[string]bool{
	".sinopia-db.json":   true,
	".verdaccio-db.json": true,
	".DS_Store":          true,
}

// FileInfo describes one file captured in a snapshot manifest.
type FileInfo struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	MTime string `json:"mtime"`
}

// Result describes a produced diff snapshot, printed as the task's
// JSON result document.
type Result struct {
	DiffID              string   `json:"diffId"`
	FilesCount          int      `json:"filesCount"`
	ArchivePath         string   `json:"archivePath"`
	ArchiveSize         int64    `json:"archiveSize"`
	ArchiveSizeHuman    string   `json:"archiveSizeHuman"`
	FilesListPath       string   `json:"filesListPath,omitempty"`
	Files               []string `json:"files"`
	StorageSnapshotTime string   `json:"storageSnapshotTime"`
}

// SyncResult describes a frozen-tree sync, printed as the task's JSON
// result document.
type SyncResult struct {
	DiffID string `json:"diffId"`
	Copied int    `json:"copiedFiles"`
	Failed int    `json:"failedFiles"`
}

// Service creates diff snapshots and replays them for one loaded
// configuration.
type Service struct {
	cfg      *config.Config
	fs       ports.FileSystem
	archiver ports.Archiver
	reporter *progress.Reporter
}

// NewService creates a snapshot service with the given dependencies.
func NewService(cfg *config.Config, fs ports.FileSystem, archiver ports.Archiver) *Service {
	return &Service{
		cfg:      cfg,
		fs:       fs,
		archiver: archiver,
		reporter: progress.NewReporter(cfg.StatusFile, cfg.ProgressFile),
	}
}

// NewDefaultService creates a snapshot service with real production
// dependencies.
func NewDefaultService(cfg *config.Config) *Service {
	return NewService(cfg, osfs.New(), targz.New())
}

// Diff compares storage against the frozen tree and, when anything is
// new or modified, packs it into <id>.tar.gz with a <id>_files.json
// manifest. An empty id derives one from the current timestamp.
func (s *Service) Diff(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		id = "diff_" + time.Now().Format("20060102_150405")
	}

	logging.Info("starting diff creation", logging.String("diff_id", id))
	s.reporter.SetStatus(progress.StatusRunning, "Initializing...")

	if _, err := s.fs.Stat(s.cfg.StorageDir); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Storage directory not found")
		return nil, fmt.Errorf("storage directory not found: %s", s.cfg.StorageDir)
	}
	if err := s.fs.MkdirAll(s.cfg.FrozenDir, 0o755); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Cannot create frozen directory: "+err.Error())
		return nil, err
	}
	if err := s.fs.MkdirAll(s.cfg.DiffArchivesDir, 0o755); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Cannot create archive directory: "+err.Error())
		return nil, err
	}

	logging.Info("analyzing differences")
	s.reporter.SetStatus(progress.StatusRunning, "Analyzing differences...")
	s.reporter.PublishDiff(progress.PhaseAnalyzing, 0, 0)

	files, err := s.collectDiff(ctx)
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Analysis failed: "+err.Error())
		return nil, err
	}

	total := len(files)
	if total == 0 {
		logging.Info("no differences between storage and frozen")
		s.reporter.SetStatus(progress.StatusCompleted, "No differences found")
		return &Result{
			DiffID:              id,
			ArchiveSizeHuman:    "0 B",
			Files:               []string{},
			StorageSnapshotTime: time.Now().Format(time.RFC3339),
		}, nil
	}

	logging.Info("found files for diff", logging.Int("count", total))
	s.reporter.SetStatus(progress.StatusRunning,
		fmt.Sprintf("Creating archive with %d files...", total))

	archivePath := filepath.Join(s.cfg.DiffArchivesDir, id+".tar.gz")
	manifestPath := filepath.Join(s.cfg.DiffArchivesDir, id+"_files.json")

	rels := make([]string, total)
	for i, f := range files {
		rels[i] = f.Path
	}

	s.reporter.PublishDiff(progress.PhaseArchiving, 0, total)
	err = s.archiver.Create(archivePath, s.cfg.StorageDir, rels, func(done int) {
		s.reporter.PublishDiff(progress.PhaseArchiving, done, total)
	})
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Archiving failed: "+err.Error())
		return nil, err
	}

	info, err := s.fs.Stat(archivePath)
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Archiving failed: "+err.Error())
		return nil, err
	}
	human := FormatSize(info.Size())

	manifest, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := s.fs.WriteFile(manifestPath, manifest, 0o644); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Cannot write files list: "+err.Error())
		return nil, err
	}

	logging.Info("archive created",
		logging.String("path", archivePath), logging.String("size", human))
	s.reporter.SetStatus(progress.StatusCompleted,
		fmt.Sprintf("Diff created: %d files, %s", total, human))

	return &Result{
		DiffID:              id,
		FilesCount:          total,
		ArchivePath:         archivePath,
		ArchiveSize:         info.Size(),
		ArchiveSizeHuman:    human,
		FilesListPath:       manifestPath,
		Files:               rels,
		StorageSnapshotTime: time.Now().Format(time.RFC3339),
	}, nil
}

// collectDiff walks the storage tree and returns the files absent from
// the frozen tree or strictly newer than their frozen counterparts, in
// walk order.
func (s *Service) collectDiff(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	err := s.fs.Walk(s.cfg.StorageDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if info.IsDir() || excludedNames[info.Name()] {
			return nil
		}

		rel, err := filepath.Rel(s.cfg.StorageDir, path)
		if err != nil {
			return err
		}
		frozenInfo, err := s.fs.Stat(filepath.Join(s.cfg.FrozenDir, rel))
		if err == nil && !info.ModTime().After(frozenInfo.ModTime()) {
			return nil
		}

		files = append(files, FileInfo{
			Path:  filepath.ToSlash(rel),
			Size:  info.Size(),
			MTime: info.ModTime().Format(time.RFC3339),
		})
		return nil
	})
	return files, err
}

// Sync replays the manifest written by Diff: every listed file is
// copied from storage into the frozen tree with its modification time
// preserved. A source that disappeared since the diff was computed is
// logged and skipped.
func (s *Service) Sync(ctx context.Context, id string) (*SyncResult, error) {
	if id == "" {
		s.reporter.SetStatus(progress.StatusFailed, "Diff id is required")
		return nil, errors.New("diff id is required")
	}

	logging.Info("starting frozen sync", logging.String("diff_id", id))
	s.reporter.SetStatus(progress.StatusRunning, "Syncing frozen tree...")

	manifestPath := filepath.Join(s.cfg.DiffArchivesDir, id+"_files.json")
	data, err := s.fs.ReadFile(manifestPath)
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Files list not found")
		return nil, fmt.Errorf("files list not found: %s", manifestPath)
	}
	var files []FileInfo
	if err := json.Unmarshal(data, &files); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Files list is corrupted")
		return nil, fmt.Errorf("parsing %s: %w", manifestPath, err)
	}

	if err := s.fs.MkdirAll(s.cfg.FrozenDir, 0o755); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Cannot create frozen directory: "+err.Error())
		return nil, err
	}

	copied, failed := 0, 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			s.reporter.SetStatus(progress.StatusFailed, "Sync interrupted")
			return nil, err
		}

		rel := filepath.FromSlash(f.Path)
		src := filepath.Join(s.cfg.StorageDir, rel)
		info, err := s.fs.Stat(src)
		if err != nil {
			logging.Warn("source file not found", logging.String("path", src))
			continue
		}

		if err := s.copyFile(src, filepath.Join(s.cfg.FrozenDir, rel), info.ModTime()); err != nil {
			failed++
			logging.Error("failed to copy", logging.String("path", f.Path), logging.Err(err))
			continue
		}
		copied++
	}

	logging.Info("sync completed", logging.Int("copied", copied), logging.Int("failed", failed))
	if failed == 0 {
		s.reporter.SetStatus(progress.StatusCompleted, fmt.Sprintf("Synced %d files", copied))
	} else {
		s.reporter.SetStatus(progress.StatusCompletedWithErrors,
			fmt.Sprintf("Copied: %d, Failed: %d", copied, failed))
	}

	return &SyncResult{DiffID: id, Copied: copied, Failed: failed}, nil
}

// copyFile copies src to dst, creating parent directories and carrying
// the source modification time onto the copy.
func (s *Service) copyFile(src, dst string, mtime time.Time) error {
	data, err := s.fs.ReadFile(src)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := s.fs.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return s.fs.Chtimes(dst, mtime, mtime)
}

// FormatSize renders a byte count with two decimals in binary steps,
// e.g. "1.27 MB".
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}
