// Package integrity finds structurally damaged package tarballs in the
// storage tree and repairs them by reinstalling from the registry.
package integrity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorops/mirrorctl/internal/adapters/execpnpm"
	"github.com/mirrorops/mirrorctl/internal/adapters/targz"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/install"
	"github.com/mirrorops/mirrorctl/internal/logging"
	"github.com/mirrorops/mirrorctl/internal/ports"
	"github.com/mirrorops/mirrorctl/internal/progress"
	"github.com/mirrorops/mirrorctl/internal/storage"
)

// Installer reinstalls one package at a pinned version during repair.
type Installer interface {
	Install(ctx context.Context, ref storage.PackageRef, version string) error
}

// Report is the outcome of an integrity scan, printed as the task's
// JSON result document.
type Report struct {
	Total    int      `json:"totalArchives"`
	Broken   int      `json:"brokenArchives"`
	ListPath string   `json:"brokenFile"`
	Paths    []string `json:"brokenFiles"`
}

// FixReport is the outcome of a repair run.
type FixReport struct {
	Total  int `json:"totalBroken"`
	Fixed  int `json:"fixed"`
	Failed int `json:"failed"`
}

// Service checks and repairs package archives for one loaded
// configuration.
type Service struct {
	cfg       *config.Config
	archiver  ports.Archiver
	installer Installer
	reporter  *progress.Reporter
}

// NewService creates an integrity service with the given dependencies.
func NewService(cfg *config.Config, archiver ports.Archiver, installer Installer) *Service {
	return &Service{
		cfg:       cfg,
		archiver:  archiver,
		installer: installer,
		reporter:  progress.NewReporter(cfg.StatusFile, cfg.ProgressFile),
	}
}

// NewDefaultService creates an integrity service with real production
// dependencies.
func NewDefaultService(cfg *config.Config) *Service {
	pnpm := execpnpm.New(execpnpm.WithPnpmPath(cfg.PnpmCmd))
	return NewService(cfg, targz.New(), install.NewService(cfg, pnpm))
}

// Check validates every package tarball under the storage tree and
// rewrites the broken-archives list. Broken paths are recorded in
// discovery order.
func (s *Service) Check(ctx context.Context) (*Report, error) {
	logging.Info("starting archive integrity check",
		logging.String("storage_dir", s.cfg.StorageDir))
	s.reporter.SetStatus(progress.StatusRunning, "Initializing...")

	if _, err := os.Stat(s.cfg.StorageDir); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Directory not found: "+s.cfg.StorageDir)
		return nil, fmt.Errorf("storage directory not found: %s", s.cfg.StorageDir)
	}

	logging.Info("counting archives")
	s.reporter.SetStatus(progress.StatusRunning, "Counting archives...")

	archives := storage.ListArchives(s.cfg.StorageDir)
	total := len(archives)

	if total == 0 {
		logging.Info("no archives found")
		if err := s.writeBrokenList(nil); err != nil {
			s.reporter.SetStatus(progress.StatusFailed, "Cannot write broken list: "+err.Error())
			return nil, err
		}
		s.reporter.SetStatus(progress.StatusCompleted, "No archives found")
		return &Report{ListPath: s.cfg.BrokenFile, Paths: []string{}}, nil
	}

	logging.Info("found archives to check", logging.Int("count", total))
	s.reporter.SetStatus(progress.StatusRunning, fmt.Sprintf("Checking %d archives...", total))

	tracker := progress.NewCheckTracker(s.reporter, total)

	var mu sync.Mutex
	var broken []string

	var g errgroup.Group
	g.SetLimit(s.cfg.ParallelJobs)
	for _, archive := range archives {
		if ctx.Err() != nil {
			break
		}
		archive := archive
		g.Go(func() error {
			ok := s.validate(archive)
			if !ok {
				mu.Lock()
				broken = append(broken, archive)
				mu.Unlock()
				logging.Warn("broken archive", logging.String("path", archive))
			}
			tracker.Scanned(archive, !ok)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Check interrupted")
		return nil, err
	}

	if err := s.writeBrokenList(broken); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Cannot write broken list: "+err.Error())
		return nil, err
	}

	if len(broken) == 0 {
		logging.Info("all archives are valid", logging.Int("total", total))
		s.reporter.SetStatus(progress.StatusCompleted,
			fmt.Sprintf("All %d archives are valid", total))
	} else {
		logging.Warn("broken archives found",
			logging.Int("broken", len(broken)), logging.Int("total", total))
		s.reporter.SetStatus(progress.StatusCompletedWithErrors,
			fmt.Sprintf("Found %d broken archives out of %d", len(broken), total))
	}

	return &Report{
		Total:    total,
		Broken:   len(broken),
		ListPath: s.cfg.BrokenFile,
		Paths:    append([]string{}, broken...),
	}, nil
}

// Fix repairs every archive listed in the broken-archives file.
// Repairs run sequentially: each one is dominated by a timeout-bound
// installer call, and the per-item log stays readable.
func (s *Service) Fix(ctx context.Context) (*FixReport, error) {
	logging.Info("starting broken archive repair")
	s.reporter.SetStatus(progress.StatusRunning, "Initializing...")

	paths, err := s.readBrokenList()
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "File not found: "+s.cfg.BrokenFile)
		return nil, err
	}

	total := len(paths)
	if total == 0 {
		logging.Info("no broken archives to fix")
		s.reporter.SetStatus(progress.StatusCompleted, "No broken archives to fix")
		return &FixReport{}, nil
	}

	logging.Info("found broken archives to fix", logging.Int("count", total))
	s.reporter.SetStatus(progress.StatusRunning, fmt.Sprintf("Fixing %d broken archives...", total))

	tracker := progress.NewFixTracker(s.reporter, total)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			s.reporter.SetStatus(progress.StatusFailed, "Repair interrupted")
			return nil, err
		}

		ref, version := storage.ParseArchivePath(s.cfg.StorageDir, path)
		tracker.Begin(ref.Spec(version))

		if s.repair(ctx, path, ref, version) {
			tracker.Fixed()
		} else {
			tracker.Failed()
		}
	}

	fixed, failed := tracker.Counts()
	if failed == 0 {
		logging.Info("fixed all broken archives", logging.Int("fixed", fixed))
		s.reporter.SetStatus(progress.StatusCompleted, fmt.Sprintf("Fixed %d archives", fixed))
	} else {
		logging.Warn("repair finished with failures",
			logging.Int("fixed", fixed), logging.Int("failed", failed))
		s.reporter.SetStatus(progress.StatusCompletedWithErrors,
			fmt.Sprintf("Fixed: %d, Failed: %d", fixed, failed))
	}

	return &FixReport{Total: total, Fixed: fixed, Failed: failed}, nil
}

// repair deletes the damaged archive and reinstalls its package at the
// pinned version. The result must pass the same structural check that
// flagged it. An archive absent after a successful install counts as
// fixed: the registry may have placed the artifact at a new path.
func (s *Service) repair(ctx context.Context, path string, ref storage.PackageRef, version string) bool {
	spec := ref.Spec(version)

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			logging.Error("cannot remove broken archive",
				logging.String("path", path), logging.Err(err))
			return false
		}
	}

	if err := s.installer.Install(ctx, ref, version); err != nil {
		return false
	}

	if _, err := os.Stat(path); err != nil {
		logging.Warn("? archive not found after reinstall",
			logging.String("path", path), logging.String("package", spec))
		return true
	}

	if !s.validate(path) {
		logging.Error("✗ still broken after reinstall: " + spec)
		return false
	}

	logging.Info("✓ fixed: " + spec)
	return true
}

// validate reports whether the archive is a structurally sound
// gzip-compressed tar with at least one entry. Listing walks the whole
// stream, so truncation and checksum damage surface even at the end.
func (s *Service) validate(path string) bool {
	entries, err := s.archiver.List(path)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// writeBrokenList replaces the broken-archives list wholesale. The
// repair flow consumes the file as-is, one path per line.
func (s *Service) writeBrokenList(paths []string) error {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return os.WriteFile(s.cfg.BrokenFile, []byte(b.String()), 0o644)
}

// readBrokenList loads the newline-delimited list written by Check.
// A missing list file is an error.
func (s *Service) readBrokenList() ([]string, error) {
	data, err := os.ReadFile(s.cfg.BrokenFile)
	if err != nil {
		return nil, fmt.Errorf("broken list not found: %s", s.cfg.BrokenFile)
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
