// Package refresh orchestrates package update runs against the local
// registry: the full-storage sweep, the recently-modified sweep, and
// single-package updates.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorops/mirrorctl/internal/adapters/execpnpm"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/install"
	"github.com/mirrorops/mirrorctl/internal/logging"
	"github.com/mirrorops/mirrorctl/internal/progress"
	"github.com/mirrorops/mirrorctl/internal/storage"
)

// Installer performs the pnpm installs a refresh run dispatches.
type Installer interface {
	Install(ctx context.Context, ref storage.PackageRef, version string) error
	InstallBulk(ctx context.Context, ref storage.PackageRef, version string) error
}

// Summary is the outcome of a refresh run. The CLI prints it as the
// task's JSON result document.
type Summary struct {
	Total   int                   `json:"totalPackages"`
	Success int                   `json:"success"`
	Failed  int                   `json:"failed"`
	Errors  []progress.ErrorEntry `json:"errors"`
}

// Service runs refresh operations for one loaded configuration.
type Service struct {
	cfg       *config.Config
	installer Installer
	reporter  *progress.Reporter
}

func NewService(cfg *config.Config, installer Installer) *Service {
	return &Service{
		cfg:       cfg,
		installer: installer,
		reporter:  progress.NewReporter(cfg.StatusFile, cfg.ProgressFile),
	}
}

// NewDefaultService wires the production installer for cfg.
func NewDefaultService(cfg *config.Config) *Service {
	pnpm := execpnpm.New(execpnpm.WithPnpmPath(cfg.PnpmCmd))
	return NewService(cfg, install.NewService(cfg, pnpm))
}

// UpdateAll refreshes every package present in storage.
func (s *Service) UpdateAll(ctx context.Context) (*Summary, error) {
	logging.Info("starting full refresh",
		logging.String("mirror_home", s.cfg.MirrorHome),
		logging.String("storage_dir", s.cfg.StorageDir),
		logging.Int("parallel_jobs", s.cfg.ParallelJobs))
	s.reporter.SetStatus(progress.StatusRunning, "Listing packages...")

	if err := s.requireMirrorHome(); err != nil {
		return nil, err
	}

	return s.sweep(ctx, storage.ListPackages(s.cfg.StorageDir), "No packages found")
}

// UpdateRecent refreshes packages whose metadata changed within window.
func (s *Service) UpdateRecent(ctx context.Context, window time.Duration) (*Summary, error) {
	logging.Info("starting recent refresh", logging.String("window", formatWindow(window)))
	s.reporter.SetStatus(progress.StatusRunning, "Scanning for modified packages...")

	if err := s.requireMirrorHome(); err != nil {
		return nil, err
	}

	refs := storage.ListModifiedPackages(s.cfg.StorageDir, window)
	return s.sweep(ctx, refs, fmt.Sprintf("No packages modified in the last %s", formatWindow(window)))
}

// sweep runs the pool over refs and records the final status. emptyMsg
// is published when there is nothing to do.
func (s *Service) sweep(ctx context.Context, refs []storage.PackageRef, emptyMsg string) (*Summary, error) {
	if len(refs) == 0 {
		logging.Info("nothing to refresh")
		s.reporter.SetStatus(progress.StatusCompleted, emptyMsg)
		return &Summary{Errors: []progress.ErrorEntry{}}, nil
	}

	logging.Info("found packages to refresh", logging.Int("count", len(refs)))
	s.reporter.SetStatus(progress.StatusRunning, fmt.Sprintf("Updating %d packages...", len(refs)))

	sum := s.Run(ctx, refs, s.cfg.ParallelJobs)

	if sum.Failed == 0 {
		logging.Info("refresh completed", logging.Int("success", sum.Success))
		s.reporter.SetStatus(progress.StatusCompleted, fmt.Sprintf("Updated %d packages", sum.Success))
	} else {
		logging.Warn("refresh completed with errors",
			logging.Int("success", sum.Success),
			logging.Int("failed", sum.Failed))
		s.reporter.SetStatus(progress.StatusCompletedWithErrors,
			fmt.Sprintf("Updated: %d, Failed: %d", sum.Success, sum.Failed))
	}
	return sum, nil
}

// Run installs every ref through a worker pool bounded at concurrency.
// Each completion is reported exactly once through the progress tracker;
// a failed install never aborts the pool.
func (s *Service) Run(ctx context.Context, refs []storage.PackageRef, concurrency int) *Summary {
	if concurrency < 1 {
		concurrency = 1
	}

	tracker := progress.NewTracker(s.reporter, len(refs))
	tracker.Flush()

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			name := ref.String()
			if err := s.installer.InstallBulk(ctx, ref, ""); err != nil {
				tracker.Failure(name, errorMessage(err))
			} else {
				tracker.Success(name)
			}
			return nil
		})
	}
	_ = g.Wait()

	success, failed := tracker.Counts()
	return &Summary{
		Total:   len(refs),
		Success: success,
		Failed:  failed,
		Errors:  tracker.Errors(),
	}
}

// UpdateSingle refreshes one package. A failed install is returned as
// the error so the caller can exit non-zero.
func (s *Service) UpdateSingle(ctx context.Context, name string) error {
	ref, err := storage.ParseRef(name)
	if err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Invalid package name: "+name)
		return err
	}

	logging.Info("updating package", logging.String("package", name))
	s.reporter.SetStatus(progress.StatusRunning, fmt.Sprintf("Updating package %s...", name))
	s.reporter.PublishRefresh(0, 1, name, 0, 0, nil)

	if _, err := os.Stat(s.cfg.StorageDir); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Directory not found: "+s.cfg.StorageDir)
		return fmt.Errorf("storage directory not found: %s", s.cfg.StorageDir)
	}

	if err := s.installer.Install(ctx, ref, ""); err != nil {
		msg := errorMessage(err)
		s.reporter.PublishRefresh(1, 1, name, 0, 1, []progress.ErrorEntry{{Package: name, Error: msg}})
		s.reporter.SetStatus(progress.StatusFailed,
			fmt.Sprintf("Failed to update %s: %s", name, truncate(msg, 100)))
		logging.Error("package update failed", logging.String("package", name))
		return err
	}

	s.reporter.PublishRefresh(1, 1, name, 1, 0, nil)
	s.reporter.SetStatus(progress.StatusCompleted, fmt.Sprintf("Package %s updated", name))
	logging.Info("package updated", logging.String("package", name))
	return nil
}

// requireMirrorHome verifies the mirror tree exists before a sweep. The
// sweeps scan storage recursively, and walking a missing tree would
// silently produce an empty "completed" run.
func (s *Service) requireMirrorHome() error {
	if _, err := os.Stat(s.cfg.MirrorHome); err != nil {
		s.reporter.SetStatus(progress.StatusFailed, "Directory not found: "+s.cfg.MirrorHome)
		return fmt.Errorf("mirror home not found: %s", s.cfg.MirrorHome)
	}
	return nil
}

// errorMessage extracts the classified diagnostic for progress entries.
func errorMessage(err error) string {
	var ierr *install.Error
	if errors.As(err, &ierr) {
		return ierr.Message
	}
	return err.Error()
}

// formatWindow renders a lookback duration the way operators pass it:
// whole hours when possible, minutes otherwise.
func formatWindow(window time.Duration) string {
	if h := int(window.Hours()); h > 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", int(window.Minutes()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
