// Package cli provides the command-line interface with injectable io.Writer for testing.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/mirrorops/mirrorctl/internal/adapters/systemdsched"
	"github.com/mirrorops/mirrorctl/internal/adapters/watchsvc"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/integrity"
	"github.com/mirrorops/mirrorctl/internal/logging"
	"github.com/mirrorops/mirrorctl/internal/ports"
	"github.com/mirrorops/mirrorctl/internal/refresh"
	"github.com/mirrorops/mirrorctl/internal/snapshot"
)

// ConfigService provides configuration operations for the CLI.
type ConfigService interface {
	Load() (*config.Config, error)
	Save(cfg *config.Config) error
	ConfigPath() string
	DefaultConfig() *config.Config
}

// RefreshService provides package refresh operations for the CLI.
type RefreshService interface {
	UpdateAll(ctx context.Context, cfg *config.Config) (*refresh.Summary, error)
	UpdateRecent(ctx context.Context, cfg *config.Config, window time.Duration) (*refresh.Summary, error)
	UpdateSingle(ctx context.Context, cfg *config.Config, name string) error
}

// IntegrityService provides archive check and repair operations for the CLI.
type IntegrityService interface {
	Check(ctx context.Context, cfg *config.Config) (*integrity.Report, error)
	Fix(ctx context.Context, cfg *config.Config) (*integrity.FixReport, error)
}

// SnapshotService provides diff and sync operations for the CLI.
type SnapshotService interface {
	Diff(ctx context.Context, cfg *config.Config, id string) (*snapshot.Result, error)
	Sync(ctx context.Context, cfg *config.Config, id string) (*snapshot.SyncResult, error)
}

// SchedulerService provides refresh timer operations for the CLI.
type SchedulerService interface {
	ServicePath() string
	TimerPath() string
	Install(every time.Duration) error
	Uninstall() error
	IsInstalled() bool
	Status() string
}

// StatusService reads the persisted task telemetry shown by the status
// command.
type StatusService interface {
	Status(cfg *config.Config) (*ports.WatchStatus, error)
}

// CLI represents the command-line interface with injectable dependencies.
type CLI struct {
	Out     io.Writer // Standard output
	Err     io.Writer // Standard error
	Version string    // Application version
	Args    []string  // Command arguments (like os.Args)

	// Exit function for testability (defaults to os.Exit)
	Exit func(code int)

	// Injectable dependencies (nil means use defaults)
	ConfigSvc    ConfigService
	RefreshSvc   RefreshService
	IntegritySvc IntegrityService
	SnapshotSvc  SnapshotService
	SchedulerSvc SchedulerService
	StatusSvc    StatusService

	// Color functions (can be disabled for testing)
	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	gray   func(a ...interface{}) string
	red    func(a ...interface{}) string
}

// New creates a new CLI with default settings.
func New(version string) *CLI {
	return &CLI{
		Out:     os.Stdout,
		Err:     os.Stderr,
		Version: version,
		Args:    os.Args,
		Exit:    os.Exit,
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		cyan:    color.New(color.FgCyan).SprintFunc(),
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
	}
}

// NewForTesting creates a CLI configured for testing (no colors, captured output).
func NewForTesting(out, errOut io.Writer, args []string) *CLI {
	noColor := func(a ...interface{}) string { return fmt.Sprint(a...) }
	exitCode := 0
	return &CLI{
		Out:     out,
		Err:     errOut,
		Version: "test",
		Args:    args,
		Exit:    func(code int) { exitCode = code; _ = exitCode },
		green:   noColor,
		yellow:  noColor,
		cyan:    noColor,
		gray:    noColor,
		red:     noColor,
	}
}

// defaultConfigService wraps the config package functions.
type defaultConfigService struct{}

func (d *defaultConfigService) Load() (*config.Config, error) { return config.Load() }
func (d *defaultConfigService) Save(cfg *config.Config) error { return cfg.Save() }
func (d *defaultConfigService) ConfigPath() string            { return config.ConfigPath() }
func (d *defaultConfigService) DefaultConfig() *config.Config { return config.DefaultConfig() }

// defaultRefreshService wires the refresh package for a loaded config.
type defaultRefreshService struct{}

func (d *defaultRefreshService) UpdateAll(ctx context.Context, cfg *config.Config) (*refresh.Summary, error) {
	return refresh.NewDefaultService(cfg).UpdateAll(ctx)
}
func (d *defaultRefreshService) UpdateRecent(ctx context.Context, cfg *config.Config, window time.Duration) (*refresh.Summary, error) {
	return refresh.NewDefaultService(cfg).UpdateRecent(ctx, window)
}
func (d *defaultRefreshService) UpdateSingle(ctx context.Context, cfg *config.Config, name string) error {
	return refresh.NewDefaultService(cfg).UpdateSingle(ctx, name)
}

// defaultIntegrityService wires the integrity package for a loaded config.
type defaultIntegrityService struct{}

func (d *defaultIntegrityService) Check(ctx context.Context, cfg *config.Config) (*integrity.Report, error) {
	return integrity.NewDefaultService(cfg).Check(ctx)
}
func (d *defaultIntegrityService) Fix(ctx context.Context, cfg *config.Config) (*integrity.FixReport, error) {
	return integrity.NewDefaultService(cfg).Fix(ctx)
}

// defaultSnapshotService wires the snapshot package for a loaded config.
type defaultSnapshotService struct{}

func (d *defaultSnapshotService) Diff(ctx context.Context, cfg *config.Config, id string) (*snapshot.Result, error) {
	return snapshot.NewDefaultService(cfg).Diff(ctx, id)
}
func (d *defaultSnapshotService) Sync(ctx context.Context, cfg *config.Config, id string) (*snapshot.SyncResult, error) {
	return snapshot.NewDefaultService(cfg).Sync(ctx, id)
}

// defaultStatusService reads telemetry through the watch adapter.
type defaultStatusService struct{}

func (d *defaultStatusService) Status(cfg *config.Config) (*ports.WatchStatus, error) {
	return watchsvc.New().Status(cfg)
}

// Helper methods to get the service or default
func (c *CLI) configSvc() ConfigService {
	if c.ConfigSvc != nil {
		return c.ConfigSvc
	}
	return &defaultConfigService{}
}

func (c *CLI) refreshSvc() RefreshService {
	if c.RefreshSvc != nil {
		return c.RefreshSvc
	}
	return &defaultRefreshService{}
}

func (c *CLI) integritySvc() IntegrityService {
	if c.IntegritySvc != nil {
		return c.IntegritySvc
	}
	return &defaultIntegrityService{}
}

func (c *CLI) snapshotSvc() SnapshotService {
	if c.SnapshotSvc != nil {
		return c.SnapshotSvc
	}
	return &defaultSnapshotService{}
}

func (c *CLI) schedulerSvc() SchedulerService {
	if c.SchedulerSvc != nil {
		return c.SchedulerSvc
	}
	return systemdsched.New()
}

func (c *CLI) statusSvc() StatusService {
	if c.StatusSvc != nil {
		return c.StatusSvc
	}
	return &defaultStatusService{}
}

// loadConfig loads the configuration and points the log file at the
// configured location. Human-facing output goes to c.Out; the log file
// carries the detailed run history read by the watch dashboard.
func (c *CLI) loadConfig() (*config.Config, bool) {
	cfg, err := c.configSvc().Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return nil, false
	}
	logging.Init(cfg.LogFile, false)
	return cfg, true
}

// Run executes the CLI with the configured arguments.
func (c *CLI) Run() {
	if len(c.Args) < 2 {
		// No command - the watch dashboard is launched from main, not here
		fmt.Fprintln(c.Out, "No command specified. Use 'mirrorctl help' for usage.")
		return
	}

	switch c.Args[1] {
	case "update-all":
		c.UpdateAll()
	case "update-recent":
		c.UpdateRecent()
	case "update":
		c.UpdateSingle()
	case "check":
		c.CheckArchives()
	case "fix":
		c.FixArchives()
	case "diff":
		c.CreateDiff()
	case "sync":
		c.SyncFrozen()
	case "status":
		c.ShowStatus()
	case "schedule":
		c.Schedule()
	case "init":
		c.InitConfig()
	case "version", "-v", "--version":
		fmt.Fprintf(c.Out, "mirrorctl v%s\n", c.Version)
	case "help", "-h", "--help":
		c.PrintUsage()
	default:
		fmt.Fprintf(c.Err, "Unknown command: %s\n", c.Args[1])
		c.PrintUsage()
		c.Exit(1)
	}
}

// PrintUsage prints the help message.
func (c *CLI) PrintUsage() {
	fmt.Fprintln(c.Out, `mirrorctl - Offline npm mirror maintenance

Usage:
  mirrorctl update-all                     Refresh every package in the mirror
  mirrorctl update-recent [minutes]        Refresh packages modified within the window
  mirrorctl update <package>               Refresh a single package
  mirrorctl check                          Validate package archives, record broken ones
  mirrorctl fix                            Repair the archives recorded by check
  mirrorctl diff [--id=<id>]               Pack files newer than the frozen tree
  mirrorctl sync --id=<id>                 Advance the frozen tree from a diff manifest
  mirrorctl status                         Show configuration and last task state
  mirrorctl watch                          Live telemetry dashboard
  mirrorctl schedule install [--every=24h] Install the periodic refresh timer
  mirrorctl schedule uninstall             Remove the refresh timer
  mirrorctl schedule status                Show timer state
  mirrorctl init                           Create default config file
  mirrorctl version, -v                    Show version
  mirrorctl help, -h                       Show this help

Config: ~/.mirrorctl/config.yaml`)
}

// InitConfig creates the default config file.
func (c *CLI) InitConfig() {
	svc := c.configSvc()
	cfg := svc.DefaultConfig()
	if err := svc.Save(cfg); err != nil {
		fmt.Fprintf(c.Err, "Error saving config: %v\n", err)
		c.Exit(1)
		return
	}
	fmt.Fprintf(c.Out, "Created config at %s\n", svc.ConfigPath())
}

// UpdateAll refreshes every package in the storage tree.
func (c *CLI) UpdateAll() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	fmt.Fprintf(c.Out, "%s Refreshing all packages in %s...\n", c.cyan("=>"), cfg.StorageDir)

	sum, err := c.refreshSvc().UpdateAll(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	c.printRefreshSummary(sum)
}

// UpdateRecent refreshes packages modified within the window. An
// optional minutes argument overrides the configured window.
func (c *CLI) UpdateRecent() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	window := cfg.ModifiedWindow()
	if len(c.Args) > 2 {
		minutes, err := strconv.Atoi(c.Args[2])
		if err != nil || minutes <= 0 {
			fmt.Fprintf(c.Err, "Invalid minutes value: %s\n", c.Args[2])
			c.Exit(1)
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	fmt.Fprintf(c.Out, "%s Refreshing packages modified in the last %d minutes...\n",
		c.cyan("=>"), int(window.Minutes()))

	sum, err := c.refreshSvc().UpdateRecent(context.Background(), cfg, window)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	c.printRefreshSummary(sum)
}

// UpdateSingle refreshes one package by name.
func (c *CLI) UpdateSingle() {
	if len(c.Args) < 3 {
		fmt.Fprintln(c.Out, "Usage: mirrorctl update <package>")
		c.Exit(1)
		return
	}

	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	name := c.Args[2]
	fmt.Fprintf(c.Out, "%s Updating %s...\n", c.cyan("=>"), name)

	if err := c.refreshSvc().UpdateSingle(context.Background(), cfg, name); err != nil {
		fmt.Fprintf(c.Err, "Update failed: %v\n", err)
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s Updated %s\n", c.green("*"), name)
}

// printRefreshSummary renders the outcome of a refresh sweep. Failures
// are listed individually; a sweep with failures still exits zero.
func (c *CLI) printRefreshSummary(sum *refresh.Summary) {
	if sum.Total == 0 {
		fmt.Fprintln(c.Out, "Nothing to update.")
		return
	}

	if len(sum.Errors) > 0 {
		fmt.Fprintln(c.Out)
		for _, e := range sum.Errors {
			fmt.Fprintf(c.Out, "  %s %s: %s\n", c.red("x"), e.Package, e.Error)
		}
	}

	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "Done: %s updated", c.green(fmt.Sprintf("%d", sum.Success)))
	if sum.Failed > 0 {
		fmt.Fprintf(c.Out, ", %s failed", c.red(fmt.Sprintf("%d", sum.Failed)))
	}
	fmt.Fprintln(c.Out)
}

// CheckArchives validates every package archive in storage.
func (c *CLI) CheckArchives() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	fmt.Fprintf(c.Out, "%s Checking archives under %s...\n", c.cyan("=>"), cfg.StorageDir)

	report, err := c.integritySvc().Check(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	if report.Total == 0 {
		fmt.Fprintln(c.Out, "No archives found.")
		return
	}

	if report.Broken == 0 {
		fmt.Fprintf(c.Out, "%s All %d archives are valid\n", c.green("*"), report.Total)
		return
	}

	fmt.Fprintf(c.Out, "%s %d of %d archives are broken:\n", c.yellow("!"), report.Broken, report.Total)
	for _, p := range report.Paths {
		fmt.Fprintf(c.Out, "  %s %s\n", c.red("x"), p)
	}
	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "List written to %s. Run 'mirrorctl fix' to repair.\n", report.ListPath)
}

// FixArchives repairs the archives recorded by the last check.
func (c *CLI) FixArchives() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	fmt.Fprintf(c.Out, "%s Repairing broken archives...\n", c.cyan("=>"))

	report, err := c.integritySvc().Fix(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	if report.Total == 0 {
		fmt.Fprintln(c.Out, "No broken archives to fix.")
		return
	}

	fmt.Fprintf(c.Out, "Done: %s fixed", c.green(fmt.Sprintf("%d", report.Fixed)))
	if report.Failed > 0 {
		fmt.Fprintf(c.Out, ", %s failed", c.red(fmt.Sprintf("%d", report.Failed)))
	}
	fmt.Fprintln(c.Out)
}

// CreateDiff packs files newer than the frozen tree into a transfer
// archive.
func (c *CLI) CreateDiff() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	id := cfg.DiffID
	for _, arg := range c.Args[2:] {
		if strings.HasPrefix(arg, "--id=") {
			id = strings.TrimPrefix(arg, "--id=")
		}
	}

	fmt.Fprintf(c.Out, "%s Comparing %s against %s...\n", c.cyan("=>"), cfg.StorageDir, cfg.FrozenDir)

	res, err := c.snapshotSvc().Diff(context.Background(), cfg, id)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	if res.FilesCount == 0 {
		fmt.Fprintln(c.Out, "No new or modified files found.")
		return
	}

	fmt.Fprintf(c.Out, "%s Packed %d files (%s) as %s\n",
		c.green("*"), res.FilesCount, c.yellow(res.ArchiveSizeHuman), res.DiffID)
	fmt.Fprintf(c.Out, "  Archive:  %s\n", res.ArchivePath)
	fmt.Fprintf(c.Out, "  Manifest: %s\n", res.FilesListPath)
}

// SyncFrozen advances the frozen tree from a diff manifest.
func (c *CLI) SyncFrozen() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	id := cfg.DiffID
	for _, arg := range c.Args[2:] {
		if strings.HasPrefix(arg, "--id=") {
			id = strings.TrimPrefix(arg, "--id=")
		}
	}

	if id == "" {
		fmt.Fprintln(c.Out, "Usage: mirrorctl sync --id=<diff-id>")
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s Syncing frozen tree from diff %s...\n", c.cyan("=>"), id)

	res, err := c.snapshotSvc().Sync(context.Background(), cfg, id)
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	if res.Copied == 0 && res.Failed == 0 {
		fmt.Fprintln(c.Out, "Manifest is empty, nothing to sync.")
		return
	}

	fmt.Fprintf(c.Out, "Done: %s copied", c.green(fmt.Sprintf("%d", res.Copied)))
	if res.Failed > 0 {
		fmt.Fprintf(c.Out, ", %s failed", c.red(fmt.Sprintf("%d", res.Failed)))
	}
	fmt.Fprintln(c.Out)
}

// ShowStatus shows the current configuration and last task state.
func (c *CLI) ShowStatus() {
	cfg, ok := c.loadConfig()
	if !ok {
		return
	}

	fmt.Fprintln(c.Out, "mirrorctl status:")
	fmt.Fprintf(c.Out, "  Mirror home: %s\n", cfg.MirrorHome)
	fmt.Fprintf(c.Out, "  Storage:     %s\n", cfg.StorageDir)
	fmt.Fprintf(c.Out, "  Frozen:      %s\n", cfg.FrozenDir)
	fmt.Fprintf(c.Out, "  Registry:    %s\n", cfg.RegistryURL)
	fmt.Fprintf(c.Out, "  Config:      %s\n", c.configSvc().ConfigPath())

	if st, err := c.statusSvc().Status(cfg); err == nil {
		fmt.Fprintf(c.Out, "  Last task:   %s %s\n", c.statusLabel(st.Status), st.Message)
	} else {
		fmt.Fprintf(c.Out, "  Last task:   %s\n", c.gray("no status recorded"))
	}

	sched := c.schedulerSvc()
	if sched.IsInstalled() {
		state := sched.Status()
		if state == "active" {
			fmt.Fprintf(c.Out, "  Timer:       %s\n", c.green(state))
		} else {
			fmt.Fprintf(c.Out, "  Timer:       %s\n", c.yellow(state))
		}
	} else {
		fmt.Fprintf(c.Out, "  Timer:       %s\n", c.gray("not installed"))
	}
}

// statusLabel colors a task status the way the dashboard does.
func (c *CLI) statusLabel(status string) string {
	switch status {
	case "completed":
		return c.green(status)
	case "completed_with_errors":
		return c.yellow(status)
	case "failed":
		return c.red(status)
	case "running":
		return c.cyan(status)
	default:
		return c.gray(status)
	}
}

// Schedule dispatches the schedule subcommands.
func (c *CLI) Schedule() {
	if len(c.Args) < 3 {
		fmt.Fprintln(c.Out, "Usage: mirrorctl schedule install|uninstall|status [--every=24h]")
		c.Exit(1)
		return
	}

	switch c.Args[2] {
	case "install":
		c.InstallSchedule()
	case "uninstall":
		c.UninstallSchedule()
	case "status":
		c.ScheduleStatus()
	default:
		fmt.Fprintf(c.Err, "Unknown schedule command: %s\n", c.Args[2])
		c.Exit(1)
	}
}

// InstallSchedule installs the periodic refresh timer.
func (c *CLI) InstallSchedule() {
	svc := c.schedulerSvc()

	if svc.IsInstalled() {
		fmt.Fprintln(c.Out, "Refresh timer already installed. Uninstall first to reinstall.")
		c.Exit(1)
		return
	}

	every := 24 * time.Hour
	for _, arg := range c.Args[3:] {
		if strings.HasPrefix(arg, "--every=") {
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--every="))
			if err != nil || d < time.Minute {
				fmt.Fprintf(c.Err, "Invalid interval: %s\n", arg)
				c.Exit(1)
				return
			}
			every = d
		}
	}

	if err := svc.Install(every); err != nil {
		fmt.Fprintf(c.Err, "Error installing timer: %v\n", err)
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s Installed refresh timer (every %s)\n", c.green("*"), every)
	fmt.Fprintf(c.Out, "  Service: %s\n", svc.ServicePath())
	fmt.Fprintf(c.Out, "  Timer:   %s\n", svc.TimerPath())
}

// UninstallSchedule removes the refresh timer.
func (c *CLI) UninstallSchedule() {
	svc := c.schedulerSvc()

	if !svc.IsInstalled() {
		fmt.Fprintln(c.Out, "Refresh timer not installed.")
		c.Exit(1)
		return
	}

	if err := svc.Uninstall(); err != nil {
		fmt.Fprintf(c.Err, "Error uninstalling timer: %v\n", err)
		c.Exit(1)
		return
	}

	fmt.Fprintf(c.Out, "%s Uninstalled refresh timer\n", c.yellow("-"))
}

// ScheduleStatus shows the refresh timer state.
func (c *CLI) ScheduleStatus() {
	svc := c.schedulerSvc()

	if !svc.IsInstalled() {
		fmt.Fprintf(c.Out, "Refresh timer: %s\n", c.gray("not installed"))
		return
	}

	state := svc.Status()
	if state == "active" {
		fmt.Fprintf(c.Out, "Refresh timer: %s\n", c.green(state))
	} else {
		fmt.Fprintf(c.Out, "Refresh timer: %s\n", c.yellow(state))
	}
	fmt.Fprintf(c.Out, "  Service: %s\n", svc.ServicePath())
	fmt.Fprintf(c.Out, "  Timer:   %s\n", svc.TimerPath())
}
