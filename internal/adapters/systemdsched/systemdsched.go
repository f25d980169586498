// Package systemdsched provides a scheduler adapter using systemd user units.
package systemdsched

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

const serviceTemplate = `[Unit]
Description=Refresh recently changed mirror packages

[Service]
Type=oneshot
ExecStart={{.BinaryPath}} update-recent
`

const timerTemplate = `[Unit]
Description=Periodic mirror package refresh

[Timer]
OnBootSec=15min
OnUnitActiveSec={{.EverySec}}s
Persistent=true

[Install]
WantedBy=timers.target
`

const unitName = "mirrorctl-refresh"

type unitConfig struct {
	BinaryPath string
	EverySec   int
}

// SystemdScheduler implements ports.Scheduler using systemd user units.
type SystemdScheduler struct {
	unitDir string
}

// New creates a new SystemdScheduler adapter.
func New() *SystemdScheduler {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &SystemdScheduler{
		unitDir: filepath.Join(home, ".config", "systemd", "user"),
	}
}

// ServicePath returns the path of the service unit file.
func (s *SystemdScheduler) ServicePath() string {
	return filepath.Join(s.unitDir, unitName+".service")
}

// TimerPath returns the path of the timer unit file.
func (s *SystemdScheduler) TimerPath() string {
	return filepath.Join(s.unitDir, unitName+".timer")
}

// Install writes both unit files and enables the timer.
func (s *SystemdScheduler) Install(every time.Duration) error {
	binaryPath, err := os.Executable()
	if err != nil {
		binaryPath, err = exec.LookPath("mirrorctl")
		if err != nil {
			return fmt.Errorf("mirrorctl not found in PATH: %w", err)
		}
	}

	service, timer, err := renderUnits(binaryPath, every)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.unitDir, 0755); err != nil {
		return fmt.Errorf("creating unit directory: %w", err)
	}
	if err := os.WriteFile(s.ServicePath(), []byte(service), 0644); err != nil {
		return fmt.Errorf("writing service unit: %w", err)
	}
	if err := os.WriteFile(s.TimerPath(), []byte(timer), 0644); err != nil {
		return fmt.Errorf("writing timer unit: %w", err)
	}

	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("reloading systemd: %w", err)
	}
	if err := exec.Command("systemctl", "--user", "enable", "--now", unitName+".timer").Run(); err != nil {
		return fmt.Errorf("enabling timer: %w", err)
	}
	return nil
}

// Uninstall disables the timer and removes both unit files.
func (s *SystemdScheduler) Uninstall() error {
	if _, err := os.Stat(s.TimerPath()); os.IsNotExist(err) {
		return fmt.Errorf("timer unit not found: %s", s.TimerPath())
	}

	// Ignore error if the timer is not currently enabled
	_ = exec.Command("systemctl", "--user", "disable", "--now", unitName+".timer").Run()

	if err := os.Remove(s.TimerPath()); err != nil {
		return fmt.Errorf("removing timer unit: %w", err)
	}
	if err := os.Remove(s.ServicePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing service unit: %w", err)
	}

	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
	return nil
}

// IsInstalled checks if the timer unit is present.
func (s *SystemdScheduler) IsInstalled() bool {
	_, err := os.Stat(s.TimerPath())
	return err == nil
}

// Status returns the timer's systemd state: "active", "inactive",
// "not installed", or whatever is-active printed.
func (s *SystemdScheduler) Status() string {
	if !s.IsInstalled() {
		return "not installed"
	}

	out, _ := exec.Command("systemctl", "--user", "is-active", unitName+".timer").Output()
	state := strings.TrimSpace(string(out))
	if state == "" {
		return "unknown"
	}
	return state
}

// renderUnits produces the service and timer unit contents.
func renderUnits(binaryPath string, every time.Duration) (service, timer string, err error) {
	cfg := unitConfig{
		BinaryPath: binaryPath,
		EverySec:   int(every.Seconds()),
	}

	var sb strings.Builder
	tmpl, err := template.New("service").Parse(serviceTemplate)
	if err != nil {
		return "", "", fmt.Errorf("parsing service template: %w", err)
	}
	if err := tmpl.Execute(&sb, cfg); err != nil {
		return "", "", fmt.Errorf("rendering service unit: %w", err)
	}
	service = sb.String()

	sb.Reset()
	tmpl, err = template.New("timer").Parse(timerTemplate)
	if err != nil {
		return "", "", fmt.Errorf("parsing timer template: %w", err)
	}
	if err := tmpl.Execute(&sb, cfg); err != nil {
		return "", "", fmt.Errorf("rendering timer unit: %w", err)
	}
	timer = sb.String()

	return service, timer, nil
}

// Compile-time check that SystemdScheduler implements ports.Scheduler.
var _ ports.Scheduler = (*SystemdScheduler)(nil)
