package mocks

import (
	"time"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

// MockScheduler implements ports.Scheduler for testing.
type MockScheduler struct {
	// Installed tracks whether the units are "installed"
	Installed bool
	// StatusResult is the status string to return
	StatusResult string
	// ServicePathResult is the service unit path to return
	ServicePathResult string
	// TimerPathResult is the timer unit path to return
	TimerPathResult string
	// InstallCalls records the interval of each Install call
	InstallCalls []time.Duration
	// UninstallCalls counts calls to Uninstall
	UninstallCalls int
	// Errors maps method names to errors
	Errors map[string]error
}

// NewMockScheduler creates a new mock scheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		StatusResult:      "not installed",
		ServicePathResult: "/tmp/mock-mirrorctl.service",
		TimerPathResult:   "/tmp/mock-mirrorctl.timer",
		Errors:            make(map[string]error),
	}
}

// ServicePath returns the path of the service unit file.
func (m *MockScheduler) ServicePath() string {
	return m.ServicePathResult
}

// TimerPath returns the path of the timer unit file.
func (m *MockScheduler) TimerPath() string {
	return m.TimerPathResult
}

// Install records the call and marks the units installed.
func (m *MockScheduler) Install(every time.Duration) error {
	m.InstallCalls = append(m.InstallCalls, every)
	if err, ok := m.Errors["Install"]; ok {
		return err
	}
	m.Installed = true
	m.StatusResult = "active"
	return nil
}

// Uninstall records the call and marks the units removed.
func (m *MockScheduler) Uninstall() error {
	m.UninstallCalls++
	if err, ok := m.Errors["Uninstall"]; ok {
		return err
	}
	m.Installed = false
	m.StatusResult = "not installed"
	return nil
}

// IsInstalled reports whether Install has been called.
func (m *MockScheduler) IsInstalled() bool {
	return m.Installed
}

// Status returns the configured status string.
func (m *MockScheduler) Status() string {
	return m.StatusResult
}

// Compile-time check that MockScheduler implements ports.Scheduler.
var _ ports.Scheduler = (*MockScheduler)(nil)
