package ports

import "time"

// Scheduler abstracts the user-level timer that drives periodic mirror
// refreshes. Production code uses SystemdScheduler adapter; tests use
// MockScheduler.
type Scheduler interface {
	// ServicePath returns the path of the refresh service unit file.
	ServicePath() string

	// TimerPath returns the path of the timer unit file.
	TimerPath() string

	// Install writes both unit files and enables the timer so a refresh
	// runs once per interval.
	Install(every time.Duration) error

	// Uninstall disables the timer and removes the unit files.
	Uninstall() error

	// IsInstalled checks if the unit files are present.
	IsInstalled() bool

	// Status returns the timer's current state.
	// Returns "active", "inactive", "not installed", or an error message.
	Status() string
}
