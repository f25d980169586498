// Package progress maintains the status and progress documents that
// external dashboards poll while a task runs.
//
// Documents are small JSON files replaced wholesale on every update.
// Telemetry is strictly best effort: a write failure is logged at debug
// level and dropped, it never fails the task that produced it.
package progress

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"github.com/mirrorops/mirrorctl/internal/logging"
)

// Task status values recorded in the status document.
const (
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// Diff phases recorded while building a snapshot archive.
const (
	PhaseAnalyzing = "analyzing"
	PhaseArchiving = "archiving"
)

const (
	maxErrorLen       = 500
	maxErrorsKept     = 20
	refreshFlushEvery = 10
	checkFlushEvery   = 50
)

// StatusDoc is the status file payload.
type StatusDoc struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updatedAt"`
}

// ErrorEntry records one failed package in the refresh progress file.
type ErrorEntry struct {
	Package string `json:"package"`
	Error   string `json:"error"`
}

// RefreshDoc is the progress payload for package refresh runs.
type RefreshDoc struct {
	Current        int          `json:"current"`
	Total          int          `json:"total"`
	Success        int          `json:"success"`
	Failed         int          `json:"failed"`
	CurrentPackage string       `json:"currentPackage"`
	Percent        float64      `json:"percent"`
	Errors         []ErrorEntry `json:"errors"`
	UpdatedAt      string       `json:"updatedAt"`
}

// CheckDoc is the progress payload for integrity scans.
type CheckDoc struct {
	Current     int     `json:"current"`
	Total       int     `json:"total"`
	Broken      int     `json:"broken"`
	CurrentFile string  `json:"currentFile"`
	Percent     float64 `json:"percent"`
	UpdatedAt   string  `json:"updatedAt"`
}

// FixDoc is the progress payload for repair runs.
type FixDoc struct {
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Fixed          int     `json:"fixed"`
	Failed         int     `json:"failed"`
	CurrentPackage string  `json:"currentPackage"`
	Percent        float64 `json:"percent"`
	UpdatedAt      string  `json:"updatedAt"`
}

// DiffDoc is the progress payload for snapshot creation.
type DiffDoc struct {
	Phase     string  `json:"phase"`
	Current   int     `json:"current"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	UpdatedAt string  `json:"updatedAt"`
}

// Reporter publishes the status and progress files for one task.
type Reporter struct {
	StatusPath   string
	ProgressPath string
}

// NewReporter creates a Reporter writing to the given file paths. An
// empty path disables that document.
func NewReporter(statusPath, progressPath string) *Reporter {
	return &Reporter{StatusPath: statusPath, ProgressPath: progressPath}
}

// SetStatus replaces the status document.
func (r *Reporter) SetStatus(status, message string) {
	writeJSON(r.StatusPath, StatusDoc{
		Status:    status,
		Message:   message,
		UpdatedAt: now(),
	})
}

// PublishRefresh replaces the progress document with a one-shot refresh
// update. Single-package runs use this instead of a Tracker.
func (r *Reporter) PublishRefresh(current, total int, pkg string, success, failed int, errs []ErrorEntry) {
	if errs == nil {
		errs = []ErrorEntry{}
	}
	writeJSON(r.ProgressPath, RefreshDoc{
		Current:        current,
		Total:          total,
		Success:        success,
		Failed:         failed,
		CurrentPackage: pkg,
		Percent:        percent(current, total, 100),
		Errors:         errs,
		UpdatedAt:      now(),
	})
}

// PublishDiff replaces the progress document with a snapshot phase update.
func (r *Reporter) PublishDiff(phase string, current, total int) {
	writeJSON(r.ProgressPath, DiffDoc{
		Phase:     phase,
		Current:   current,
		Total:     total,
		Percent:   percent(current, total, 0),
		UpdatedAt: now(),
	})
}

// Tracker accumulates refresh counters across the worker pool. The
// progress file is rewritten every tenth completion and when the last
// package finishes; Flush forces a write in between.
type Tracker struct {
	mu       sync.Mutex
	reporter *Reporter

	current        int
	total          int
	success        int
	failed         int
	currentPackage string
	errors         []ErrorEntry
}

// NewTracker creates a Tracker for a run of total packages.
func NewTracker(reporter *Reporter, total int) *Tracker {
	return &Tracker{reporter: reporter, total: total}
}

// Success records a completed package.
func (t *Tracker) Success(pkg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.currentPackage = pkg
	t.success++
	t.maybeFlush()
}

// Failure records a failed package together with its error message.
func (t *Tracker) Failure(pkg, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.currentPackage = pkg
	t.failed++
	t.errors = append(t.errors, ErrorEntry{Package: pkg, Error: truncate(errMsg, maxErrorLen)})
	t.maybeFlush()
}

// Flush writes the progress document regardless of cadence.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
}

// Counts returns the success and failure totals so far.
func (t *Tracker) Counts() (success, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success, t.failed
}

// Errors returns a copy of the recorded failures.
func (t *Tracker) Errors() []ErrorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorEntry, len(t.errors))
	copy(out, t.errors)
	return out
}

func (t *Tracker) maybeFlush() {
	if t.current%refreshFlushEvery == 0 || t.current == t.total {
		t.flush()
	}
}

func (t *Tracker) flush() {
	errs := t.errors
	if len(errs) > maxErrorsKept {
		errs = errs[len(errs)-maxErrorsKept:]
	}
	writeJSON(t.reporter.ProgressPath, RefreshDoc{
		Current:        t.current,
		Total:          t.total,
		Success:        t.success,
		Failed:         t.failed,
		CurrentPackage: t.currentPackage,
		Percent:        percent(t.current, t.total, 100),
		Errors:         append([]ErrorEntry{}, errs...),
		UpdatedAt:      now(),
	})
}

// CheckTracker accumulates integrity scan counters, flushing every
// fiftieth archive and at the end of the scan.
type CheckTracker struct {
	mu       sync.Mutex
	reporter *Reporter

	current     int
	total       int
	broken      int
	currentFile string
}

// NewCheckTracker creates a CheckTracker for a scan of total archives.
func NewCheckTracker(reporter *Reporter, total int) *CheckTracker {
	return &CheckTracker{reporter: reporter, total: total}
}

// Scanned records one checked archive.
func (t *CheckTracker) Scanned(file string, broken bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.currentFile = file
	if broken {
		t.broken++
	}
	if t.current%checkFlushEvery == 0 || t.current == t.total {
		t.flush()
	}
}

// Flush writes the progress document regardless of cadence.
func (t *CheckTracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
}

// Broken returns the broken archive count so far.
func (t *CheckTracker) Broken() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *CheckTracker) flush() {
	writeJSON(t.reporter.ProgressPath, CheckDoc{
		Current:     t.current,
		Total:       t.total,
		Broken:      t.broken,
		CurrentFile: t.currentFile,
		Percent:     percent(t.current, t.total, 0),
		UpdatedAt:   now(),
	})
}

// FixTracker accumulates repair counters. Repairs are slow, so every
// transition is flushed immediately: Begin publishes the item being
// worked on, Fixed and Failed publish its outcome.
type FixTracker struct {
	mu       sync.Mutex
	reporter *Reporter

	current        int
	total          int
	fixed          int
	failed         int
	currentPackage string
}

// NewFixTracker creates a FixTracker for a run of total archives.
func NewFixTracker(reporter *Reporter, total int) *FixTracker {
	return &FixTracker{reporter: reporter, total: total}
}

// Begin records that repair of spec started.
func (t *FixTracker) Begin(spec string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current++
	t.currentPackage = spec
	t.flush()
}

// Fixed records the active repair as successful.
func (t *FixTracker) Fixed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixed++
	t.flush()
}

// Failed records the active repair as unsuccessful.
func (t *FixTracker) Failed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.flush()
}

// Counts returns the fixed and failed totals so far.
func (t *FixTracker) Counts() (fixed, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fixed, t.failed
}

func (t *FixTracker) flush() {
	writeJSON(t.reporter.ProgressPath, FixDoc{
		Current:        t.current,
		Total:          t.total,
		Fixed:          t.fixed,
		Failed:         t.failed,
		CurrentPackage: t.currentPackage,
		Percent:        percent(t.current, t.total, 0),
		UpdatedAt:      now(),
	})
}

// writeJSON atomically replaces path with the encoded document. The
// rename keeps pollers from ever observing a half-written file.
func writeJSON(path string, v any) {
	if path == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.Debug("failed to encode telemetry", logging.String("path", path), logging.Err(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Debug("failed to write telemetry", logging.String("path", path), logging.Err(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.Debug("failed to publish telemetry", logging.String("path", path), logging.Err(err))
	}
}

// percent computes current/total as a percentage rounded to two
// decimals. whenEmpty is returned for an empty run: refresh reports an
// empty run as already complete, scans report it as zero.
func percent(current, total int, whenEmpty float64) float64 {
	if total <= 0 {
		return whenEmpty
	}
	return math.Round(float64(current)*10000/float64(total)) / 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
