package refresh

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/install"
	"github.com/mirrorops/mirrorctl/internal/progress"
	"github.com/mirrorops/mirrorctl/internal/storage"
)

// fakeInstaller implements Installer for testing. Failures are keyed by
// package spec; an optional gate blocks every call until released.
type fakeInstaller struct {
	mu          sync.Mutex
	specs       []string
	bulk        []bool
	fail        map[string]error
	gate        chan struct{}
	inFlight    int
	maxInFlight int
}

func (f *fakeInstaller) Install(ctx context.Context, ref storage.PackageRef, version string) error {
	return f.record(ref.Spec(version), false)
}

func (f *fakeInstaller) InstallBulk(ctx context.Context, ref storage.PackageRef, version string) error {
	return f.record(ref.Spec(version), true)
}

func (f *fakeInstaller) record(spec string, bulk bool) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	f.bulk = append(f.bulk, bulk)
	f.inFlight--
	return f.fail[spec]
}

func (f *fakeInstaller) currentInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.MirrorHome = dir
	cfg.StorageDir = filepath.Join(dir, "storage")
	cfg.StatusFile = filepath.Join(dir, "status.json")
	cfg.ProgressFile = filepath.Join(dir, "progress.json")
	cfg.LogFile = ""
	cfg.ParallelJobs = 4
	return cfg
}

func addPackage(t *testing.T, storageDir, name string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(storageDir, name), 0o755); err != nil {
		t.Fatal(err)
	}
}

func readStatus(t *testing.T, path string) progress.StatusDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading status file: %v", err)
	}
	var doc progress.StatusDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing status file: %v", err)
	}
	return doc
}

func readProgress(t *testing.T, path string) progress.RefreshDoc {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading progress file: %v", err)
	}
	var doc progress.RefreshDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing progress file: %v", err)
	}
	return doc
}

func TestUpdateAll(t *testing.T) {
	cfg := testConfig(t)
	addPackage(t, cfg.StorageDir, "lodash")
	addPackage(t, cfg.StorageDir, "express")
	addPackage(t, cfg.StorageDir, "@types/node")

	installer := &fakeInstaller{}
	svc := NewService(cfg, installer)

	sum, err := svc.UpdateAll(context.Background())
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if sum.Total != 3 || sum.Success != 3 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 3/3/0", sum)
	}
	if len(sum.Errors) != 0 || sum.Errors == nil {
		t.Errorf("errors = %#v, want empty non-nil slice", sum.Errors)
	}

	if len(installer.specs) != 3 {
		t.Fatalf("installer ran %d times, want 3", len(installer.specs))
	}
	for i, spec := range installer.specs {
		if !strings.HasSuffix(spec, "@latest") {
			t.Errorf("spec %q missing @latest", spec)
		}
		if !installer.bulk[i] {
			t.Errorf("install %q not run with bulk flags", spec)
		}
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "Updated 3 packages" {
		t.Errorf("status = %+v", status)
	}

	doc := readProgress(t, cfg.ProgressFile)
	if doc.Current != 3 || doc.Total != 3 || doc.Success != 3 || doc.Percent != 100 {
		t.Errorf("final progress = %+v", doc)
	}
}

func TestUpdateAllRecordsFailures(t *testing.T) {
	cfg := testConfig(t)
	addPackage(t, cfg.StorageDir, "lodash")
	addPackage(t, cfg.StorageDir, "left-pad")

	installer := &fakeInstaller{fail: map[string]error{
		"left-pad@latest": &install.Error{
			Kind:    install.KindRegistryOverloaded,
			Package: "left-pad@latest",
			Message: "registry connection timed out",
		},
	}}
	svc := NewService(cfg, installer)

	sum, err := svc.UpdateAll(context.Background())
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if sum.Total != 2 || sum.Success != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v, want 2/1/1", sum)
	}
	if len(sum.Errors) != 1 {
		t.Fatalf("errors = %#v, want one entry", sum.Errors)
	}
	if sum.Errors[0].Package != "left-pad" || sum.Errors[0].Error != "registry connection timed out" {
		t.Errorf("error entry = %+v", sum.Errors[0])
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed_with_errors" {
		t.Errorf("status = %q, want completed_with_errors", status.Status)
	}
	if status.Message != "Updated: 1, Failed: 1" {
		t.Errorf("message = %q", status.Message)
	}
}

func TestUpdateAllEmptyStorage(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}

	installer := &fakeInstaller{}
	svc := NewService(cfg, installer)

	sum, err := svc.UpdateAll(context.Background())
	if err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}
	if sum.Total != 0 || sum.Success != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want zero counts", sum)
	}
	if sum.Errors == nil {
		t.Error("errors slice is nil, want [] in the result document")
	}
	if len(installer.specs) != 0 {
		t.Errorf("installer ran %d times on empty storage", len(installer.specs))
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "No packages found" {
		t.Errorf("status = %+v", status)
	}
}

func TestUpdateAllMissingMirrorHome(t *testing.T) {
	cfg := testConfig(t)
	cfg.MirrorHome = filepath.Join(cfg.MirrorHome, "does-not-exist")

	svc := NewService(cfg, &fakeInstaller{})

	if _, err := svc.UpdateAll(context.Background()); err == nil {
		t.Fatal("UpdateAll succeeded with a missing mirror home")
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" {
		t.Errorf("status = %q, want failed", status.Status)
	}
	if !strings.Contains(status.Message, "Directory not found") {
		t.Errorf("message = %q", status.Message)
	}
}

func TestRunBoundsConcurrencyAndFlushesEarly(t *testing.T) {
	cfg := testConfig(t)
	installer := &fakeInstaller{gate: make(chan struct{})}
	svc := NewService(cfg, installer)

	refs := make([]storage.PackageRef, 8)
	for i := range refs {
		refs[i] = storage.PackageRef{Name: "pkg-" + string(rune('a'+i))}
	}

	done := make(chan *Summary, 1)
	go func() {
		done <- svc.Run(context.Background(), refs, 2)
	}()

	// Wait for the pool to saturate its limit.
	deadline := time.Now().Add(2 * time.Second)
	for installer.currentInFlight() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("pool never reached 2 in-flight installs")
		}
		time.Sleep(time.Millisecond)
	}

	// The initial flush happens before any install completes.
	doc := readProgress(t, cfg.ProgressFile)
	if doc.Current != 0 || doc.Total != 8 {
		t.Errorf("initial progress = %+v, want 0/8", doc)
	}

	// With the gate held no further workers may start.
	time.Sleep(20 * time.Millisecond)
	if got := installer.currentInFlight(); got != 2 {
		t.Errorf("in-flight = %d with limit 2", got)
	}

	close(installer.gate)
	sum := <-done

	if sum.Total != 8 || sum.Success != 8 {
		t.Errorf("summary = %+v, want 8/8/0", sum)
	}
	if installer.maxInFlight > 2 {
		t.Errorf("max in-flight = %d, want at most 2", installer.maxInFlight)
	}
}

func TestUpdateRecent(t *testing.T) {
	cfg := testConfig(t)
	addPackage(t, cfg.StorageDir, "fresh")
	addPackage(t, cfg.StorageDir, "stale")

	freshDoc := filepath.Join(cfg.StorageDir, "fresh", "package.json")
	staleDoc := filepath.Join(cfg.StorageDir, "stale", "package.json")
	for _, path := range []string{freshDoc, staleDoc} {
		if err := os.WriteFile(path, []byte(`{"versions":{"1.0.0":{}}}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(staleDoc, old, old); err != nil {
		t.Fatal(err)
	}

	installer := &fakeInstaller{}
	svc := NewService(cfg, installer)

	sum, err := svc.UpdateRecent(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("UpdateRecent: %v", err)
	}
	if sum.Total != 1 || sum.Success != 1 {
		t.Errorf("summary = %+v, want 1/1/0", sum)
	}
	if len(installer.specs) != 1 || installer.specs[0] != "fresh@latest" {
		t.Errorf("specs = %v, want [fresh@latest]", installer.specs)
	}
}

func TestUpdateRecentNothingModified(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}

	svc := NewService(cfg, &fakeInstaller{})

	sum, err := svc.UpdateRecent(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("UpdateRecent: %v", err)
	}
	if sum.Total != 0 {
		t.Errorf("summary = %+v, want zero counts", sum)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" {
		t.Errorf("status = %q, want completed", status.Status)
	}
	if status.Message != "No packages modified in the last 30m" {
		t.Errorf("message = %q", status.Message)
	}
}

func TestUpdateSingle(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}

	installer := &fakeInstaller{}
	svc := NewService(cfg, installer)

	if err := svc.UpdateSingle(context.Background(), "@types/node"); err != nil {
		t.Fatalf("UpdateSingle: %v", err)
	}

	if len(installer.specs) != 1 || installer.specs[0] != "@types/node@latest" {
		t.Errorf("specs = %v", installer.specs)
	}
	if installer.bulk[0] {
		t.Error("single update ran with bulk flags")
	}

	doc := readProgress(t, cfg.ProgressFile)
	if doc.Current != 1 || doc.Total != 1 || doc.Success != 1 || doc.Failed != 0 {
		t.Errorf("progress = %+v, want 1/1 success", doc)
	}
	if doc.CurrentPackage != "@types/node" || doc.Percent != 100 {
		t.Errorf("progress = %+v", doc)
	}
	if doc.Errors == nil || len(doc.Errors) != 0 {
		t.Errorf("errors = %#v, want empty non-nil slice", doc.Errors)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "Package @types/node updated" {
		t.Errorf("status = %+v", status)
	}
}

func TestUpdateSingleFailure(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}

	longMsg := strings.Repeat("x", 150)
	installer := &fakeInstaller{fail: map[string]error{
		"lodash@latest": &install.Error{
			Kind:    install.KindGeneric,
			Package: "lodash@latest",
			Message: longMsg,
		},
	}}
	svc := NewService(cfg, installer)

	if err := svc.UpdateSingle(context.Background(), "lodash"); err == nil {
		t.Fatal("UpdateSingle succeeded, want error")
	}

	doc := readProgress(t, cfg.ProgressFile)
	if doc.Current != 1 || doc.Failed != 1 || doc.Success != 0 {
		t.Errorf("progress = %+v, want 1/1 failed", doc)
	}
	if len(doc.Errors) != 1 || doc.Errors[0].Error != longMsg {
		t.Errorf("errors = %#v", doc.Errors)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" {
		t.Errorf("status = %q, want failed", status.Status)
	}
	want := "Failed to update lodash: " + longMsg[:100]
	if status.Message != want {
		t.Errorf("message = %q, want %q", status.Message, want)
	}
}

func TestUpdateSingleInvalidName(t *testing.T) {
	cfg := testConfig(t)

	installer := &fakeInstaller{}
	svc := NewService(cfg, installer)

	if err := svc.UpdateSingle(context.Background(), "not a package"); err == nil {
		t.Fatal("UpdateSingle accepted an invalid name")
	}
	if len(installer.specs) != 0 {
		t.Errorf("installer ran for invalid name: %v", installer.specs)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" || !strings.Contains(status.Message, "Invalid package name") {
		t.Errorf("status = %+v", status)
	}
}

func TestUpdateSingleMissingStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDir = filepath.Join(cfg.StorageDir, "missing")

	svc := NewService(cfg, &fakeInstaller{})

	if err := svc.UpdateSingle(context.Background(), "lodash"); err == nil {
		t.Fatal("UpdateSingle succeeded with a missing storage dir")
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" || !strings.Contains(status.Message, "Directory not found") {
		t.Errorf("status = %+v", status)
	}
}

func TestFormatWindow(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   string
	}{
		{48 * time.Hour, "48h"},
		{90 * time.Minute, "1h"},
		{time.Hour, "1h"},
		{30 * time.Minute, "30m"},
	}
	for _, tt := range tests {
		if got := formatWindow(tt.window); got != tt.want {
			t.Errorf("formatWindow(%v) = %q, want %q", tt.window, got, tt.want)
		}
	}
}
