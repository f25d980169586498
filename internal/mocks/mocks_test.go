package mocks

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mirrorops/mirrorctl/internal/ports"
)

func TestMockFileSystem(t *testing.T) {
	mockFS := NewMockFileSystem()

	// Test WriteFile and ReadFile
	mockFS.WriteFile("/test/file.txt", []byte("hello"), 0644)
	content, err := mockFS.ReadFile("/test/file.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q, expected %q", string(content), "hello")
	}

	// Test Stat after WriteFile
	info, err := mockFS.Stat("/test/file.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 5 {
		t.Errorf("size = %d, expected 5", info.Size())
	}

	// Test ReadFile for non-existent file
	_, err = mockFS.ReadFile("/nonexistent")
	if err == nil {
		t.Error("ReadFile should fail for non-existent file")
	}

	// Test error injection
	mockFS.Errors["/error/path"] = errors.New("injected error")
	_, err = mockFS.ReadFile("/error/path")
	if err == nil || err.Error() != "injected error" {
		t.Errorf("Expected injected error, got: %v", err)
	}
}

func TestMockFileSystemChtimes(t *testing.T) {
	mockFS := NewMockFileSystem()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mockFS.AddFile("/test/file.txt", []byte("hello"), created)

	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := mockFS.Chtimes("/test/file.txt", updated, updated); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	info, err := mockFS.Stat("/test/file.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.ModTime().Equal(updated) {
		t.Errorf("modTime = %v, expected %v", info.ModTime(), updated)
	}

	if err := mockFS.Chtimes("/nonexistent", updated, updated); err == nil {
		t.Error("Chtimes should fail for non-existent file")
	}
}

func TestMockFileSystemWalk(t *testing.T) {
	mockFS := NewMockFileSystem()

	mockFS.WalkEntries = []WalkEntry{
		{Path: "/storage/a.tgz", Info: FileInfo("a.tgz", 10, time.Now(), false)},
		{Path: "/storage/b.tgz", Info: FileInfo("b.tgz", 20, time.Now(), false)},
		{Path: "/elsewhere/c.tgz", Info: FileInfo("c.tgz", 30, time.Now(), false)},
	}

	var visited []string
	err := mockFS.Walk("/storage", func(path string, info os.FileInfo, err error) error {
		visited = append(visited, path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(visited) != 2 {
		t.Errorf("visited %d entries, expected 2: %v", len(visited), visited)
	}
}

func TestMockPnpmClient(t *testing.T) {
	client := NewMockPnpmClient()
	client.Output["lodash@latest"] = []byte("done")

	out, err := client.Run(context.Background(), "/tmp/work", "install", "lodash@latest", "--force")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(out) != "done" {
		t.Errorf("output = %q, expected %q", string(out), "done")
	}
	if client.CallCount() != 1 {
		t.Errorf("CallCount = %d, expected 1", client.CallCount())
	}
	if calls := client.CallsFor("lodash@latest"); len(calls) != 1 {
		t.Errorf("CallsFor returned %d calls, expected 1", len(calls))
	}

	client.Fail["broken@latest"] = errors.New("exit status 1")
	client.Output["broken@latest"] = []byte("ERR_PNPM_NO_MATCHING_VERSION")
	out, err = client.Run(context.Background(), "/tmp/work", "install", "broken@latest")
	if err == nil {
		t.Error("Run should fail for configured spec")
	}
	if string(out) != "ERR_PNPM_NO_MATCHING_VERSION" {
		t.Errorf("failed run should still return output, got %q", string(out))
	}
}

func TestMockPnpmClientHang(t *testing.T) {
	client := NewMockPnpmClient()
	client.Hang["slow@latest"] = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Run(ctx, "/tmp/work", "install", "slow@latest")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestMockArchiver(t *testing.T) {
	archiver := NewMockArchiver()

	var addCalls int
	err := archiver.Create("/archives/diff.tar.gz", "/storage",
		[]string{"a.tgz", "b.tgz"}, func(done int) { addCalls = done })
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(archiver.CreateCalls) != 1 {
		t.Fatalf("recorded %d Create calls, expected 1", len(archiver.CreateCalls))
	}
	if addCalls != 2 {
		t.Errorf("onAdd last value = %d, expected 2", addCalls)
	}

	archiver.ListResults["/archives/diff.tar.gz"] = map[string]ports.FileEntry{
		"a.tgz": {Size: 10},
	}
	entries, err := archiver.List("/archives/diff.tar.gz")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List returned %d entries, expected 1", len(entries))
	}

	archiver.Errors["Create"] = errors.New("disk full")
	if err := archiver.Create("/x", "/y", nil, nil); err == nil {
		t.Error("Create should return injected error")
	}
}

func TestMockScheduler(t *testing.T) {
	sched := NewMockScheduler()

	if sched.IsInstalled() {
		t.Error("new mock should not be installed")
	}
	if err := sched.Install(6 * time.Hour); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !sched.IsInstalled() {
		t.Error("scheduler should be installed after Install")
	}
	if sched.Status() != "active" {
		t.Errorf("status = %q, expected %q", sched.Status(), "active")
	}
	if len(sched.InstallCalls) != 1 || sched.InstallCalls[0] != 6*time.Hour {
		t.Errorf("unexpected InstallCalls: %v", sched.InstallCalls)
	}

	if err := sched.Uninstall(); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if sched.IsInstalled() {
		t.Error("scheduler should not be installed after Uninstall")
	}
}

func TestMockWatchSource(t *testing.T) {
	source := NewMockWatchSource()
	source.StatusResult = &ports.WatchStatus{Status: "running", Message: "Refreshing 5 packages..."}
	source.LiveContents["lodash/package.json"] = "live"
	source.FrozenContents["lodash/package.json"] = "frozen"

	cfg, err := source.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfig returned nil config")
	}

	status, err := source.Status(cfg)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Status != "running" {
		t.Errorf("status = %q, expected %q", status.Status, "running")
	}

	frozen, live, err := source.FileVersions(cfg, "lodash/package.json")
	if err != nil {
		t.Fatalf("FileVersions failed: %v", err)
	}
	if frozen != "frozen" || live != "live" {
		t.Errorf("FileVersions = (%q, %q), expected (frozen, live)", frozen, live)
	}
	if len(source.FileVersionsCalls) != 1 {
		t.Errorf("recorded %d FileVersions calls, expected 1", len(source.FileVersionsCalls))
	}
}
