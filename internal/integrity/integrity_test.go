package integrity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mirrorops/mirrorctl/internal/adapters/targz"
	"github.com/mirrorops/mirrorctl/internal/config"
	"github.com/mirrorops/mirrorctl/internal/install"
	"github.com/mirrorops/mirrorctl/internal/progress"
	"github.com/mirrorops/mirrorctl/internal/storage"
)

// fakeInstaller implements Installer for testing. onInstall, when set,
// runs in place of the real reinstall and can drop a file at the
// archive path.
type fakeInstaller struct {
	specs     []string
	onInstall func(ref storage.PackageRef, version string) error
}

func (f *fakeInstaller) Install(ctx context.Context, ref storage.PackageRef, version string) error {
	f.specs = append(f.specs, ref.Spec(version))
	if f.onInstall != nil {
		return f.onInstall(ref, version)
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.MirrorHome = dir
	cfg.StorageDir = filepath.Join(dir, "storage")
	cfg.StatusFile = filepath.Join(dir, "status.json")
	cfg.ProgressFile = filepath.Join(dir, "progress.json")
	cfg.BrokenFile = filepath.Join(dir, "broken.txt")
	cfg.ParallelJobs = 4
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// buildArchive writes a valid tarball at dest containing files.
func buildArchive(t *testing.T, dest string, files map[string]string) {
	t.Helper()
	src := t.TempDir()
	names := make([]string, 0, len(files))
	for name, content := range files {
		writeFile(t, filepath.Join(src, name), content)
		names = append(names, name)
	}
	sort.Strings(names)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := targz.New().Create(dest, src, names, nil); err != nil {
		t.Fatalf("building fixture archive: %v", err)
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

func TestCheck(t *testing.T) {
	cfg := testConfig(t)
	valid1 := filepath.Join(cfg.StorageDir, "lodash", "lodash-4.17.21.tgz")
	valid2 := filepath.Join(cfg.StorageDir, "@angular", "core", "core-15.0.0.tgz")
	corrupt := filepath.Join(cfg.StorageDir, "left-pad", "left-pad-1.3.0.tgz")
	buildArchive(t, valid1, map[string]string{"package/package.json": "{}"})
	buildArchive(t, valid2, map[string]string{"package/index.js": "module.exports = 1"})
	writeFile(t, corrupt, "this is not gzip data")

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Total != 3 || rep.Broken != 1 {
		t.Errorf("report = %+v, want total=3 broken=1", rep)
	}
	if len(rep.Paths) != 1 || rep.Paths[0] != corrupt {
		t.Errorf("paths = %v, want [%s]", rep.Paths, corrupt)
	}
	if rep.ListPath != cfg.BrokenFile {
		t.Errorf("list path = %q, want %q", rep.ListPath, cfg.BrokenFile)
	}

	data, err := os.ReadFile(cfg.BrokenFile)
	if err != nil {
		t.Fatalf("broken list not written: %v", err)
	}
	if string(data) != corrupt+"\n" {
		t.Errorf("broken list = %q", data)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed_with_errors" {
		t.Errorf("status = %q, want completed_with_errors", status.Status)
	}
	if status.Message != "Found 1 broken archives out of 3" {
		t.Errorf("message = %q", status.Message)
	}
}

func TestCheckAllValid(t *testing.T) {
	cfg := testConfig(t)
	buildArchive(t, filepath.Join(cfg.StorageDir, "lodash", "lodash-4.17.21.tgz"),
		map[string]string{"package/package.json": "{}"})
	buildArchive(t, filepath.Join(cfg.StorageDir, "express", "express-4.18.2.tgz"),
		map[string]string{"package/package.json": "{}"})

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Total != 2 || rep.Broken != 0 {
		t.Errorf("report = %+v, want total=2 broken=0", rep)
	}

	data, err := os.ReadFile(cfg.BrokenFile)
	if err != nil {
		t.Fatalf("broken list not written: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("broken list = %q, want empty", data)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "All 2 archives are valid" {
		t.Errorf("status = %+v", status)
	}
}

func TestCheckZeroEntryArchiveIsBroken(t *testing.T) {
	cfg := testConfig(t)
	empty := filepath.Join(cfg.StorageDir, "hollow", "hollow-1.0.0.tgz")
	buildArchive(t, empty, nil)

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Broken != 1 || len(rep.Paths) != 1 || rep.Paths[0] != empty {
		t.Errorf("report = %+v, want the empty archive flagged", rep)
	}
}

func TestCheckEmptyStorage(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// A stale list from an earlier run must not survive an empty scan.
	writeFile(t, cfg.BrokenFile, "/old/path.tgz\n")

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Total != 0 || rep.Broken != 0 {
		t.Errorf("report = %+v, want zero counts", rep)
	}
	if rep.Paths == nil {
		t.Error("paths slice is nil, want [] in the result document")
	}

	data, err := os.ReadFile(cfg.BrokenFile)
	if err != nil {
		t.Fatalf("broken list not written: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("broken list = %q, want emptied", data)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "No archives found" {
		t.Errorf("status = %+v", status)
	}
}

func TestCheckMissingStorage(t *testing.T) {
	cfg := testConfig(t)

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	if _, err := svc.Check(context.Background()); err == nil {
		t.Fatal("Check succeeded with a missing storage dir")
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" || !strings.Contains(status.Message, "Directory not found") {
		t.Errorf("status = %+v", status)
	}
}

func TestCheckRecordsDiscoveryOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.ParallelJobs = 1
	first := filepath.Join(cfg.StorageDir, "alpha", "alpha-1.0.0.tgz")
	second := filepath.Join(cfg.StorageDir, "zeta", "zeta-2.0.0.tgz")
	writeFile(t, first, "garbage")
	writeFile(t, second, "garbage")

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(rep.Paths) != 2 || rep.Paths[0] != first || rep.Paths[1] != second {
		t.Errorf("paths = %v, want walk order [%s %s]", rep.Paths, first, second)
	}
}

func TestFixReinstallsBrokenArchive(t *testing.T) {
	cfg := testConfig(t)
	broken := filepath.Join(cfg.StorageDir, "left-pad", "left-pad-1.3.0.tgz")
	writeFile(t, broken, "garbage")
	writeFile(t, cfg.BrokenFile, broken+"\n")

	var sawRemoved bool
	installer := &fakeInstaller{onInstall: func(ref storage.PackageRef, version string) error {
		if _, err := os.Stat(broken); os.IsNotExist(err) {
			sawRemoved = true
		}
		buildArchive(t, broken, map[string]string{"package/package.json": "{}"})
		return nil
	}}
	svc := NewService(cfg, targz.New(), installer)

	rep, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.Total != 1 || rep.Fixed != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v, want 1 fixed", rep)
	}
	if !sawRemoved {
		t.Error("broken archive still present when the installer ran")
	}
	if len(installer.specs) != 1 || installer.specs[0] != "left-pad@1.3.0" {
		t.Errorf("installer specs = %v, want [left-pad@1.3.0]", installer.specs)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "Fixed 1 archives" {
		t.Errorf("status = %+v", status)
	}
}

func TestFixStillBrokenAfterReinstall(t *testing.T) {
	cfg := testConfig(t)
	broken := filepath.Join(cfg.StorageDir, "lodash", "lodash-4.17.21.tgz")
	writeFile(t, broken, "garbage")
	writeFile(t, cfg.BrokenFile, broken+"\n")

	installer := &fakeInstaller{onInstall: func(ref storage.PackageRef, version string) error {
		writeFile(t, broken, "still garbage")
		return nil
	}}
	svc := NewService(cfg, targz.New(), installer)

	rep, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.Fixed != 0 || rep.Failed != 1 {
		t.Errorf("report = %+v, want 1 failed", rep)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed_with_errors" || status.Message != "Fixed: 0, Failed: 1" {
		t.Errorf("status = %+v", status)
	}
}

func TestFixArchiveMissingAfterReinstall(t *testing.T) {
	cfg := testConfig(t)
	broken := filepath.Join(cfg.StorageDir, "lodash", "lodash-4.17.21.tgz")
	writeFile(t, broken, "garbage")
	writeFile(t, cfg.BrokenFile, broken+"\n")

	// Install succeeds but leaves nothing at the expected path.
	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	rep, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.Fixed != 1 || rep.Failed != 0 {
		t.Errorf("report = %+v, want conservatively fixed", rep)
	}
}

func TestFixInstallerFailure(t *testing.T) {
	cfg := testConfig(t)
	broken := filepath.Join(cfg.StorageDir, "lodash", "lodash-4.17.21.tgz")
	writeFile(t, broken, "garbage")
	writeFile(t, cfg.BrokenFile, broken+"\n")

	installer := &fakeInstaller{onInstall: func(ref storage.PackageRef, version string) error {
		return &install.Error{
			Kind:    install.KindRegistryOverloaded,
			Package: ref.Spec(version),
			Message: "registry connection timed out",
		}
	}}
	svc := NewService(cfg, targz.New(), installer)

	rep, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.Fixed != 0 || rep.Failed != 1 {
		t.Errorf("report = %+v, want 1 failed", rep)
	}
}

func TestFixDerivesPinnedSpec(t *testing.T) {
	cfg := testConfig(t)
	broken := filepath.Join(cfg.StorageDir, "@angular", "core", "core-15.0.0-next.3.tgz")
	writeFile(t, broken, "garbage")
	writeFile(t, cfg.BrokenFile, broken+"\n")

	installer := &fakeInstaller{}
	svc := NewService(cfg, targz.New(), installer)

	if _, err := svc.Fix(context.Background()); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if len(installer.specs) != 1 || installer.specs[0] != "@angular/core@15.0.0-next.3" {
		t.Errorf("installer specs = %v, want [@angular/core@15.0.0-next.3]", installer.specs)
	}

	var doc progress.FixDoc
	data, err := os.ReadFile(cfg.ProgressFile)
	if err != nil {
		t.Fatalf("reading progress file: %v", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing progress file: %v", err)
	}
	if doc.CurrentPackage != "@angular/core@15.0.0-next.3" {
		t.Errorf("currentPackage = %q", doc.CurrentPackage)
	}
	if doc.Current != 1 || doc.Total != 1 || doc.Fixed != 1 {
		t.Errorf("progress = %+v", doc)
	}
}

func TestFixMissingList(t *testing.T) {
	cfg := testConfig(t)

	svc := NewService(cfg, targz.New(), &fakeInstaller{})

	if _, err := svc.Fix(context.Background()); err == nil {
		t.Fatal("Fix succeeded without a broken list")
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "failed" || !strings.Contains(status.Message, "File not found") {
		t.Errorf("status = %+v", status)
	}
}

func TestFixEmptyList(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.BrokenFile, "\n\n")

	installer := &fakeInstaller{}
	svc := NewService(cfg, targz.New(), installer)

	rep, err := svc.Fix(context.Background())
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if rep.Total != 0 || rep.Fixed != 0 || rep.Failed != 0 {
		t.Errorf("report = %+v, want zero counts", rep)
	}
	if len(installer.specs) != 0 {
		t.Errorf("installer ran on an empty list: %v", installer.specs)
	}

	status := readStatus(t, cfg.StatusFile)
	if status.Status != "completed" || status.Message != "No broken archives to fix" {
		t.Errorf("status = %+v", status)
	}
}
