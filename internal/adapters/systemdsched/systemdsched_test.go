package systemdsched

import (
	"strings"
	"testing"
	"time"
)

func TestUnitPaths(t *testing.T) {
	sched := New()

	if !strings.HasSuffix(sched.ServicePath(), "mirrorctl-refresh.service") {
		t.Errorf("unexpected service path %q", sched.ServicePath())
	}
	if !strings.HasSuffix(sched.TimerPath(), "mirrorctl-refresh.timer") {
		t.Errorf("unexpected timer path %q", sched.TimerPath())
	}
	if !strings.Contains(sched.TimerPath(), ".config/systemd/user") {
		t.Errorf("expected user unit directory, got %q", sched.TimerPath())
	}
}

func TestRenderUnits(t *testing.T) {
	service, timer, err := renderUnits("/usr/local/bin/mirrorctl", 6*time.Hour)
	if err != nil {
		t.Fatalf("renderUnits failed: %v", err)
	}

	if !strings.Contains(service, "ExecStart=/usr/local/bin/mirrorctl update-recent") {
		t.Errorf("service unit missing ExecStart:\n%s", service)
	}
	if !strings.Contains(service, "Type=oneshot") {
		t.Errorf("service unit missing oneshot type:\n%s", service)
	}
	if !strings.Contains(timer, "OnUnitActiveSec=21600s") {
		t.Errorf("timer unit missing interval:\n%s", timer)
	}
	if !strings.Contains(timer, "WantedBy=timers.target") {
		t.Errorf("timer unit missing install section:\n%s", timer)
	}
}

func TestIsInstalledWithoutUnits(t *testing.T) {
	sched := &SystemdScheduler{unitDir: t.TempDir()}

	if sched.IsInstalled() {
		t.Error("expected IsInstalled to be false in an empty unit dir")
	}
	if status := sched.Status(); status != "not installed" {
		t.Errorf("status = %q, expected %q", status, "not installed")
	}
}
