package rcdaemon

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"syncdock/internal/config"
	"syncdock/internal/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Daemon.StartupGraceSeconds = 0
	cfg.Daemon.StartupTimeoutSeconds = 2
	cfg.Daemon.PollIntervalSeconds = 1
	cfg.Daemon.StopGraceSeconds = 1
	return &cfg
}

func overrideCommand(t *testing.T, name string, args ...string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, name, args...)
	}
	t.Cleanup(func() { commandContext = original })
}

func TestStartBecomesReadyAndStops(t *testing.T) {
	overrideCommand(t, "sleep", "60")

	var probedAddr string
	sup := New(testConfig(), logging.NewNop(), WithProbe(func(_ context.Context, addr, user, pass string) error {
		probedAddr = addr
		if user == "" || pass == "" {
			t.Errorf("expected generated credentials, got %q/%q", user, pass)
		}
		return nil
	}))

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Ready() {
		t.Fatalf("state = %s, want ready", sup.State())
	}
	if probedAddr != sup.Endpoint() {
		t.Errorf("endpoint %q does not match probed %q", sup.Endpoint(), probedAddr)
	}
	if sup.PID() == 0 {
		t.Error("expected live pid")
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.State() != StateStopped {
		t.Fatalf("state after stop = %s", sup.State())
	}
	if sup.Endpoint() != "" {
		t.Error("endpoint should clear after stop")
	}
}

func TestStartFailsWhenProcessDiesEarly(t *testing.T) {
	overrideCommand(t, "false")

	sup := New(testConfig(), logging.NewNop(), WithProbe(func(context.Context, string, string, string) error {
		return errors.New("connection refused")
	}))

	err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected startup failure")
	}
	if sup.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", sup.State())
	}
}

func TestStartDeadlineKillsProcess(t *testing.T) {
	overrideCommand(t, "sleep", "60")

	sup := New(testConfig(), logging.NewNop(), WithProbe(func(context.Context, string, string, string) error {
		return errors.New("connection refused")
	}))

	err := sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected startup deadline error")
	}
	if !strings.Contains(err.Error(), "did not become ready") {
		t.Errorf("unexpected error: %v", err)
	}
	if sup.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", sup.State())
	}
	if sup.PID() != 0 {
		t.Error("process should be gone after deadline")
	}
}

func TestStartRejectedWhenRCDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.RCEnabled = false
	sup := New(cfg, logging.NewNop())
	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("expected error with rc disabled")
	}
}

func TestBuildArgsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Daemon.ConfigPath = "/etc/rclone.conf"
	cfg.Daemon.CacheDir = "/tmp/cache"

	args := buildArgs(cfg, "u", "p")
	want := []string{
		"rcd",
		"--rc-addr", cfg.Daemon.RCAddr,
		"--rc-user", "u",
		"--rc-pass", "p",
		"--rc-allow-origin", cfg.Daemon.AllowOrigin,
		"--config", "/etc/rclone.conf",
		"--cache-dir", "/tmp/cache",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
