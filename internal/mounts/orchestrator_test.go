package mounts_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"syncdock/internal/bookmarks"
	"syncdock/internal/logging"
	"syncdock/internal/mounts"
	"syncdock/internal/notifications"
	"syncdock/internal/testsupport"
	"syncdock/internal/transport"
)

type fixture struct {
	rt      *testsupport.FakeTransport
	store   *bookmarks.Store
	bus     *notifications.Bus
	orch    *mounts.Orchestrator
	scratch string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rt := testsupport.NewFakeTransport()
	store := testsupport.NewBookmarkStore(t, cfg)
	bus := notifications.NewBus()
	orch := mounts.New(rt, store, bus, notifications.NoopSink{}, logging.NewNop(), cfg.Paths.ScratchDir,
		mounts.WithVerify(3, 0))
	return &fixture{rt: rt, store: store, bus: bus, orch: orch, scratch: cfg.Paths.ScratchDir}
}

// reflectMounts installs handlers so listmounts reflects whatever
// mount/mount last created.
func (f *fixture) reflectMounts() {
	var points []any
	f.rt.Handle("mount/mount", func(params map[string]any) (map[string]any, error) {
		points = append(points, map[string]any{"MountPoint": params["mountPoint"]})
		return map[string]any{}, nil
	})
	f.rt.Handle("mount/listmounts", func(map[string]any) (map[string]any, error) {
		return map[string]any{"mountPoints": points}, nil
	})
}

func TestMountIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.reflectMounts()

	if err := f.orch.Mount(context.Background(), "remote1", "default"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	firstCalls := len(f.rt.CallsTo("mount/mount"))

	if err := f.orch.Mount(context.Background(), "remote1", "default"); err != nil {
		t.Fatalf("second Mount: %v", err)
	}
	if got := len(f.rt.CallsTo("mount/mount")); got != firstCalls {
		t.Errorf("second mount issued %d extra daemon calls", got-firstCalls)
	}
}

func TestMountUsesScratchPathAndPersistsEnabled(t *testing.T) {
	f := newFixture(t)
	f.reflectMounts()

	var changes int
	f.bus.Subscribe(func() { changes++ })

	if err := f.orch.Mount(context.Background(), "remote1", "work"); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	path, mounted := f.orch.Status("remote1", "work")
	if !mounted {
		t.Fatal("expected slot to be mounted")
	}
	if filepath.Base(filepath.Dir(path)) != "remote1" || filepath.Base(path) != "work" {
		t.Errorf("mount path not namespaced by bookmark and slot: %s", path)
	}

	record, err := f.store.MountSlot("remote1", "work")
	if err != nil {
		t.Fatalf("MountSlot: %v", err)
	}
	if !record.Enabled {
		t.Error("enabled flag not persisted")
	}
	if changes == 0 {
		t.Error("expected change notification")
	}
}

func TestMountHonorsPathOverrideAndRemoteSubPath(t *testing.T) {
	f := newFixture(t)
	f.reflectMounts()
	override := filepath.Join(t.TempDir(), "over")
	if err := f.store.SaveMountSlot("remote1", "media", bookmarks.MountSlot{
		Path:       override,
		RemotePath: "photos/2026",
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Mount(context.Background(), "remote1", "media"); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	calls := f.rt.CallsTo("mount/mount")
	if len(calls) != 1 {
		t.Fatalf("mount calls = %d", len(calls))
	}
	if calls[0].Params["fs"] != "remote1:photos/2026" {
		t.Errorf("fs = %v", calls[0].Params["fs"])
	}
	if calls[0].Params["mountPoint"] != override {
		t.Errorf("mountPoint = %v", calls[0].Params["mountPoint"])
	}
}

func TestMountRetriesWhenVerificationFails(t *testing.T) {
	f := newFixture(t)
	// First two attempts: the daemon accepts the mount but it never shows
	// up in the list. The persistent handler takes over once the queue
	// drains and verifies the third attempt.
	f.rt.Enqueue("mount/listmounts", map[string]any{"mountPoints": []any{}}, nil)
	f.rt.Enqueue("mount/listmounts", map[string]any{"mountPoints": []any{}}, nil)
	mountPoint := filepath.Join(f.scratch, "remote1", "default")
	f.rt.Handle("mount/listmounts", func(map[string]any) (map[string]any, error) {
		return map[string]any{"mountPoints": []any{
			map[string]any{"MountPoint": mountPoint},
		}}, nil
	})

	if err := f.orch.Mount(context.Background(), "remote1", "default"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := len(f.rt.CallsTo("mount/mount")); got != 3 {
		t.Errorf("mount attempts = %d, want 3", got)
	}
	// Stale daemon-side state is dropped between attempts.
	if got := len(f.rt.CallsTo("mount/unmount")); got != 2 {
		t.Errorf("cleanup unmount calls = %d, want 2", got)
	}
}

func TestMountFailureDoesNotPopulateCache(t *testing.T) {
	f := newFixture(t)
	daemonErr := errors.New("mount helper not installed")
	f.rt.Handle("mount/mount", func(map[string]any) (map[string]any, error) {
		return nil, daemonErr
	})

	err := f.orch.Mount(context.Background(), "remote1", "default")
	if err == nil || !errors.Is(err, daemonErr) {
		t.Fatalf("expected daemon error, got %v", err)
	}
	if _, mounted := f.orch.Status("remote1", "default"); mounted {
		t.Error("failed mount must not populate the cache")
	}
}

func TestMountFailsWhenDaemonUnavailable(t *testing.T) {
	f := newFixture(t)
	f.rt.Handle("mount/mount", func(map[string]any) (map[string]any, error) {
		return nil, transport.ErrDaemonUnavailable
	})

	err := f.orch.Mount(context.Background(), "remote1", "default")
	if !errors.Is(err, transport.ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}

func TestUnmountOnNeverMountedSlot(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.Unmount(context.Background(), "remote1", "default"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if calls := f.rt.Calls(); len(calls) != 0 {
		t.Errorf("expected no daemon calls, got %v", calls)
	}
}

func TestUnmountClearsCacheAndPersistsDisabled(t *testing.T) {
	f := newFixture(t)
	f.reflectMounts()
	if err := f.orch.Mount(context.Background(), "remote1", "default"); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Unmount(context.Background(), "remote1", "default"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if _, mounted := f.orch.Status("remote1", "default"); mounted {
		t.Error("cache entry should be gone")
	}
	record, err := f.store.MountSlot("remote1", "default")
	if err != nil {
		t.Fatal(err)
	}
	if record.Enabled {
		t.Error("enabled flag should be false after unmount")
	}
}

func TestUnmountFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.reflectMounts()
	if err := f.orch.Mount(context.Background(), "remote1", "default"); err != nil {
		t.Fatal(err)
	}
	f.rt.Handle("mount/unmount", func(map[string]any) (map[string]any, error) {
		return nil, errors.New("device busy")
	})

	if err := f.orch.Unmount(context.Background(), "remote1", "default"); err == nil {
		t.Fatal("expected unmount failure")
	}
	if _, mounted := f.orch.Status("remote1", "default"); !mounted {
		t.Error("cache must keep the entry while the daemon still holds the mount")
	}
}
