package daemon

import (
	"context"
	"testing"

	"syncdock/internal/bookmarks"
	"syncdock/internal/logging"
	"syncdock/internal/mounts"
	"syncdock/internal/notifications"
	"syncdock/internal/testsupport"
)

func TestRestoreMountsRemountsEnabledSlotsOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.RCEnabled = false
	store := testsupport.NewBookmarkStore(t, cfg)
	if err := store.Save(bookmarks.Bookmark{Name: "remote1", Type: "s3"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMountSlot("remote1", "media", bookmarks.MountSlot{RemotePath: "media", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMountSlot("remote1", "archive", bookmarks.MountSlot{RemotePath: "archive"}); err != nil {
		t.Fatal(err)
	}

	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	// The sweep runs against the rc channel; stand in a fake transport so
	// the mount attempts are observable.
	rt := testsupport.NewFakeTransport()
	var points []any
	rt.Handle("mount/mount", func(params map[string]any) (map[string]any, error) {
		points = append(points, map[string]any{"MountPoint": params["mountPoint"]})
		return map[string]any{}, nil
	})
	rt.Handle("mount/listmounts", func(map[string]any) (map[string]any, error) {
		return map[string]any{"mountPoints": points}, nil
	})
	d.mounts = mounts.New(rt, d.store, d.bus, notifications.NoopSink{}, logging.NewNop(), cfg.Paths.ScratchDir,
		mounts.WithVerify(1, 0))

	d.restoreMounts(context.Background())

	calls := rt.CallsTo("mount/mount")
	if len(calls) != 1 {
		t.Fatalf("mount calls = %d, want 1 (enabled slot only)", len(calls))
	}
	if fs := calls[0].Params["fs"]; fs != "remote1:media" {
		t.Errorf("restored fs = %v, want remote1:media", fs)
	}
	if _, mounted := d.mounts.Status("remote1", "archive"); mounted {
		t.Error("disabled slot must not be remounted")
	}
}
