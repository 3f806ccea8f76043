package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"syncdock/internal/bookmarks"
	"syncdock/internal/daemon"
	"syncdock/internal/ipc"
	"syncdock/internal/logging"
	"syncdock/internal/testsupport"
)

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.RCEnabled = false
	store := testsupport.NewBookmarkStore(t, cfg)
	if err := store.Save(bookmarks.Bookmark{Name: "remote1", Type: "s3"}); err != nil {
		t.Fatalf("save bookmark: %v", err)
	}
	if err := store.SaveMountSlot("remote1", "default", bookmarks.MountSlot{RemotePath: "data"}); err != nil {
		t.Fatalf("save mount slot: %v", err)
	}

	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socket := filepath.Join(cfg.Paths.StateDir, "syncdock.sock")
	shutdownRequested := make(chan struct{}, 1)
	srv, err := ipc.NewServer(ctx, socket, d, logger, func() {
		shutdownRequested <- struct{}{}
	})
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if !status.CLIOnly {
		t.Fatal("expected CLI-only mode with rc disabled")
	}
	if len(status.Mounts) != 0 || len(status.Jobs) != 0 {
		t.Fatalf("expected empty orchestrator state, got %#v", status)
	}

	list, err := client.Bookmarks()
	if err != nil {
		t.Fatalf("Bookmarks RPC failed: %v", err)
	}
	if len(list.Bookmarks) != 1 || list.Bookmarks[0].Name != "remote1" {
		t.Fatalf("unexpected bookmarks: %#v", list.Bookmarks)
	}
	if len(list.Bookmarks[0].MountSlots) != 1 || list.Bookmarks[0].MountSlots[0].RemotePath != "data" {
		t.Fatalf("unexpected mount slots: %#v", list.Bookmarks[0].MountSlots)
	}

	// Mount needs the rc channel and must fail fast in CLI-only mode.
	if _, err := client.Mount("remote1", "default"); err == nil {
		t.Fatal("expected Mount to fail in CLI-only mode")
	}

	stopResp, err := client.SyncStop("remote1", "default")
	if err != nil {
		t.Fatalf("SyncStop RPC failed: %v", err)
	}
	if stopResp.Stopped {
		t.Fatal("no job was tracked, Stopped must be false")
	}

	histResp, err := client.History(10)
	if err != nil {
		t.Fatalf("History RPC failed: %v", err)
	}
	if len(histResp.Entries) != 0 {
		t.Fatalf("expected empty history, got %#v", histResp.Entries)
	}

	// A long-poll with a short wait and no events returns Changed=false.
	waitResp, err := client.WaitForChange(50)
	if err != nil {
		t.Fatalf("WaitForChange RPC failed: %v", err)
	}
	if waitResp.Changed {
		t.Fatal("no change was published")
	}

	shutdownResp, err := client.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown RPC failed: %v", err)
	}
	if !shutdownResp.Stopping {
		t.Fatal("expected Stopping=true")
	}
	select {
	case <-shutdownRequested:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestWaitForChangeFiresOnPublish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.RCEnabled = false
	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.StateDir, "syncdock.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatal(err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	done := make(chan *ipc.WaitForChangeResponse, 1)
	go func() {
		resp, err := client.WaitForChange(5000)
		if err != nil {
			t.Errorf("WaitForChange: %v", err)
			return
		}
		done <- resp
	}()

	// Give the long-poll time to subscribe, then trigger a change by
	// starting the daemon (Start publishes).
	time.Sleep(100 * time.Millisecond)
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case resp := <-done:
		if !resp.Changed {
			t.Fatal("expected Changed=true after publish")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("long-poll did not observe the change")
	}
}
