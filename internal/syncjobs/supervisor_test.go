package syncjobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"syncdock/internal/bookmarks"
	"syncdock/internal/history"
	"syncdock/internal/logging"
	"syncdock/internal/notifications"
	"syncdock/internal/rcclient"
	"syncdock/internal/syncjobs"
	"syncdock/internal/testsupport"
)

// launch records one async job submission.
type launch struct {
	endpoint string
	id       int64
	params   map[string]any
}

// fakeDaemon emulates the daemon's async job machinery on top of the
// scripted transport: every sync/copy and sync/bisync submission allocates
// a job id, and job/status answers from an overridable result table. Jobs
// finish clean unless a test says otherwise.
type fakeDaemon struct {
	mu       sync.Mutex
	nextID   int64
	launches []launch
	statuses map[int64]map[string]any
	statErrs map[int64]error
}

func newFakeDaemon(rt *testsupport.FakeTransport) *fakeDaemon {
	d := &fakeDaemon{
		statuses: map[int64]map[string]any{},
		statErrs: map[int64]error{},
	}
	submit := func(endpoint string) func(map[string]any) (map[string]any, error) {
		return func(params map[string]any) (map[string]any, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.nextID++
			d.launches = append(d.launches, launch{endpoint: endpoint, id: d.nextID, params: params})
			return map[string]any{"jobid": float64(d.nextID)}, nil
		}
	}
	rt.Handle("sync/copy", submit("sync/copy"))
	rt.Handle("sync/bisync", submit("sync/bisync"))
	rt.Handle("job/status", func(params map[string]any) (map[string]any, error) {
		id, _ := params["jobid"].(int64)
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.statErrs[id]; err != nil {
			return nil, err
		}
		if status, ok := d.statuses[id]; ok {
			return status, nil
		}
		return map[string]any{"finished": true, "error": ""}, nil
	})
	return d
}

func (d *fakeDaemon) setStatus(id int64, finished bool, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = map[string]any{"finished": finished, "error": message}
}

func (d *fakeDaemon) setStatusError(id int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statErrs[id] = err
}

func (d *fakeDaemon) launched(endpoint string) []launch {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []launch
	for _, l := range d.launches {
		if l.endpoint == endpoint {
			matched = append(matched, l)
		}
	}
	return matched
}

// recordingSink counts sink callbacks.
type recordingSink struct {
	mu      sync.Mutex
	started int
	stopped int
	failed  int
	lastErr error
}

func (r *recordingSink) MountResult(context.Context, string, string, error)   {}
func (r *recordingSink) UnmountResult(context.Context, string, string, error) {}
func (r *recordingSink) SyncStarted(context.Context, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}
func (r *recordingSink) SyncStopped(context.Context, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}
func (r *recordingSink) SyncFailed(_ context.Context, _, _ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.lastErr = err
}
func (r *recordingSink) DaemonDown(context.Context, error) {}

func (r *recordingSink) counts() (started, stopped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.stopped, r.failed
}

// memoryJournal collects history entries in memory.
type memoryJournal struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryJournal) Record(_ context.Context, entry history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryJournal) all() []history.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Entry(nil), m.entries...)
}

type fixture struct {
	rt      *testsupport.FakeTransport
	daemon  *fakeDaemon
	store   *bookmarks.Store
	sink    *recordingSink
	journal *memoryJournal
	sup     *syncjobs.Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rt := testsupport.NewFakeTransport()
	store := testsupport.NewBookmarkStore(t, cfg)
	sink := &recordingSink{}
	journal := &memoryJournal{}
	sup := syncjobs.New(rt, store, notifications.NewBus(), sink, logging.NewNop(),
		syncjobs.WithIntervals(time.Minute, time.Millisecond, 5*time.Second),
		syncjobs.WithJournal(journal))
	return &fixture{
		rt:      rt,
		daemon:  newFakeDaemon(rt),
		store:   store,
		sink:    sink,
		journal: journal,
		sup:     sup,
	}
}

func (f *fixture) saveSlot(t *testing.T, bookmark, slot string, record bookmarks.SyncSlot) {
	t.Helper()
	if err := f.store.SaveSyncSlot(bookmark, slot, record); err != nil {
		t.Fatalf("save sync slot: %v", err)
	}
}

func bidirSlot(localPath string, initialized bool) bookmarks.SyncSlot {
	return bookmarks.SyncSlot{
		LocalPath:   localPath,
		RemotePath:  "work",
		Mode:        bookmarks.SyncBidirectional,
		Initialized: initialized,
	}
}

func trackedJobID(t *testing.T, sup *syncjobs.Supervisor) int64 {
	t.Helper()
	active := sup.Active()
	if len(active) != 1 {
		t.Fatalf("active jobs = %d, want 1", len(active))
	}
	return active[0].JobID
}

func TestStartRunsBootstrapSequence(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), false))

	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	copies := f.daemon.launched("sync/copy")
	if len(copies) != 1 {
		t.Fatalf("seed copies = %d, want 1", len(copies))
	}
	if copies[0].params["srcFs"] != "remote1:work" {
		t.Errorf("seed copy srcFs = %v", copies[0].params["srcFs"])
	}
	cfgBlock, _ := copies[0].params["_config"].(map[string]any)
	if cfgBlock["IgnoreExisting"] != true {
		t.Errorf("seed copy must never overwrite local files: %v", cfgBlock)
	}

	bisyncs := f.daemon.launched("sync/bisync")
	if len(bisyncs) != 2 {
		t.Fatalf("bisync launches = %d, want 2 (resync then steady)", len(bisyncs))
	}
	if bisyncs[0].params["resync"] != true {
		t.Error("first bisync must carry the resync flag")
	}
	if _, ok := bisyncs[1].params["resync"]; ok {
		t.Error("steady bisync must not carry the resync flag")
	}
	if bisyncs[0].id >= bisyncs[1].id || copies[0].id >= bisyncs[0].id {
		t.Error("bootstrap phases launched out of order")
	}

	record, err := f.store.SyncSlot("remote1", "work")
	if err != nil {
		t.Fatal(err)
	}
	if !record.Initialized {
		t.Error("initialized latch not persisted")
	}
	if got := trackedJobID(t, f.sup); got != bisyncs[1].id {
		t.Errorf("tracked job = %d, want steady job %d", got, bisyncs[1].id)
	}
}

func TestStartInitializedSkipsBootstrap(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))

	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if copies := f.daemon.launched("sync/copy"); len(copies) != 0 {
		t.Errorf("initialized slot must not seed copy, got %d", len(copies))
	}
	bisyncs := f.daemon.launched("sync/bisync")
	if len(bisyncs) != 1 {
		t.Fatalf("bisync launches = %d, want 1", len(bisyncs))
	}
	if _, ok := bisyncs[0].params["resync"]; ok {
		t.Error("steady bisync must not carry the resync flag")
	}
	if bisyncs[0].params["path1"] != "remote1:work" {
		t.Errorf("path1 = %v", bisyncs[0].params["path1"])
	}
}

func TestStartBootstrapFailureLeavesLatchDown(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), false))
	// The seed copy is job 1; make it fail.
	f.daemon.setStatus(1, true, "directory not found")

	err := f.sup.Start(context.Background(), "remote1", "work")
	if err == nil {
		t.Fatal("expected bootstrap failure")
	}

	record, lookupErr := f.store.SyncSlot("remote1", "work")
	if lookupErr != nil {
		t.Fatal(lookupErr)
	}
	if record.Initialized {
		t.Error("failed bootstrap must not flip the initialized latch")
	}
	if f.sup.Tracked("remote1", "work") {
		t.Error("failed bootstrap must not leave a tracked job")
	}
	if len(f.daemon.launched("sync/bisync")) != 0 {
		t.Error("resync must not run after a failed seed copy")
	}
}

func TestStartOneShotDirections(t *testing.T) {
	tests := []struct {
		direction bookmarks.SyncDirection
		srcLocal  bool
	}{
		{bookmarks.DirectionUpload, true},
		{bookmarks.DirectionDownload, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.direction), func(t *testing.T) {
			f := newFixture(t)
			local := t.TempDir()
			f.saveSlot(t, "remote1", "oneoff", bookmarks.SyncSlot{
				LocalPath:  local,
				RemotePath: "backup",
				Mode:       bookmarks.SyncOneShot,
				Direction:  tt.direction,
			})

			if err := f.sup.Start(context.Background(), "remote1", "oneoff"); err != nil {
				t.Fatalf("Start: %v", err)
			}

			copies := f.daemon.launched("sync/copy")
			if len(copies) != 1 {
				t.Fatalf("copies = %d", len(copies))
			}
			src, dst := copies[0].params["srcFs"], copies[0].params["dstFs"]
			if tt.srcLocal && (src != local || dst != "remote1:backup") {
				t.Errorf("upload copied %v -> %v", src, dst)
			}
			if !tt.srcLocal && (src != "remote1:backup" || dst != local) {
				t.Errorf("download copied %v -> %v", src, dst)
			}
			if !f.sup.Tracked("remote1", "oneoff") {
				t.Error("one-shot job not tracked")
			}
		})
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)

	if err := f.sup.Start(context.Background(), "remote1", "missing"); !errors.Is(err, syncjobs.ErrSlotNotConfigured) {
		t.Errorf("missing slot: %v", err)
	}

	f.saveSlot(t, "remote1", "nopath", bookmarks.SyncSlot{Mode: bookmarks.SyncBidirectional})
	if err := f.sup.Start(context.Background(), "remote1", "nopath"); err == nil {
		t.Error("expected error for empty local path")
	}

	f.saveSlot(t, "remote1", "noremote", bookmarks.SyncSlot{
		LocalPath: t.TempDir(),
		Mode:      bookmarks.SyncBidirectional,
	})
	if err := f.sup.Start(context.Background(), "remote1", "noremote"); err == nil {
		t.Error("expected error for empty remote path")
	}

	f.saveSlot(t, "remote1", "nodir", bookmarks.SyncSlot{
		LocalPath:  t.TempDir(),
		RemotePath: "backup",
		Mode:       bookmarks.SyncOneShot,
	})
	if err := f.sup.Start(context.Background(), "remote1", "nodir"); err == nil {
		t.Error("expected error for one-shot slot without direction")
	}
	if calls := f.rt.Calls(); len(calls) != 0 {
		t.Errorf("validation failures must not reach the daemon, got %v", calls)
	}
}

func TestStartRejectsLiveJob(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	f.daemon.setStatus(trackedJobID(t, f.sup), false, "")

	err := f.sup.Start(context.Background(), "remote1", "work")
	if !errors.Is(err, syncjobs.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if got := len(f.daemon.launched("sync/bisync")); got != 1 {
		t.Errorf("second start must not launch, launches = %d", got)
	}
}

func TestStartClearsStaleTrackedEntry(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	first := trackedJobID(t, f.sup)
	// Default status is finished clean, so the entry is stale.

	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatalf("restart over stale entry: %v", err)
	}
	if got := trackedJobID(t, f.sup); got == first {
		t.Error("stale entry not replaced by a fresh job")
	}
}

func TestCheckRelaunchesFinishedBidirectional(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	first := trackedJobID(t, f.sup)

	f.sup.Check(context.Background())

	second := trackedJobID(t, f.sup)
	if second == first {
		t.Error("finished bidirectional job not relaunched")
	}
	bisyncs := f.daemon.launched("sync/bisync")
	if _, ok := bisyncs[len(bisyncs)-1].params["resync"]; ok {
		t.Error("relaunch after clean finish must be a steady run")
	}
	entries := f.journal.all()
	if len(entries) != 1 || entries[0].Outcome != history.OutcomeSuccess {
		t.Errorf("journal entries = %+v", entries)
	}
}

func TestCheckClearsFinishedOneShot(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "oneoff", bookmarks.SyncSlot{
		LocalPath:  t.TempDir(),
		RemotePath: "backup",
		Mode:       bookmarks.SyncOneShot,
		Direction:  bookmarks.DirectionUpload,
	})
	if err := f.sup.Start(context.Background(), "remote1", "oneoff"); err != nil {
		t.Fatal(err)
	}

	f.sup.Check(context.Background())

	if f.sup.Tracked("remote1", "oneoff") {
		t.Error("finished one-shot job must be cleared")
	}
	if _, stopped, failed := f.sink.counts(); stopped != 1 || failed != 0 {
		t.Errorf("stopped = %d, failed = %d", stopped, failed)
	}
}

func TestCheckJobNotFoundClearsSilently(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	f.daemon.setStatusError(trackedJobID(t, f.sup), &rcclient.Error{
		Kind:     rcclient.KindDaemon,
		Endpoint: "job/status",
		Message:  "job not found",
	})

	f.sup.Check(context.Background())

	if f.sup.Tracked("remote1", "work") {
		t.Error("forgotten job must be cleared")
	}
	if _, _, failed := f.sink.counts(); failed != 0 {
		t.Error("job-not-found must not report a failure")
	}
	if len(f.daemon.launched("sync/bisync")) != 1 {
		t.Error("job-not-found must not relaunch")
	}
}

func TestCheckTransportErrorKeepsEntry(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	id := trackedJobID(t, f.sup)
	f.daemon.setStatusError(id, &rcclient.Error{
		Kind:     rcclient.KindTransport,
		Endpoint: "job/status",
		Err:      errors.New("connection refused"),
	})

	f.sup.Check(context.Background())

	if got := trackedJobID(t, f.sup); got != id {
		t.Error("entry must survive a transient status failure")
	}
}

func TestCheckFailureReportsAndClears(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	f.daemon.setStatus(trackedJobID(t, f.sup), true, "permission denied")

	f.sup.Check(context.Background())

	if f.sup.Tracked("remote1", "work") {
		t.Error("failed job must be cleared")
	}
	if _, _, failed := f.sink.counts(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if len(f.daemon.launched("sync/bisync")) != 1 {
		t.Error("hard failure must not relaunch")
	}
	entries := f.journal.all()
	if len(entries) != 1 || entries[0].Outcome != history.OutcomeFailure || entries[0].Detail != "permission denied" {
		t.Errorf("journal entries = %+v", entries)
	}
}

func TestCheckAbortSignatureTriggersResync(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	first := trackedJobID(t, f.sup)
	f.daemon.setStatus(first, true, "Bisync aborted. Too many deletes. Must run --resync to recover.")

	f.sup.Check(context.Background())

	// Recovery runs in the background; wait for the tracked id to move on.
	deadline := time.Now().Add(2 * time.Second)
	for {
		active := f.sup.Active()
		if len(active) == 1 && active[0].JobID != first && !active[0].Recovering {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recovery did not settle, active = %+v", active)
		}
		time.Sleep(time.Millisecond)
	}

	bisyncs := f.daemon.launched("sync/bisync")
	if len(bisyncs) != 3 {
		t.Fatalf("bisync launches = %d, want steady + resync + steady", len(bisyncs))
	}
	if bisyncs[1].params["resync"] != true {
		t.Error("recovery must start with a forced resync")
	}
	if _, ok := bisyncs[2].params["resync"]; ok {
		t.Error("recovered steady run must not carry the resync flag")
	}
	if _, _, failed := f.sink.counts(); failed != 0 {
		t.Error("safety abort is self-healing and must not reach the sink")
	}
	entries := f.journal.all()
	if len(entries) != 1 || entries[0].Outcome != history.OutcomeAborted {
		t.Errorf("journal entries = %+v", entries)
	}
}

func TestStopUnknownSlot(t *testing.T) {
	f := newFixture(t)

	stopped, err := f.sup.Stop(context.Background(), "remote1", "work")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped {
		t.Error("unknown slot reported as stopped")
	}
	if calls := f.rt.Calls(); len(calls) != 0 {
		t.Errorf("unknown slot must not reach the daemon, got %v", calls)
	}
}

func TestStopTrackedJob(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	id := trackedJobID(t, f.sup)

	stopped, err := f.sup.Stop(context.Background(), "remote1", "work")
	if err != nil || !stopped {
		t.Fatalf("Stop = (%v, %v)", stopped, err)
	}
	stops := f.rt.CallsTo("job/stop")
	if len(stops) != 1 || stops[0].Params["jobid"] != id {
		t.Errorf("job/stop calls = %+v", stops)
	}
	if f.sup.Tracked("remote1", "work") {
		t.Error("stopped slot still tracked")
	}
	if _, stopCount, _ := f.sink.counts(); stopCount != 1 {
		t.Errorf("sink stopped = %d", stopCount)
	}
}

func TestStopJobNotFoundCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	if err := f.sup.Start(context.Background(), "remote1", "work"); err != nil {
		t.Fatal(err)
	}
	f.rt.Handle("job/stop", func(map[string]any) (map[string]any, error) {
		return nil, &rcclient.Error{Kind: rcclient.KindDaemon, Message: "job not found"}
	})

	stopped, err := f.sup.Stop(context.Background(), "remote1", "work")
	if err != nil || !stopped {
		t.Fatalf("Stop = (%v, %v)", stopped, err)
	}
	if f.sup.Tracked("remote1", "work") {
		t.Error("slot still tracked after job-not-found stop")
	}
}

func TestCleanupStopsEverything(t *testing.T) {
	f := newFixture(t)
	f.saveSlot(t, "remote1", "work", bidirSlot(t.TempDir(), true))
	f.saveSlot(t, "remote2", "work", bidirSlot(t.TempDir(), true))
	if err := f.store.Save(bookmarks.Bookmark{Name: "remote2", Type: "s3"}); err != nil {
		t.Fatal(err)
	}
	for _, bookmark := range []string{"remote1", "remote2"} {
		if err := f.sup.Start(context.Background(), bookmark, "work"); err != nil {
			t.Fatalf("start %s: %v", bookmark, err)
		}
	}

	f.sup.Cleanup(context.Background())

	if stops := f.rt.CallsTo("job/stop"); len(stops) != 2 {
		t.Errorf("job/stop calls = %d, want 2", len(stops))
	}
	if len(f.sup.Active()) != 0 {
		t.Error("cleanup left tracked jobs")
	}
}
