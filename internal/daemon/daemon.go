package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"syncdock/internal/bookmarks"
	"syncdock/internal/config"
	"syncdock/internal/history"
	"syncdock/internal/logging"
	"syncdock/internal/mounts"
	"syncdock/internal/notifications"
	"syncdock/internal/rcdaemon"
	"syncdock/internal/syncjobs"
	"syncdock/internal/transport"
)

// Daemon wires the supervised rc process, the request router, and the mount
// and sync orchestrators together, and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *bookmarks.Store
	supervisor *rcdaemon.Supervisor
	router     transport.Transport
	mounts     *mounts.Orchestrator
	syncs      *syncjobs.Supervisor
	bus        *notifications.Bus
	sink       notifications.Sink
	journal    *history.Store

	lock *flock.Flock

	running atomic.Bool
	cliOnly atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Status is the daemon-side snapshot served over IPC.
type Status struct {
	Running     bool
	CLIOnly     bool
	RCState     string
	RCEndpoint  string
	PID         int
	RCPID       int
	SocketPath  string
	LockPath    string
	HistoryPath string
	Mounts      []mounts.Info
	Jobs        []syncjobs.Status
}

// New constructs a daemon and all of its components from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := bookmarks.NewStore(cfg.Paths.BookmarksPath)
	if err != nil {
		return nil, fmt.Errorf("open bookmark store: %w", err)
	}
	journal, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open history journal: %w", err)
	}

	bus := notifications.NewBus()
	sink := notifications.NewSink(cfg)
	supervisor := rcdaemon.New(cfg, logger)

	requestTimeout := time.Duration(cfg.Daemon.RequestTimeoutSeconds) * time.Second
	rc := transport.NewRC(supervisor, requestTimeout)
	cli := transport.NewCLI(cfg.Daemon.Binary, cfg.Daemon.ConfigPath)
	router := transport.NewRouter(supervisor, rc, cli, logger)

	mountOrch := mounts.New(router, store, bus, sink, logger, cfg.Paths.ScratchDir,
		mounts.WithVerify(cfg.Mount.VerifyAttempts, time.Duration(cfg.Mount.VerifyDelayMillis)*time.Millisecond))
	syncSup := syncjobs.New(router, store, bus, sink, logger,
		syncjobs.WithIntervals(
			time.Duration(cfg.Sync.HealthCheckIntervalSeconds)*time.Second,
			time.Duration(cfg.Sync.JobPollIntervalSeconds)*time.Second,
			time.Duration(cfg.Sync.BootstrapTimeoutMinutes)*time.Minute),
		syncjobs.WithJournal(journal))

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		supervisor: supervisor,
		router:     router,
		mounts:     mountOrch,
		syncs:      syncSup,
		bus:        bus,
		sink:       sink,
		journal:    journal,
		lock:       flock.New(cfg.LockPath()),
	}
	supervisor.SetExitHandler(d.onProcessExit)
	return d, nil
}

// Start acquires the instance lock, launches the rc daemon, restores enabled
// mounts, and arms the sync health loop. A failed rc startup is not fatal:
// the daemon degrades to CLI-only mode where read-only endpoints keep
// working and mount or sync requests fail fast.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return errors.New("another syncdockd instance is already running")
	}
	if err := d.writePIDFile(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if d.cfg.Daemon.RCEnabled {
		if err := d.supervisor.Start(ctx); err != nil {
			d.logger.Error("rc daemon startup failed, continuing in CLI-only mode", logging.Error(err))
			d.sink.DaemonDown(ctx, err)
			d.cliOnly.Store(true)
		}
	} else {
		d.logger.Info("rc channel disabled by configuration, running CLI-only")
		d.cliOnly.Store(true)
	}

	d.running.Store(true)

	if !d.cliOnly.Load() {
		d.restoreMounts(ctx)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.syncs.Run(runCtx)
		}()
	}

	d.logger.Info("syncdockd started",
		logging.String("lock", d.cfg.LockPath()),
		logging.Bool("cli_only", d.cliOnly.Load()))
	d.bus.Publish()
	return nil
}

// restoreMounts remounts every slot whose persisted enabled flag is set.
// Failures are reported per slot and never abort startup.
func (d *Daemon) restoreMounts(ctx context.Context) {
	names, err := d.store.List()
	if err != nil {
		d.logger.Warn("restore sweep: list bookmarks", logging.Error(err))
		return
	}
	for _, name := range names {
		slots, err := d.store.MountSlots(name)
		if err != nil {
			d.logger.Warn("restore sweep: list mount slots",
				logging.String(logging.FieldBookmark, name),
				logging.Error(err))
			continue
		}
		for _, slot := range slots {
			record, err := d.store.MountSlot(name, slot)
			if err != nil {
				d.logger.Warn("restore sweep: load mount slot",
					logging.String(logging.FieldBookmark, name),
					logging.String(logging.FieldSlot, slot),
					logging.Error(err))
				continue
			}
			if !record.Enabled {
				continue
			}
			if err := d.mounts.Mount(ctx, name, slot); err != nil {
				d.logger.Warn("restore sweep: mount",
					logging.String(logging.FieldBookmark, name),
					logging.String(logging.FieldSlot, slot),
					logging.Error(err))
			}
		}
	}
}

// onProcessExit handles an unexpected rc daemon death: its mounts and jobs
// died with it, so the caches are cleared instead of unmounted.
func (d *Daemon) onProcessExit() {
	if !d.running.Load() {
		return
	}
	d.logger.Error("rc daemon exited unexpectedly, degrading to CLI-only mode")
	d.cliOnly.Store(true)
	d.mounts.Forget()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.sink.DaemonDown(ctx, errors.New("rc daemon process exited"))
	d.bus.Publish()
}

// Stop shuts everything down in dependency order: sync jobs first, then
// mounts, then the rc process itself.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()

	if d.supervisor.Ready() {
		d.syncs.Cleanup(ctx)
		d.mounts.UnmountAll(ctx)
	}
	if err := d.supervisor.Stop(ctx); err != nil {
		d.logger.Warn("stop rc daemon", logging.Error(err))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.removePIDFile()
	d.logger.Info("syncdockd stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.Stop(ctx)
	return d.journal.Close()
}

// Status returns the current runtime snapshot.
func (d *Daemon) Status(context.Context) Status {
	return Status{
		Running:     d.running.Load(),
		CLIOnly:     d.cliOnly.Load(),
		RCState:     d.supervisor.State().String(),
		RCEndpoint:  d.supervisor.Endpoint(),
		PID:         os.Getpid(),
		RCPID:       d.supervisor.PID(),
		SocketPath:  d.cfg.SocketPath(),
		LockPath:    d.cfg.LockPath(),
		HistoryPath: d.cfg.HistoryPath(),
		Mounts:      d.mounts.Active(),
		Jobs:        d.syncs.Active(),
	}
}

// Mount mounts a bookmark slot through the orchestrator.
func (d *Daemon) Mount(ctx context.Context, bookmark, slot string) (string, error) {
	if err := bookmarks.ValidateName(bookmark); err != nil {
		return "", err
	}
	if slot == "" {
		slot = bookmarks.DefaultSlot
	}
	if err := d.mounts.Mount(ctx, bookmark, slot); err != nil {
		return "", err
	}
	path, _ := d.mounts.Status(bookmark, slot)
	return path, nil
}

// Unmount unmounts a bookmark slot.
func (d *Daemon) Unmount(ctx context.Context, bookmark, slot string) error {
	if slot == "" {
		slot = bookmarks.DefaultSlot
	}
	return d.mounts.Unmount(ctx, bookmark, slot)
}

// SyncStart launches a sync run for a bookmark slot.
func (d *Daemon) SyncStart(ctx context.Context, bookmark, slot string) error {
	if err := bookmarks.ValidateName(bookmark); err != nil {
		return err
	}
	if slot == "" {
		slot = bookmarks.DefaultSlot
	}
	return d.syncs.Start(ctx, bookmark, slot)
}

// SyncStop stops the tracked sync job for a bookmark slot.
func (d *Daemon) SyncStop(ctx context.Context, bookmark, slot string) (bool, error) {
	if slot == "" {
		slot = bookmarks.DefaultSlot
	}
	return d.syncs.Stop(ctx, bookmark, slot)
}

// Bookmarks returns every stored bookmark with its slot records.
func (d *Daemon) Bookmarks(context.Context) ([]BookmarkDetail, error) {
	names, err := d.store.List()
	if err != nil {
		return nil, err
	}
	details := make([]BookmarkDetail, 0, len(names))
	for _, name := range names {
		bm, err := d.store.Get(name)
		if err != nil {
			return nil, err
		}
		mountNames, err := d.store.MountSlots(name)
		if err != nil {
			return nil, err
		}
		mountSlots := make(map[string]bookmarks.MountSlot, len(mountNames))
		for _, slot := range mountNames {
			record, err := d.store.MountSlot(name, slot)
			if err != nil {
				return nil, err
			}
			mountSlots[slot] = record
		}
		syncNames, err := d.store.SyncSlots(name)
		if err != nil {
			return nil, err
		}
		syncSlots := make(map[string]bookmarks.SyncSlot, len(syncNames))
		for _, slot := range syncNames {
			record, err := d.store.SyncSlot(name, slot)
			if err != nil {
				return nil, err
			}
			syncSlots[slot] = record
		}
		details = append(details, BookmarkDetail{
			Bookmark:   bm,
			MountSlots: mountSlots,
			SyncSlots:  syncSlots,
		})
	}
	return details, nil
}

// BookmarkDetail bundles a bookmark with its slot records.
type BookmarkDetail struct {
	Bookmark   bookmarks.Bookmark
	MountSlots map[string]bookmarks.MountSlot
	SyncSlots  map[string]bookmarks.SyncSlot
}

// History returns the most recent journal entries.
func (d *Daemon) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return d.journal.Recent(ctx, limit)
}

// Call proxies one raw endpoint call through the router. Read-only
// endpoints keep working in CLI-only mode.
func (d *Daemon) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	return d.router.Call(ctx, endpoint, params)
}

// Subscribe registers a change listener and returns its cancel func.
func (d *Daemon) Subscribe(fn func()) func() {
	return d.bus.Subscribe(fn)
}

func (d *Daemon) writePIDFile() error {
	path := d.cfg.PIDPath()
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file %s: %w", path, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() {
	if err := os.Remove(d.cfg.PIDPath()); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove pid file", logging.Error(err))
	}
}
