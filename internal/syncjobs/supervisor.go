package syncjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncdock/internal/bookmarks"
	"syncdock/internal/history"
	"syncdock/internal/logging"
	"syncdock/internal/notifications"
	"syncdock/internal/rcclient"
	"syncdock/internal/transport"
)

var (
	// ErrAlreadyActive indicates a live sync job is already tracked for the slot.
	ErrAlreadyActive = errors.New("sync job already active for this slot")
	// ErrSlotNotConfigured indicates the bookmark has no sync slot record.
	ErrSlotNotConfigured = errors.New("sync slot not configured")
)

// Key identifies one tracked sync slot.
type Key struct {
	Bookmark string
	Slot     string
}

func (k Key) String() string {
	return k.Bookmark + "/" + k.Slot
}

// Status describes one tracked job for the frontend.
type Status struct {
	Bookmark   string
	Slot       string
	JobID      int64
	Mode       bookmarks.SyncMode
	StartedAt  time.Time
	Recovering bool
}

// Journal receives completed-operation records. Write failures are logged
// and otherwise ignored.
type Journal interface {
	Record(ctx context.Context, entry history.Entry) error
}

type jobEntry struct {
	id        int64
	mode      bookmarks.SyncMode
	group     string
	startedAt time.Time
	// recovering marks an entry whose job is being relaunched with a forced
	// resync; health ticks skip it until the relaunch settles.
	recovering bool
}

// Supervisor tracks at most one active daemon job per sync slot, runs the
// bootstrap protocol for fresh bidirectional slots, and re-arms finished
// jobs from its health loop.
type Supervisor struct {
	rt      transport.Transport
	store   *bookmarks.Store
	bus     *notifications.Bus
	sink    notifications.Sink
	journal Journal
	logger  *slog.Logger

	healthInterval   time.Duration
	pollInterval     time.Duration
	bootstrapTimeout time.Duration

	mu      sync.Mutex
	jobs    map[Key]*jobEntry
	pending map[Key]struct{}

	wg sync.WaitGroup
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithIntervals overrides the health tick, job poll, and bootstrap timeout.
func WithIntervals(health, poll, bootstrap time.Duration) Option {
	return func(s *Supervisor) {
		if health > 0 {
			s.healthInterval = health
		}
		if poll > 0 {
			s.pollInterval = poll
		}
		if bootstrap > 0 {
			s.bootstrapTimeout = bootstrap
		}
	}
}

// WithJournal attaches a history journal.
func WithJournal(journal Journal) Option {
	return func(s *Supervisor) {
		s.journal = journal
	}
}

// New constructs a sync job supervisor.
func New(rt transport.Transport, store *bookmarks.Store, bus *notifications.Bus, sink notifications.Sink, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		rt:               rt,
		store:            store,
		bus:              bus,
		sink:             sink,
		logger:           logging.NewComponentLogger(logger, "syncjobs"),
		healthInterval:   30 * time.Second,
		pollInterval:     time.Second,
		bootstrapTimeout: time.Hour,
		jobs:             map[Key]*jobEntry{},
		pending:          map[Key]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns all tracked jobs, in map order.
func (s *Supervisor) Active() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]Status, 0, len(s.jobs))
	for k, entry := range s.jobs {
		statuses = append(statuses, Status{
			Bookmark:   k.Bookmark,
			Slot:       k.Slot,
			JobID:      entry.id,
			Mode:       entry.mode,
			StartedAt:  entry.startedAt,
			Recovering: entry.recovering,
		})
	}
	return statuses
}

// Tracked reports whether a live job is tracked for the slot.
func (s *Supervisor) Tracked(bookmark, slot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[Key{bookmark, slot}]
	return ok
}

// Start launches a sync run for the slot. Fresh bidirectional slots go
// through the bootstrap protocol first: conservative remote-to-local copy,
// forced resync, then the steady job. The initialized latch is only flipped
// after both bootstrap phases finished clean.
func (s *Supervisor) Start(ctx context.Context, bookmark, slot string) error {
	k := Key{bookmark, slot}

	record, err := s.store.SyncSlot(bookmark, slot)
	if err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSlotNotConfigured, k)
		}
		return err
	}
	if err := validateSlot(record); err != nil {
		return fmt.Errorf("sync slot %s: %w", k, err)
	}

	s.mu.Lock()
	if _, busy := s.pending[k]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, k)
	}
	var (
		trackedID  int64
		hasTracked bool
	)
	if entry, ok := s.jobs[k]; ok {
		trackedID, hasTracked = entry.id, true
	}
	s.pending[k] = struct{}{}
	s.mu.Unlock()
	defer s.clearPending(k)

	// A tracked entry may be stale if the daemon finished the job between
	// health ticks. Confirm before rejecting.
	if hasTracked {
		finished, err := s.jobFinished(ctx, trackedID)
		if err != nil {
			return err
		}
		if !finished {
			return fmt.Errorf("%w: %s (job %d)", ErrAlreadyActive, k, trackedID)
		}
		s.clearJob(k, trackedID)
	}

	if err := s.launch(ctx, k, record); err != nil {
		return err
	}

	s.sink.SyncStarted(ctx, bookmark, slot)
	s.bus.Publish()
	return nil
}

func (s *Supervisor) launch(ctx context.Context, k Key, record bookmarks.SyncSlot) error {
	remoteSpec := bookmarks.RemoteSpec(k.Bookmark, record.RemotePath)

	switch record.Mode {
	case bookmarks.SyncOneShot:
		id, group, err := s.startCopy(ctx, record, remoteSpec)
		if err != nil {
			return fmt.Errorf("start copy %s: %w", k, err)
		}
		s.track(k, record.Mode, id, group)
		return nil

	case bookmarks.SyncBidirectional:
		if !record.Initialized {
			if err := s.bootstrap(ctx, k, record, remoteSpec); err != nil {
				return fmt.Errorf("bootstrap %s: %w", k, err)
			}
			if err := s.store.SetSyncInitialized(k.Bookmark, k.Slot); err != nil {
				return fmt.Errorf("persist initialized flag %s: %w", k, err)
			}
		}
		id, group, err := s.startBisync(ctx, record, remoteSpec, false)
		if err != nil {
			return fmt.Errorf("start bisync %s: %w", k, err)
		}
		s.track(k, record.Mode, id, group)
		return nil

	default:
		return fmt.Errorf("sync slot %s: unknown mode %q", k, record.Mode)
	}
}

// bootstrap seeds a fresh local replica before the first bidirectional run:
// a conservative copy that never deletes or overwrites local files, then a
// forced resync to establish the bisync listing baseline. Both phases are
// waited on synchronously.
func (s *Supervisor) bootstrap(ctx context.Context, k Key, record bookmarks.SyncSlot, remoteSpec string) error {
	s.logger.Info("bootstrap started",
		logging.String(logging.FieldBookmark, k.Bookmark),
		logging.String(logging.FieldSlot, k.Slot))

	copyID, _, err := s.startJob(ctx, "sync/copy", map[string]any{
		"srcFs":              remoteSpec,
		"dstFs":              record.LocalPath,
		"createEmptySrcDirs": true,
		"_config": map[string]any{
			"IgnoreExisting": true,
			"TrackRenames":   true,
		},
	})
	if err != nil {
		return fmt.Errorf("seed copy: %w", err)
	}
	if err := s.waitForJob(ctx, copyID, s.bootstrapTimeout); err != nil {
		return fmt.Errorf("seed copy (job %d): %w", copyID, err)
	}

	resyncID, _, err := s.startBisync(ctx, record, remoteSpec, true)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	if err := s.waitForJob(ctx, resyncID, s.bootstrapTimeout); err != nil {
		return fmt.Errorf("resync (job %d): %w", resyncID, err)
	}

	s.logger.Info("bootstrap finished",
		logging.String(logging.FieldBookmark, k.Bookmark),
		logging.String(logging.FieldSlot, k.Slot))
	return nil
}

func (s *Supervisor) startCopy(ctx context.Context, record bookmarks.SyncSlot, remoteSpec string) (int64, string, error) {
	src, dst := record.LocalPath, remoteSpec
	if record.Direction == bookmarks.DirectionDownload {
		src, dst = remoteSpec, record.LocalPath
	}
	return s.startJob(ctx, "sync/copy", map[string]any{
		"srcFs":              src,
		"dstFs":              dst,
		"createEmptySrcDirs": true,
		"_config":            runConfig(record),
	})
}

func (s *Supervisor) startBisync(ctx context.Context, record bookmarks.SyncSlot, remoteSpec string, resync bool) (int64, string, error) {
	params := map[string]any{
		"path1":                 remoteSpec,
		"path2":                 record.LocalPath,
		"force":                 true,
		"createEmptySrcDirs":    true,
		"resilient":             true,
		"ignoreListingChecksum": true,
		"conflictResolve":       "newer",
		"_config":               runConfig(record),
	}
	if resync {
		params["resync"] = true
	}
	if record.MaxDelete > 0 {
		params["maxDelete"] = record.MaxDelete
	}
	return s.startJob(ctx, "sync/bisync", params)
}

// runConfig is the per-job _config block. Comparison uses modification time
// and size with a two second window so FAT-backed remotes do not flap, and
// case differences never count as changes.
func runConfig(record bookmarks.SyncSlot) map[string]any {
	transfers := record.Transfers
	if transfers <= 0 {
		transfers = 1
	}
	cfg := map[string]any{
		"Transfers":      transfers,
		"Timeout":        "30s",
		"ModifyWindow":   "2s",
		"IgnoreCaseSync": true,
	}
	if record.Checkers > 0 {
		cfg["Checkers"] = record.Checkers
	}
	return cfg
}

// startJob submits an async job and returns its daemon-side id.
func (s *Supervisor) startJob(ctx context.Context, endpoint string, params map[string]any) (int64, string, error) {
	group := "syncdock/" + uuid.NewString()
	params["_async"] = true
	params["_group"] = group

	result, err := s.rt.Call(ctx, endpoint, params)
	if err != nil {
		return 0, "", err
	}
	id, ok := jobID(result)
	if !ok {
		return 0, "", fmt.Errorf("%s returned no job id", endpoint)
	}
	return id, group, nil
}

// waitForJob polls job/status until the job finishes, the timeout lapses, or
// ctx is canceled. A finished job with an error message fails the wait.
func (s *Supervisor) waitForJob(ctx context.Context, id int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		result, err := s.rt.Call(ctx, "job/status", map[string]any{"jobid": id})
		if err != nil {
			return err
		}
		if finished, _ := result["finished"].(bool); finished {
			if message, _ := result["error"].(string); message != "" {
				return errors.New(message)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("job %d did not finish within %s", id, timeout)
		}
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) jobFinished(ctx context.Context, id int64) (bool, error) {
	result, err := s.rt.Call(ctx, "job/status", map[string]any{"jobid": id})
	if err != nil {
		if rcclient.IsJobNotFound(err) {
			return true, nil
		}
		return false, err
	}
	finished, _ := result["finished"].(bool)
	return finished, nil
}

// Stop stops the tracked job for the slot. The boolean reports whether a job
// was tracked; stopping an unknown slot is a no-op that never reaches the
// daemon. The entry is cleared even when job/stop fails, since the caller
// asked for the slot to be idle.
func (s *Supervisor) Stop(ctx context.Context, bookmark, slot string) (bool, error) {
	k := Key{bookmark, slot}

	s.mu.Lock()
	entry, ok := s.jobs[k]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	id := entry.id
	delete(s.jobs, k)
	s.mu.Unlock()

	_, err := s.rt.Call(ctx, "job/stop", map[string]any{"jobid": id})
	if err != nil && !rcclient.IsJobNotFound(err) {
		s.bus.Publish()
		return true, fmt.Errorf("stop job %d for %s: %w", id, k, err)
	}

	s.sink.SyncStopped(ctx, bookmark, slot)
	s.bus.Publish()
	return true, nil
}

// Cleanup stops every tracked job concurrently, ignoring individual
// failures, and waits for in-flight recovery relaunches to settle.
func (s *Supervisor) Cleanup(ctx context.Context) {
	s.mu.Lock()
	entries := make(map[Key]int64, len(s.jobs))
	for k, entry := range s.jobs {
		entries[k] = entry.id
	}
	s.jobs = map[Key]*jobEntry{}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for k, id := range entries {
		wg.Add(1)
		go func(k Key, id int64) {
			defer wg.Done()
			if _, err := s.rt.Call(ctx, "job/stop", map[string]any{"jobid": id}); err != nil && !rcclient.IsJobNotFound(err) {
				s.logger.Warn("stop job on shutdown",
					logging.String(logging.FieldBookmark, k.Bookmark),
					logging.String(logging.FieldSlot, k.Slot),
					logging.Int64(logging.FieldJobID, id),
					logging.Error(err))
			}
		}(k, id)
	}
	wg.Wait()
	s.wg.Wait()
	if len(entries) > 0 {
		s.bus.Publish()
	}
}

func (s *Supervisor) track(k Key, mode bookmarks.SyncMode, id int64, group string) {
	s.mu.Lock()
	s.jobs[k] = &jobEntry{id: id, mode: mode, group: group, startedAt: time.Now()}
	s.mu.Unlock()
}

// clearJob removes the entry only if it still tracks the given job id.
func (s *Supervisor) clearJob(k Key, id int64) {
	s.mu.Lock()
	if entry, ok := s.jobs[k]; ok && entry.id == id {
		delete(s.jobs, k)
	}
	s.mu.Unlock()
}

func (s *Supervisor) clearPending(k Key) {
	s.mu.Lock()
	delete(s.pending, k)
	s.mu.Unlock()
}

func validateSlot(record bookmarks.SyncSlot) error {
	if strings.TrimSpace(record.LocalPath) == "" {
		return errors.New("local path must be set")
	}
	if strings.TrimSpace(record.RemotePath) == "" {
		return errors.New("remote path must be set")
	}
	switch record.Mode {
	case bookmarks.SyncBidirectional:
	case bookmarks.SyncOneShot:
		if record.Direction != bookmarks.DirectionUpload && record.Direction != bookmarks.DirectionDownload {
			return fmt.Errorf("one-shot slot needs direction %q or %q", bookmarks.DirectionUpload, bookmarks.DirectionDownload)
		}
	default:
		return fmt.Errorf("unknown mode %q", record.Mode)
	}
	return nil
}

func jobID(result map[string]any) (int64, bool) {
	switch v := result["jobid"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
