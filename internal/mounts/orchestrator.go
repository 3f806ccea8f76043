package mounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"syncdock/internal/bookmarks"
	"syncdock/internal/logging"
	"syncdock/internal/notifications"
	"syncdock/internal/transport"
)

// ErrMountInProgress indicates another caller is already mounting or
// unmounting the same slot.
var ErrMountInProgress = errors.New("mount operation already in progress for this slot")

// defaultOptions are merged under slot-specific options on every mount.
var defaultOptions = map[string]string{
	"vfs-cache-mode": "writes",
}

type key struct {
	bookmark string
	slot     string
}

// Info describes a live mount.
type Info struct {
	Bookmark   string
	Slot       string
	Path       string
	RemoteSpec string
	MountedAt  time.Time
}

// Orchestrator owns the active-mount cache and drives the daemon's mount
// endpoints. All mutation goes through its methods.
type Orchestrator struct {
	rt         transport.Transport
	store      *bookmarks.Store
	bus        *notifications.Bus
	sink       notifications.Sink
	logger     *slog.Logger
	scratchDir string

	verifyAttempts int
	verifyDelay    time.Duration

	mu      sync.Mutex
	active  map[key]Info
	pending map[key]struct{}
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithVerify overrides mount verification attempts and backoff delay.
func WithVerify(attempts int, delay time.Duration) Option {
	return func(o *Orchestrator) {
		if attempts > 0 {
			o.verifyAttempts = attempts
		}
		if delay >= 0 {
			o.verifyDelay = delay
		}
	}
}

// New constructs a mount orchestrator.
func New(rt transport.Transport, store *bookmarks.Store, bus *notifications.Bus, sink notifications.Sink, logger *slog.Logger, scratchDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rt:             rt,
		store:          store,
		bus:            bus,
		sink:           sink,
		logger:         logging.NewComponentLogger(logger, "mounts"),
		scratchDir:     scratchDir,
		verifyAttempts: 3,
		verifyDelay:    500 * time.Millisecond,
		active:         map[key]Info{},
		pending:        map[key]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the mount path for a slot, or false when not mounted.
// Pure cache read.
func (o *Orchestrator) Status(bookmark, slot string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	info, ok := o.active[key{bookmark, slot}]
	if !ok {
		return "", false
	}
	return info.Path, true
}

// Active returns all live mounts, sorted by bookmark then slot.
func (o *Orchestrator) Active() []Info {
	o.mu.Lock()
	defer o.mu.Unlock()
	infos := make([]Info, 0, len(o.active))
	for _, info := range o.active {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Bookmark != infos[j].Bookmark {
			return infos[i].Bookmark < infos[j].Bookmark
		}
		return infos[i].Slot < infos[j].Slot
	})
	return infos
}

// Mount mounts the slot. Already-mounted slots return success without a
// daemon call. The cache is only updated after the daemon confirms the
// mount, and the enabled flag is persisted afterwards.
func (o *Orchestrator) Mount(ctx context.Context, bookmark, slot string) error {
	k := key{bookmark, slot}

	o.mu.Lock()
	if _, ok := o.active[k]; ok {
		o.mu.Unlock()
		return nil
	}
	if _, ok := o.pending[k]; ok {
		o.mu.Unlock()
		return ErrMountInProgress
	}
	o.pending[k] = struct{}{}
	o.mu.Unlock()
	defer o.clearPending(k)

	err := o.mount(ctx, k)
	o.sink.MountResult(ctx, bookmark, slot, err)
	if err != nil {
		return err
	}

	if err := o.store.SetMountEnabled(bookmark, slot, true); err != nil {
		o.logger.Warn("persist mount enabled flag",
			logging.String(logging.FieldBookmark, bookmark),
			logging.String(logging.FieldSlot, slot),
			logging.Error(err))
	}
	o.bus.Publish()
	return nil
}

func (o *Orchestrator) mount(ctx context.Context, k key) error {
	slotRecord, err := o.store.MountSlot(k.bookmark, k.slot)
	if err != nil && !errors.Is(err, bookmarks.ErrNotFound) {
		return err
	}

	mountPoint := slotRecord.Path
	if mountPoint == "" {
		mountPoint = filepath.Join(o.scratchDir, k.bookmark, k.slot)
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("create mount point %s: %w", mountPoint, err)
	}

	remoteSpec := bookmarks.RemoteSpec(k.bookmark, slotRecord.RemotePath)
	params := map[string]any{
		"fs":         remoteSpec,
		"mountPoint": mountPoint,
		"mountOpt":   map[string]any{},
		"vfsOpt":     mergedOptions(slotRecord.Options),
	}

	var lastErr error
	for attempt := 1; attempt <= o.verifyAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(o.verifyDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := o.rt.Call(ctx, "mount/mount", params); err != nil {
			lastErr = err
			continue
		}

		mounted, err := o.verifyMounted(ctx, mountPoint)
		if err != nil {
			lastErr = err
			continue
		}
		if !mounted {
			lastErr = fmt.Errorf("mount %s did not appear in daemon mount list", mountPoint)
			// Drop whatever half-state the daemon holds before retrying.
			_, _ = o.rt.Call(ctx, "mount/unmount", map[string]any{"mountPoint": mountPoint})
			continue
		}

		o.mu.Lock()
		o.active[k] = Info{
			Bookmark:   k.bookmark,
			Slot:       k.slot,
			Path:       mountPoint,
			RemoteSpec: remoteSpec,
			MountedAt:  time.Now(),
		}
		o.mu.Unlock()
		o.logger.Info("mounted",
			logging.String(logging.FieldBookmark, k.bookmark),
			logging.String(logging.FieldSlot, k.slot),
			logging.String("path", mountPoint))
		return nil
	}
	return fmt.Errorf("mount %s/%s: %w", k.bookmark, k.slot, lastErr)
}

func (o *Orchestrator) verifyMounted(ctx context.Context, mountPoint string) (bool, error) {
	result, err := o.rt.Call(ctx, "mount/listmounts", nil)
	if err != nil {
		return false, err
	}
	points, _ := result["mountPoints"].([]any)
	for _, raw := range points {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if point, _ := entry["MountPoint"].(string); point == mountPoint {
			return true, nil
		}
	}
	return false, nil
}

// Unmount unmounts the slot. Never-mounted slots return success without a
// daemon call.
func (o *Orchestrator) Unmount(ctx context.Context, bookmark, slot string) error {
	k := key{bookmark, slot}

	o.mu.Lock()
	info, ok := o.active[k]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	if _, busy := o.pending[k]; busy {
		o.mu.Unlock()
		return ErrMountInProgress
	}
	o.pending[k] = struct{}{}
	o.mu.Unlock()
	defer o.clearPending(k)

	_, err := o.rt.Call(ctx, "mount/unmount", map[string]any{"mountPoint": info.Path})
	o.sink.UnmountResult(ctx, bookmark, slot, err)
	if err != nil {
		// Cache stays as-is: the daemon still holds the mount.
		return fmt.Errorf("unmount %s/%s: %w", bookmark, slot, err)
	}

	o.mu.Lock()
	delete(o.active, k)
	o.mu.Unlock()

	if err := o.store.SetMountEnabled(bookmark, slot, false); err != nil {
		o.logger.Warn("persist mount disabled flag",
			logging.String(logging.FieldBookmark, bookmark),
			logging.String(logging.FieldSlot, slot),
			logging.Error(err))
	}
	o.logger.Info("unmounted",
		logging.String(logging.FieldBookmark, bookmark),
		logging.String(logging.FieldSlot, slot),
		logging.String("path", info.Path))
	o.bus.Publish()
	return nil
}

// UnmountAll unmounts every live mount, best effort. Used on shutdown; the
// persisted enabled flags are left untouched so the startup sweep restores
// the same set.
func (o *Orchestrator) UnmountAll(ctx context.Context) {
	for _, info := range o.Active() {
		k := key{info.Bookmark, info.Slot}
		if _, err := o.rt.Call(ctx, "mount/unmount", map[string]any{"mountPoint": info.Path}); err != nil {
			o.logger.Warn("unmount on shutdown",
				logging.String(logging.FieldBookmark, info.Bookmark),
				logging.String(logging.FieldSlot, info.Slot),
				logging.Error(err))
		}
		o.mu.Lock()
		delete(o.active, k)
		o.mu.Unlock()
	}
	o.bus.Publish()
}

// Forget clears the active cache without daemon calls. Used when the daemon
// process dies underneath us and its mounts are gone anyway.
func (o *Orchestrator) Forget() {
	o.mu.Lock()
	o.active = map[key]Info{}
	o.mu.Unlock()
	o.bus.Publish()
}

func (o *Orchestrator) clearPending(k key) {
	o.mu.Lock()
	delete(o.pending, k)
	o.mu.Unlock()
}

func mergedOptions(slotOptions map[string]string) map[string]any {
	merged := make(map[string]any, len(defaultOptions)+len(slotOptions))
	for k, v := range defaultOptions {
		merged[k] = v
	}
	for k, v := range slotOptions {
		merged[k] = v
	}
	return merged
}
