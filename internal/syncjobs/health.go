package syncjobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"syncdock/internal/bookmarks"
	"syncdock/internal/history"
	"syncdock/internal/logging"
	"syncdock/internal/rcclient"
)

// abortSignatures identify the daemon's bisync safety aborts. These runs
// left the listing baseline invalid; the fix is a forced resync, not an
// error surfaced to the user.
var abortSignatures = []string{
	"too many deletes",
	"safety abort",
	"must run --resync",
}

func isAbortSignature(message string) bool {
	lower := strings.ToLower(message)
	for _, signature := range abortSignatures {
		if strings.Contains(lower, signature) {
			return true
		}
	}
	return false
}

// Run drives the health loop until ctx is canceled. One tick never stalls
// on a single bad slot.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check inspects every tracked job once and re-arms or clears finished ones.
func (s *Supervisor) Check(ctx context.Context) {
	s.mu.Lock()
	snapshot := make(map[Key]jobEntry, len(s.jobs))
	for k, entry := range s.jobs {
		if entry.recovering {
			continue
		}
		snapshot[k] = *entry
	}
	s.mu.Unlock()

	for k, entry := range snapshot {
		s.checkOne(ctx, k, entry)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, k Key, entry jobEntry) {
	result, err := s.rt.Call(ctx, "job/status", map[string]any{"jobid": entry.id})
	if err != nil {
		if rcclient.IsJobNotFound(err) {
			// The daemon already forgot the job, typically after a restart.
			// Nothing to report; the slot is simply idle again.
			s.clearJob(k, entry.id)
			s.bus.Publish()
			return
		}
		s.logger.Warn("job status check",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Int64(logging.FieldJobID, entry.id),
			logging.Error(err))
		return
	}

	if finished, _ := result["finished"].(bool); !finished {
		return
	}
	message, _ := result["error"].(string)

	switch {
	case message == "":
		s.finishedClean(ctx, k, entry)
	case isAbortSignature(message):
		s.logger.Warn("sync run aborted, scheduling resync",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Int64(logging.FieldJobID, entry.id),
			logging.String("detail", message))
		s.record(ctx, k, entry, history.OutcomeAborted, message)
		s.recover(ctx, k, entry)
	default:
		s.logger.Error("sync run failed",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Int64(logging.FieldJobID, entry.id),
			logging.String("detail", message))
		s.record(ctx, k, entry, history.OutcomeFailure, message)
		s.sink.SyncFailed(ctx, k.Bookmark, k.Slot, errors.New(message))
		s.clearJob(k, entry.id)
		s.bus.Publish()
	}
}

func (s *Supervisor) finishedClean(ctx context.Context, k Key, entry jobEntry) {
	s.record(ctx, k, entry, history.OutcomeSuccess, "")

	if entry.mode != bookmarks.SyncBidirectional {
		s.sink.SyncStopped(ctx, k.Bookmark, k.Slot)
		s.clearJob(k, entry.id)
		s.bus.Publish()
		return
	}

	// Bidirectional slots stay armed: replace the finished job with a fresh
	// steady run.
	record, err := s.store.SyncSlot(k.Bookmark, k.Slot)
	if err != nil {
		s.logger.Warn("relaunch lookup",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Error(err))
		s.clearJob(k, entry.id)
		s.bus.Publish()
		return
	}
	remoteSpec := bookmarks.RemoteSpec(k.Bookmark, record.RemotePath)
	id, group, err := s.startBisync(ctx, record, remoteSpec, false)
	if err != nil {
		s.logger.Warn("relaunch",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Error(err))
		s.sink.SyncFailed(ctx, k.Bookmark, k.Slot, err)
		s.clearJob(k, entry.id)
		s.bus.Publish()
		return
	}
	s.replaceJob(k, entry.id, id, group, false)
}

// recover relaunches an aborted slot in the background: forced resync first,
// then the steady job. The entry stays tracked and flagged so concurrent
// ticks and Start calls leave it alone.
func (s *Supervisor) recover(ctx context.Context, k Key, entry jobEntry) {
	s.mu.Lock()
	current, ok := s.jobs[k]
	if !ok || current.id != entry.id || current.recovering {
		s.mu.Unlock()
		return
	}
	current.recovering = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		record, err := s.store.SyncSlot(k.Bookmark, k.Slot)
		if err != nil {
			s.recoveryFailed(ctx, k, entry.id, err)
			return
		}
		remoteSpec := bookmarks.RemoteSpec(k.Bookmark, record.RemotePath)

		resyncID, _, err := s.startBisync(ctx, record, remoteSpec, true)
		if err != nil {
			s.recoveryFailed(ctx, k, entry.id, err)
			return
		}
		if err := s.waitForJob(ctx, resyncID, s.bootstrapTimeout); err != nil {
			s.recoveryFailed(ctx, k, entry.id, err)
			return
		}

		id, group, err := s.startBisync(ctx, record, remoteSpec, false)
		if err != nil {
			s.recoveryFailed(ctx, k, entry.id, err)
			return
		}
		s.replaceJob(k, entry.id, id, group, false)
		s.logger.Info("sync recovered",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Int64(logging.FieldJobID, id))
	}()
}

func (s *Supervisor) recoveryFailed(ctx context.Context, k Key, oldID int64, err error) {
	s.logger.Error("sync recovery failed",
		logging.String(logging.FieldBookmark, k.Bookmark),
		logging.String(logging.FieldSlot, k.Slot),
		logging.Error(err))
	s.sink.SyncFailed(ctx, k.Bookmark, k.Slot, err)
	s.clearJob(k, oldID)
	s.bus.Publish()
}

// replaceJob swaps the tracked job id, provided the entry still holds oldID.
func (s *Supervisor) replaceJob(k Key, oldID, newID int64, group string, recovering bool) {
	s.mu.Lock()
	if entry, ok := s.jobs[k]; ok && entry.id == oldID {
		entry.id = newID
		entry.group = group
		entry.startedAt = time.Now()
		entry.recovering = recovering
	}
	s.mu.Unlock()
	s.bus.Publish()
}

func (s *Supervisor) record(ctx context.Context, k Key, entry jobEntry, outcome, detail string) {
	if s.journal == nil {
		return
	}
	err := s.journal.Record(ctx, history.Entry{
		Bookmark:  k.Bookmark,
		Slot:      k.Slot,
		Kind:      history.KindSync,
		JobID:     entry.id,
		Outcome:   outcome,
		Detail:    detail,
		StartedAt: entry.startedAt,
	})
	if err != nil {
		s.logger.Warn("journal write",
			logging.String(logging.FieldBookmark, k.Bookmark),
			logging.String(logging.FieldSlot, k.Slot),
			logging.Error(err))
	}
}
