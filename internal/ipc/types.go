package ipc

import "time"

// StatusRequest fetches the daemon runtime snapshot.
type StatusRequest struct{}

// MountStatus is one live mount on the wire.
type MountStatus struct {
	Bookmark   string    `json:"bookmark"`
	Slot       string    `json:"slot"`
	Path       string    `json:"path"`
	RemoteSpec string    `json:"remote_spec"`
	MountedAt  time.Time `json:"mounted_at"`
}

// SyncStatus is one tracked sync job on the wire.
type SyncStatus struct {
	Bookmark   string    `json:"bookmark"`
	Slot       string    `json:"slot"`
	JobID      int64     `json:"job_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	Recovering bool      `json:"recovering"`
}

// StatusResponse is the combined daemon and orchestrator status.
type StatusResponse struct {
	Running     bool          `json:"running"`
	CLIOnly     bool          `json:"cli_only"`
	RCState     string        `json:"rc_state"`
	RCEndpoint  string        `json:"rc_endpoint"`
	PID         int           `json:"pid"`
	RCPID       int           `json:"rc_pid"`
	LockPath    string        `json:"lock_path"`
	HistoryPath string        `json:"history_path"`
	Mounts      []MountStatus `json:"mounts"`
	Jobs        []SyncStatus  `json:"jobs"`
}

// MountRequest mounts a bookmark slot. An empty slot means the default.
type MountRequest struct {
	Bookmark string `json:"bookmark"`
	Slot     string `json:"slot"`
}

// MountResponse reports the resolved mount point.
type MountResponse struct {
	Path string `json:"path"`
}

// UnmountRequest unmounts a bookmark slot.
type UnmountRequest struct {
	Bookmark string `json:"bookmark"`
	Slot     string `json:"slot"`
}

// UnmountResponse indicates the unmount completed.
type UnmountResponse struct{}

// SyncStartRequest launches a sync run for a bookmark slot.
type SyncStartRequest struct {
	Bookmark string `json:"bookmark"`
	Slot     string `json:"slot"`
}

// SyncStartResponse indicates the run was launched.
type SyncStartResponse struct{}

// SyncStopRequest stops the tracked sync job for a bookmark slot.
type SyncStopRequest struct {
	Bookmark string `json:"bookmark"`
	Slot     string `json:"slot"`
}

// SyncStopResponse reports whether a job was actually tracked.
type SyncStopResponse struct {
	Stopped bool `json:"stopped"`
}

// BookmarksRequest lists all bookmarks with their slot records.
type BookmarksRequest struct{}

// MountSlotInfo is a persisted mount slot on the wire.
type MountSlotInfo struct {
	Name       string            `json:"name"`
	Enabled    bool              `json:"enabled"`
	Path       string            `json:"path"`
	RemotePath string            `json:"remote_path"`
	Options    map[string]string `json:"options,omitempty"`
}

// SyncSlotInfo is a persisted sync slot on the wire.
type SyncSlotInfo struct {
	Name        string `json:"name"`
	LocalPath   string `json:"local_path"`
	RemotePath  string `json:"remote_path"`
	Mode        string `json:"mode"`
	Direction   string `json:"direction"`
	Initialized bool   `json:"initialized"`
}

// BookmarkInfo is a bookmark with its slots on the wire.
type BookmarkInfo struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	MountSlots []MountSlotInfo `json:"mount_slots"`
	SyncSlots  []SyncSlotInfo  `json:"sync_slots"`
}

// BookmarksResponse contains all stored bookmarks.
type BookmarksResponse struct {
	Bookmarks []BookmarkInfo `json:"bookmarks"`
}

// HistoryRequest fetches recent journal entries. Limit 0 uses the default.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryEntry is one journaled operation on the wire.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Bookmark   string    `json:"bookmark"`
	Slot       string    `json:"slot"`
	Kind       string    `json:"kind"`
	JobID      int64     `json:"job_id"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HistoryResponse contains journal entries, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// WaitForChangeRequest long-polls for a state change notification.
type WaitForChangeRequest struct {
	WaitMillis int `json:"wait_millis"`
}

// WaitForChangeResponse reports whether a change fired before the wait
// elapsed.
type WaitForChangeResponse struct {
	Changed bool `json:"changed"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges the shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}
