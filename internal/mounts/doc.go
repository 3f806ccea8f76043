// Package mounts orchestrates per-bookmark mount slots: at most one live
// mount per slot, idempotent mount/unmount through the rc API, and persisted
// enabled/disabled intent in the bookmark store. The in-memory cache is the
// single source of truth for what is currently mounted.
package mounts
