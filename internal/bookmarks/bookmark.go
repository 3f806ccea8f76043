package bookmarks

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSlot is the implicit mount slot every bookmark carries.
const DefaultSlot = "default"

// SyncMode selects how a sync slot runs.
type SyncMode string

const (
	// SyncOneShot transfers in a single direction and finishes.
	SyncOneShot SyncMode = "oneshot"
	// SyncBidirectional reconciles both directions and is re-armed
	// continuously by the job supervisor.
	SyncBidirectional SyncMode = "bidirectional"
)

// SyncDirection applies to one-shot slots only.
type SyncDirection string

const (
	DirectionUpload   SyncDirection = "upload"
	DirectionDownload SyncDirection = "download"
)

// Bookmark is a named remote-storage configuration.
type Bookmark struct {
	Name    string
	Type    string
	Options map[string]string
}

// MountSlot is a per-bookmark mount sub-configuration.
type MountSlot struct {
	Enabled bool
	// Path overrides the generated scratch mount point when set.
	Path       string
	RemotePath string
	Options    map[string]string
}

// SyncSlot is a per-bookmark sync sub-configuration. Initialized is a
// one-way latch: it flips true after the first successful bootstrap and
// gates which startup path later runs take.
type SyncSlot struct {
	LocalPath   string
	RemotePath  string
	Mode        SyncMode
	Direction   SyncDirection
	Transfers   int
	Checkers    int
	MaxDelete   int
	Initialized bool
}

// ErrNotFound indicates a bookmark or slot record does not exist.
var ErrNotFound = errors.New("bookmark record not found")

// ValidateName rejects names that would collide with the slot section
// namespace or produce unusable remote specs.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("bookmark name must not be empty")
	}
	if strings.ContainsAny(trimmed, ".:/\\") {
		return fmt.Errorf("bookmark name %q must not contain '.', ':', or path separators", trimmed)
	}
	return nil
}

// RemoteSpec builds the daemon-side path for a bookmark, optionally joined
// with a remote sub-path.
func RemoteSpec(bookmark, subPath string) string {
	spec := bookmark + ":"
	sub := strings.Trim(strings.TrimSpace(subPath), "/")
	if sub != "" {
		spec += sub
	}
	return spec
}

func mountSection(bookmark, slot string) string {
	return fmt.Sprintf("%s.mount_%s", bookmark, slot)
}

func syncSection(bookmark, slot string) string {
	return fmt.Sprintf("%s.sync_%s", bookmark, slot)
}
