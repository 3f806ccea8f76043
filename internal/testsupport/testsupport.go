// Package testsupport provides shared fixtures for package tests: scratch
// configs, bookmark stores, and a scriptable transport fake.
package testsupport

import (
	"path/filepath"
	"testing"

	"syncdock/internal/bookmarks"
	"syncdock/internal/config"
)

// NewConfig returns a validated config rooted in the test's temp directory.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(dir, "state")
	cfg.Paths.ScratchDir = filepath.Join(dir, "mounts")
	cfg.Paths.LogDir = ""
	cfg.Paths.BookmarksPath = filepath.Join(dir, "bookmarks.conf")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// NewBookmarkStore returns an empty bookmark store under the config's path.
func NewBookmarkStore(t *testing.T, cfg *config.Config) *bookmarks.Store {
	t.Helper()
	store, err := bookmarks.NewStore(cfg.Paths.BookmarksPath)
	if err != nil {
		t.Fatalf("bookmark store: %v", err)
	}
	return store
}
