package bookmarks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/ini.v1"
)

// optionPrefix namespaces provider options inside slot sections so they
// cannot collide with the slot's own keys.
const optionPrefix = "opt_"

// Store reads and writes bookmark records in a single INI file. The file is
// also edited by hand and by the daemon; writes are last-writer-wins across
// processes, but this process's own writers are serialized through one
// flock-guarded read-modify-write chokepoint.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore constructs a store over the INI file at path. The file is
// created lazily on first write.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bookmark store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bookmark directory: %w", err)
	}
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

func (s *Store) load() (*ini.File, error) {
	file, err := ini.LooseLoad(s.path)
	if err != nil {
		return nil, fmt.Errorf("load bookmark file %s: %w", s.path, err)
	}
	return file, nil
}

// mutate runs fn against the current file contents and writes the result
// back while holding the file lock.
func (s *Store) mutate(fn func(*ini.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock bookmark file: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck

	file, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(file); err != nil {
		return err
	}
	if err := file.SaveTo(s.path); err != nil {
		return fmt.Errorf("save bookmark file %s: %w", s.path, err)
	}
	return nil
}

// List returns all bookmark names, sorted.
func (s *Store) List() ([]string, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range file.SectionStrings() {
		if name == ini.DefaultSection || strings.Contains(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the bookmark record for name.
func (s *Store) Get(name string) (Bookmark, error) {
	file, err := s.load()
	if err != nil {
		return Bookmark{}, err
	}
	if !file.HasSection(name) || strings.Contains(name, ".") {
		return Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	section := file.Section(name)
	bm := Bookmark{Name: name, Type: section.Key("type").String(), Options: map[string]string{}}
	for key, value := range section.KeysHash() {
		if key == "type" {
			continue
		}
		bm.Options[key] = value
	}
	return bm, nil
}

// Save creates or replaces a bookmark record.
func (s *Store) Save(bm Bookmark) error {
	if err := ValidateName(bm.Name); err != nil {
		return err
	}
	return s.mutate(func(file *ini.File) error {
		file.DeleteSection(bm.Name)
		section := file.Section(bm.Name)
		if bm.Type != "" {
			section.Key("type").SetValue(bm.Type)
		}
		for _, key := range sortedKeys(bm.Options) {
			section.Key(key).SetValue(bm.Options[key])
		}
		return nil
	})
}

// Delete removes a bookmark and all of its slot sections. Callers must
// reject deletion of bookmarks with active mounts or jobs before getting
// here; the store has no view of live state.
func (s *Store) Delete(name string) error {
	return s.mutate(func(file *ini.File) error {
		if !file.HasSection(name) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		file.DeleteSection(name)
		prefix := name + "."
		for _, section := range file.SectionStrings() {
			if strings.HasPrefix(section, prefix) {
				file.DeleteSection(section)
			}
		}
		return nil
	})
}

// MountSlot returns the mount slot record, or ErrNotFound.
func (s *Store) MountSlot(bookmark, slot string) (MountSlot, error) {
	file, err := s.load()
	if err != nil {
		return MountSlot{}, err
	}
	name := mountSection(bookmark, slot)
	if !file.HasSection(name) {
		return MountSlot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	section := file.Section(name)
	record := MountSlot{
		Enabled:    section.Key("enabled").MustBool(false),
		Path:       section.Key("path").String(),
		RemotePath: section.Key("remote_path").String(),
		Options:    map[string]string{},
	}
	for key, value := range section.KeysHash() {
		if strings.HasPrefix(key, optionPrefix) {
			record.Options[strings.TrimPrefix(key, optionPrefix)] = value
		}
	}
	return record, nil
}

// SaveMountSlot creates or replaces a mount slot record.
func (s *Store) SaveMountSlot(bookmark, slot string, record MountSlot) error {
	return s.mutate(func(file *ini.File) error {
		name := mountSection(bookmark, slot)
		file.DeleteSection(name)
		section := file.Section(name)
		section.Key("enabled").SetValue(strconv.FormatBool(record.Enabled))
		if record.Path != "" {
			section.Key("path").SetValue(record.Path)
		}
		if record.RemotePath != "" {
			section.Key("remote_path").SetValue(record.RemotePath)
		}
		for _, key := range sortedKeys(record.Options) {
			section.Key(optionPrefix + key).SetValue(record.Options[key])
		}
		return nil
	})
}

// SetMountEnabled flips only the enabled flag, creating the slot record if
// it does not exist yet.
func (s *Store) SetMountEnabled(bookmark, slot string, enabled bool) error {
	return s.mutate(func(file *ini.File) error {
		section := file.Section(mountSection(bookmark, slot))
		section.Key("enabled").SetValue(strconv.FormatBool(enabled))
		return nil
	})
}

// DeleteMountSlot removes a mount slot record.
func (s *Store) DeleteMountSlot(bookmark, slot string) error {
	return s.mutate(func(file *ini.File) error {
		name := mountSection(bookmark, slot)
		if !file.HasSection(name) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		file.DeleteSection(name)
		return nil
	})
}

// MountSlots lists slot ids with mount records for a bookmark.
func (s *Store) MountSlots(bookmark string) ([]string, error) {
	return s.slotIDs(bookmark + ".mount_")
}

// SyncSlots lists slot ids with sync records for a bookmark.
func (s *Store) SyncSlots(bookmark string) ([]string, error) {
	return s.slotIDs(bookmark + ".sync_")
}

func (s *Store) slotIDs(prefix string) ([]string, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, section := range file.SectionStrings() {
		if strings.HasPrefix(section, prefix) {
			ids = append(ids, strings.TrimPrefix(section, prefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SyncSlot returns the sync slot record, or ErrNotFound.
func (s *Store) SyncSlot(bookmark, slot string) (SyncSlot, error) {
	file, err := s.load()
	if err != nil {
		return SyncSlot{}, err
	}
	name := syncSection(bookmark, slot)
	if !file.HasSection(name) {
		return SyncSlot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	section := file.Section(name)
	record := SyncSlot{
		LocalPath:   section.Key("local_path").String(),
		RemotePath:  section.Key("remote_path").String(),
		Mode:        SyncMode(section.Key("mode").MustString(string(SyncBidirectional))),
		Direction:   SyncDirection(section.Key("direction").String()),
		Transfers:   section.Key("transfers").MustInt(0),
		Checkers:    section.Key("checkers").MustInt(0),
		MaxDelete:   section.Key("max_delete").MustInt(0),
		Initialized: section.Key("initialized").MustBool(false),
	}
	return record, nil
}

// SaveSyncSlot creates or replaces a sync slot record.
func (s *Store) SaveSyncSlot(bookmark, slot string, record SyncSlot) error {
	return s.mutate(func(file *ini.File) error {
		name := syncSection(bookmark, slot)
		file.DeleteSection(name)
		section := file.Section(name)
		section.Key("local_path").SetValue(record.LocalPath)
		section.Key("remote_path").SetValue(record.RemotePath)
		mode := record.Mode
		if mode == "" {
			mode = SyncBidirectional
		}
		section.Key("mode").SetValue(string(mode))
		if record.Direction != "" {
			section.Key("direction").SetValue(string(record.Direction))
		}
		if record.Transfers > 0 {
			section.Key("transfers").SetValue(strconv.Itoa(record.Transfers))
		}
		if record.Checkers > 0 {
			section.Key("checkers").SetValue(strconv.Itoa(record.Checkers))
		}
		if record.MaxDelete > 0 {
			section.Key("max_delete").SetValue(strconv.Itoa(record.MaxDelete))
		}
		section.Key("initialized").SetValue(strconv.FormatBool(record.Initialized))
		return nil
	})
}

// SetSyncInitialized persists the one-way initialized latch.
func (s *Store) SetSyncInitialized(bookmark, slot string) error {
	return s.mutate(func(file *ini.File) error {
		name := syncSection(bookmark, slot)
		if !file.HasSection(name) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		file.Section(name).Key("initialized").SetValue("true")
		return nil
	})
}

// DeleteSyncSlot removes a sync slot record.
func (s *Store) DeleteSyncSlot(bookmark, slot string) error {
	return s.mutate(func(file *ini.File) error {
		name := syncSection(bookmark, slot)
		if !file.HasSection(name) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		file.DeleteSection(name)
		return nil
	})
}

// Dump returns the raw section map, mainly for diagnostics.
func (s *Store) Dump() (map[string]map[string]string, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	dump := map[string]map[string]string{}
	for _, name := range file.SectionStrings() {
		if name == ini.DefaultSection {
			continue
		}
		dump[name] = file.Section(name).KeysHash()
	}
	return dump, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
