package executor

import (
	"encoding/json"
	"maps"
	"os"
	"sync"

	"github.com/ZacxDev/assetooni/fs"
	"github.com/ZacxDev/assetooni/logger"
	"github.com/pkg/errors"
)

const (
	DefaultLockFile = "assetooni.lock"

	// lockFormat is bumped whenever cache keys or entries change meaning.
	lockFormat = 1
)

// LockFileEntry points a cache key at the blob holding its result.
type LockFileEntry struct {
	Output string `json:"output"`
	Size   int64  `json:"size"`
}

type lockFileData struct {
	Format  int                      `json:"format"`
	Entries map[string]LockFileEntry `json:"entries"`
}

// LockFileManager keeps two indexes: the one loaded from disk and a fresh
// one holding only keys used during this run. Saving the fresh index drops
// entries nothing asked for.
type LockFileManager interface {
	LoadLockFile() error
	SaveFreshLockFile() error
	GetCachedEntry(key string) (LockFileEntry, bool)
	AddFreshEntry(key string, entry LockFileEntry)
	// RetainUntouched copies entries this run never asked for into the
	// fresh index, so a partial run does not forget them.
	RetainUntouched() int

	LockFile() map[string]LockFileEntry
	FreshLockFile() map[string]LockFileEntry
	Path() string
}

type lockFileManager struct {
	fs   fs.FileSystem
	path string

	mu    sync.Mutex
	saved map[string]LockFileEntry
	fresh map[string]LockFileEntry
}

func NewLockFileManager(fsys fs.FileSystem, path string) LockFileManager {
	if path == "" {
		path = DefaultLockFile
	}
	return &lockFileManager{
		fs:    fsys,
		path:  path,
		saved: make(map[string]LockFileEntry),
		fresh: make(map[string]LockFileEntry),
	}
}

// LoadLockFile reads the saved index. A missing file is an empty cache; a
// file in another format is ignored and rewritten on the next save.
func (lm *lockFileManager) LoadLockFile() error {
	raw, err := lm.fs.ReadFile(lm.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "reading %s", lm.path)
	}

	var data lockFileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.Wrapf(err, "parsing %s", lm.path)
	}
	if data.Format != lockFormat {
		logger.Debug("Ignoring lock file from another format", "path", lm.path, "format", data.Format)
		return nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if data.Entries != nil {
		lm.saved = data.Entries
	}
	return nil
}

func (lm *lockFileManager) SaveFreshLockFile() error {
	lm.mu.Lock()
	raw, err := json.MarshalIndent(lockFileData{Format: lockFormat, Entries: lm.fresh}, "", "  ")
	lm.mu.Unlock()
	if err != nil {
		return errors.WithStack(err)
	}
	return fs.WriteFileAtomic(lm.fs, lm.path, raw, 0644)
}

// GetCachedEntry looks in the fresh index first so results produced earlier
// in this run are found too.
func (lm *lockFileManager) GetCachedEntry(key string) (LockFileEntry, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if entry, ok := lm.fresh[key]; ok {
		return entry, true
	}
	entry, ok := lm.saved[key]
	return entry, ok
}

func (lm *lockFileManager) AddFreshEntry(key string, entry LockFileEntry) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.fresh[key] = entry
}

func (lm *lockFileManager) RetainUntouched() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	n := 0
	for key, entry := range lm.saved {
		if _, ok := lm.fresh[key]; !ok {
			lm.fresh[key] = entry
			n++
		}
	}
	return n
}

func (lm *lockFileManager) LockFile() map[string]LockFileEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return maps.Clone(lm.saved)
}

func (lm *lockFileManager) FreshLockFile() map[string]LockFileEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return maps.Clone(lm.fresh)
}

func (lm *lockFileManager) Path() string { return lm.path }
