package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZacxDev/assetooni/fs"
	"github.com/ZacxDev/assetooni/transform"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const (
	DefaultCacheDir  = ".assetooni-cache"
	memoryCacheItems = 256
)

// CacheManager is the content addressed store behind expensive transforms.
// Keys come from the caller (hash of input bytes + options); blobs are
// stored under the hash of their own content, so equal outputs share a blob.
type CacheManager interface {
	transform.Cache
	Prune() (int, error)
	CacheDir() string
}

type cacheManager struct {
	fs       fs.FileSystem
	cacheDir string
	lockMgr  LockFileManager
	memory   *lru.Cache[string, []byte]
}

func NewCacheManager(fs fs.FileSystem, cacheDir string, lockMgr LockFileManager) CacheManager {
	memory, _ := lru.New[string, []byte](memoryCacheItems)
	return &cacheManager{
		fs:       fs,
		cacheDir: cacheDir,
		lockMgr:  lockMgr,
		memory:   memory,
	}
}

func (cm *cacheManager) Get(key string) ([]byte, bool) {
	entry, ok := cm.lockMgr.GetCachedEntry(key)
	if !ok {
		return nil, false
	}
	if data, ok := cm.memory.Get(key); ok {
		cm.lockMgr.AddFreshEntry(key, entry)
		return data, true
	}

	data, err := cm.restoreFile(entry.Output, entry.Size)
	if err != nil {
		// A damaged entry is just a miss; the caller recomputes.
		return nil, false
	}
	cm.memory.Add(key, data)
	cm.lockMgr.AddFreshEntry(key, entry)
	return data, true
}

func (cm *cacheManager) Put(key string, data []byte) error {
	cachedPath, err := cm.cacheFile(data)
	if err != nil {
		return errors.WithStack(err)
	}
	cm.memory.Add(key, data)
	cm.lockMgr.AddFreshEntry(key, LockFileEntry{Output: cachedPath, Size: int64(len(data))})
	return nil
}

func (cm *cacheManager) verifyCacheIntegrity(cachedPath string, size int64, content []byte) error {
	if int64(len(content)) != size {
		return fmt.Errorf("cached file %s has size %d, expected %d", cachedPath, len(content), size)
	}
	hash := sha256.Sum256(content)
	if filepath.Base(cachedPath) != hex.EncodeToString(hash[:]) {
		return fmt.Errorf("cached file %s does not match its digest", cachedPath)
	}
	return nil
}

func (cm *cacheManager) restoreFile(cachedPath string, size int64) ([]byte, error) {
	content, err := cm.fs.ReadFile(cachedPath)
	if err != nil {
		return nil, fmt.Errorf("error reading cached file %s: %w", cachedPath, err)
	}
	if err := cm.verifyCacheIntegrity(cachedPath, size, content); err != nil {
		return nil, fmt.Errorf("cache integrity check failed: %w", err)
	}
	return content, nil
}

func (cm *cacheManager) cacheFile(content []byte) (string, error) {
	hash := sha256.Sum256(content)
	hashString := hex.EncodeToString(hash[:])

	cachedPath := filepath.Join(cm.cacheDir, hashString)
	if _, err := cm.fs.Stat(cachedPath); err == nil {
		return cachedPath, nil
	}

	if err := fs.WriteFileAtomic(cm.fs, cachedPath, content, 0644); err != nil {
		return "", fmt.Errorf("error writing cached file: %w", err)
	}

	return cachedPath, nil
}

// Prune removes blobs no fresh entry points at. Call it after a run, before
// saving the lock file.
func (cm *cacheManager) Prune() (int, error) {
	entries, err := cm.fs.ReadDir(cm.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "reading cache dir %s", cm.cacheDir)
	}

	live := make(map[string]bool)
	for _, entry := range cm.lockMgr.FreshLockFile() {
		live[filepath.Base(entry.Output)] = true
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || live[entry.Name()] {
			continue
		}
		if err := cm.fs.Remove(filepath.Join(cm.cacheDir, entry.Name())); err != nil {
			return removed, errors.Wrapf(err, "removing stale cache blob %s", entry.Name())
		}
		removed++
	}
	return removed, nil
}

func (cm *cacheManager) CacheDir() string {
	return cm.cacheDir
}
