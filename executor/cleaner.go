package executor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZacxDev/assetooni/fs"
	"github.com/pkg/errors"
)

// Cleaner removes destination trees before a full build.
type Cleaner struct {
	fs   fs.FileSystem
	root string
}

// NewCleaner only allows deletes strictly inside root.
func NewCleaner(fsys fs.FileSystem, root string) *Cleaner {
	return &Cleaner{fs: fsys, root: root}
}

// Clean deletes path and everything below it. A missing path is fine.
// Symlinks are removed as links; their targets are never touched. A path
// that reaches its target through a symlinked directory is refused.
func (c *Cleaner) Clean(path string) error {
	if err := c.checkInside(path); err != nil {
		return err
	}
	if err := c.remove(path); err != nil {
		return &FilesystemError{Op: "clean", Path: path, Err: err}
	}
	return nil
}

func (c *Cleaner) checkInside(path string) error {
	root, err := filepath.Abs(c.root)
	if err != nil {
		return errors.WithStack(err)
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return errors.WithStack(err)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Wrapf(ErrUnsafeClean, "%s", path)
	}

	// every directory between root and the target must be a real one
	dir := root
	parents := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	for _, part := range parents {
		if part == "." {
			break
		}
		dir = filepath.Join(dir, part)
		info, err := c.fs.Lstat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WithStack(err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errors.Wrapf(ErrUnsafeClean, "%s goes through symlink %s", path, dir)
		}
	}
	return nil
}

func (c *Cleaner) remove(path string) error {
	info, err := c.fs.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		entries, err := c.fs.ReadDir(path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		for _, entry := range entries {
			if err := c.remove(filepath.Join(path, entry.Name())); err != nil {
				return err
			}
		}
	}

	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
