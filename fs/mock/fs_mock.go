package mock

import (
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZacxDev/assetooni/fs"
	"github.com/bmatcuk/doublestar/v4"
)

type mockDirEntry struct {
	name  string
	isDir bool
	info  iofs.FileInfo
}

func (m *mockDirEntry) Name() string { return m.name }
func (m *mockDirEntry) IsDir() bool  { return m.isDir }
func (m *mockDirEntry) Type() iofs.FileMode {
	if m.isDir {
		return iofs.ModeDir
	}
	return 0
}
func (m *mockDirEntry) Info() (iofs.FileInfo, error) { return m.info, nil }

type mockFileInfo struct {
	name string
	mode os.FileMode
	size int64
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() interface{}   { return nil }

// MockFileSystem implements the FileSystem interface for testing. Only files
// are stored; directories exist implicitly as path prefixes.
type MockFileSystem struct {
	// FailWrites makes every WriteFile under one of these prefixes fail.
	FailWrites []string

	mu    sync.Mutex
	files map[string][]byte
	modes map[string]os.FileMode
}

var _ fs.FileSystem = (*MockFileSystem)(nil)

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files: make(map[string][]byte),
		modes: make(map[string]os.FileMode),
	}
}

func clean(name string) string { return filepath.Clean(name) }

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[clean(filename)]; ok {
		return append([]byte(nil), data...), nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	filename = clean(filename)
	for _, prefix := range m.FailWrites {
		if strings.HasPrefix(filename, prefix) {
			return &os.PathError{Op: "write", Path: filename, Err: os.ErrPermission}
		}
	}
	m.files[filename] = append([]byte(nil), data...)
	m.modes[filename] = perm
	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return nil
}

func (m *MockFileSystem) isDir(name string) bool {
	name = clean(name)
	if name == "." {
		return len(m.files) > 0
	}
	prefix := name + string(filepath.Separator)
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if data, ok := m.files[name]; ok {
		return &mockFileInfo{name: filepath.Base(name), mode: m.modes[name], size: int64(len(data))}, nil
	}
	if m.isDir(name) {
		return &mockFileInfo{name: filepath.Base(name), mode: os.ModeDir | 0755}, nil
	}
	return nil, os.ErrNotExist
}

// Lstat is Stat; the mock has no symlinks.
func (m *MockFileSystem) Lstat(name string) (os.FileInfo, error) {
	return m.Stat(name)
}

func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldpath, newpath = clean(oldpath), clean(newpath)
	data, ok := m.files[oldpath]
	if !ok {
		return os.ErrNotExist
	}
	m.files[newpath] = data
	m.modes[newpath] = m.modes[oldpath]
	delete(m.files, oldpath)
	delete(m.modes, oldpath)
	return nil
}

// Remove deletes a file, or an implicit directory once it is empty.
func (m *MockFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if _, ok := m.files[name]; ok {
		delete(m.files, name)
		delete(m.modes, name)
		return nil
	}
	if m.isDir(name) {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrExist}
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) ReadDir(name string) ([]iofs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	prefix := name + string(filepath.Separator)
	if name == "." {
		prefix = ""
	}
	children := make(map[string]bool)
	for path := range m.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		head, _, nested := strings.Cut(rest, string(filepath.Separator))
		children[head] = children[head] || nested
	}
	if len(children) == 0 {
		return nil, os.ErrNotExist
	}

	names := make([]string, 0, len(children))
	for n := range children {
		names = append(names, n)
	}
	sort.Strings(names)

	entries := make([]iofs.DirEntry, 0, len(names))
	for _, n := range names {
		mode := m.modes[filepath.Join(name, n)]
		if children[n] {
			mode = os.ModeDir | 0755
		}
		entries = append(entries, &mockDirEntry{
			name:  n,
			isDir: children[n],
			info:  &mockFileInfo{name: n, mode: mode},
		})
	}
	return entries, nil
}

func (m *MockFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []string
	for filename := range m.files {
		matched, err := doublestar.PathMatch(clean(pattern), filename)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, filename)
		}
	}
	return matches, nil
}

// Contents is a test helper returning a file's content as a string.
func (m *MockFileSystem) Contents(name string) string {
	data, err := m.ReadFile(name)
	if err != nil {
		return ""
	}
	return string(data)
}

// Paths returns all stored file paths, sorted.
func (m *MockFileSystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
