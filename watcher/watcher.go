// Package watcher re-runs tasks when their source files change.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZacxDev/assetooni/executor"
	afs "github.com/ZacxDev/assetooni/fs"
	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/target"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/romdo/go-debounce"
	"golang.org/x/exp/slices"
)

// DefaultDebounce collapses editor save bursts into one dispatch.
const DefaultDebounce = 200 * time.Millisecond

var defaultIgnoredDirs = map[string]bool{
	".git":                   true,
	"node_modules":           true,
	executor.DefaultCacheDir: true,
}

// Runner starts background task runs by name, at most one in flight per
// task. *executor.Scheduler satisfies it.
type Runner interface {
	Trigger(ctx context.Context, name string) bool
	Wait()
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithIgnoredDirs(names ...string) Option {
	return func(w *Watcher) {
		for _, name := range names {
			w.ignored[name] = true
		}
	}
}

type binding struct {
	target.WatchBinding
	pattern string

	fire   func()
	cancel func()

	mu      sync.Mutex
	changed []string
}

// take returns the paths changed since the last fire, in arrival order.
func (b *binding) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := b.changed
	b.changed = nil
	return paths
}

// Watcher maps file changes to actions: a task name, or one of the reserved
// actions "reload" and "inject".
type Watcher struct {
	bindings []*binding
	runner   Runner
	reloader executor.Reloader
	debounce time.Duration
	ignored  map[string]bool

	mu      sync.Mutex
	ctx     context.Context
	watched map[string]bool
	fsw     *fsnotify.Watcher
}

func New(bindings []target.WatchBinding, runner Runner, reloader executor.Reloader, opts ...Option) *Watcher {
	w := &Watcher{
		runner:   runner,
		reloader: reloader,
		debounce: DefaultDebounce,
		ignored:  make(map[string]bool),
		ctx:      context.Background(),
		watched:  make(map[string]bool),
	}
	for name := range defaultIgnoredDirs {
		w.ignored[name] = true
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, wb := range bindings {
		b := &binding{WatchBinding: wb, pattern: filepath.Clean(filepath.FromSlash(wb.Pattern))}
		b.fire, b.cancel = debounce.New(w.debounce, func() { w.fire(b) })
		w.bindings = append(w.bindings, b)
	}
	return w
}

// Run watches until ctx is done. Task failures are logged and never stop
// the loop.
func (w *Watcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}

	w.mu.Lock()
	w.ctx = ctx
	w.fsw = fsw
	w.mu.Unlock()

	defer func() {
		for _, b := range w.bindings {
			b.cancel()
		}
		_ = fsw.Close()
		w.runner.Wait()
	}()

	for _, b := range w.bindings {
		w.addTree(ctx, watchRoot(afs.PatternBase(b.pattern)))
	}
	log.Info("Watching", "bindings", len(w.bindings), "directories", w.watchedCount())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.relevant(event.Name) {
				w.addTree(ctx, event.Name)
			}
			return
		}
	}

	logger.FromContext(ctx).Debug("Change detected", "path", event.Name, "op", event.Op.String())
	w.Dispatch(event.Name)
}

// Dispatch feeds one changed path through the bindings and reports how many
// matched. Actions fire after the debounce delay.
func (w *Watcher) Dispatch(path string) int {
	path = filepath.Clean(path)
	matched := 0
	for _, b := range w.bindings {
		ok, err := doublestar.PathMatch(b.pattern, path)
		if err != nil || !ok {
			continue
		}
		matched++
		b.mu.Lock()
		if !slices.Contains(b.changed, path) {
			b.changed = append(b.changed, path)
		}
		b.mu.Unlock()
		b.fire()
	}
	return matched
}

func (w *Watcher) fire(b *binding) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	paths := b.take()

	switch b.Action {
	case target.ActionReload:
		if w.reloader != nil {
			w.reloader.Reload()
		}
	case target.ActionInject:
		if w.reloader == nil {
			return
		}
		for _, p := range paths {
			if !strings.EqualFold(filepath.Ext(p), ".css") {
				w.reloader.Reload()
				return
			}
		}
		for _, p := range paths {
			w.reloader.Inject("css", filepath.ToSlash(p))
		}
	default:
		w.runner.Trigger(ctx, b.Action)
	}
}

// addTree watches dir and every directory below it that is not ignored.
func (w *Watcher) addTree(ctx context.Context, dir string) {
	log := logger.FromContext(ctx)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored[d.Name()] {
			return filepath.SkipDir
		}
		w.add(path)
		return nil
	})
	if err != nil {
		log.Warn("Failed to watch directory", "path", dir, "error", err)
	}
}

func (w *Watcher) add(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] || w.fsw == nil {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		logger.Warn("Failed to watch directory", "path", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

func (w *Watcher) watchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// relevant reports whether a new directory can hold files any binding
// cares about.
func (w *Watcher) relevant(dir string) bool {
	dir = filepath.Clean(dir)
	if w.ignored[filepath.Base(dir)] {
		return false
	}
	for _, b := range w.bindings {
		base := afs.PatternBase(b.pattern)
		if base == "." || within(dir, base) || within(base, dir) {
			return true
		}
	}
	return false
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// watchRoot is the nearest existing directory at or above base, so a
// pattern whose directory does not exist yet still sees it appear.
func watchRoot(base string) string {
	for {
		if info, err := os.Stat(base); err == nil && info.IsDir() {
			return base
		}
		parent := filepath.Dir(base)
		if parent == base {
			return base
		}
		base = parent
	}
}
