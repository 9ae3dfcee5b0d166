package cli

import (
	"context"
	"sort"

	"github.com/ZacxDev/assetooni/config"
	"github.com/ZacxDev/assetooni/devserver"
	"github.com/ZacxDev/assetooni/executor"
	"github.com/ZacxDev/assetooni/fs"
	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/target"
	"github.com/ZacxDev/assetooni/transform"
	"github.com/ZacxDev/assetooni/watcher"
	"github.com/pkg/errors"
)

// Names of the tasks every project gets for free.
const (
	TaskServe = "serve"
	TaskWatch = "watch"
)

type Options struct {
	ConfigFile string
	FS         fs.FileSystem
	Exec       transform.CommandRunner
	NoCache    bool
	// Port overrides the configured server port when non-zero.
	Port int
}

// App is a loaded project wired to its registry.
type App struct {
	Project   *target.Project
	Registry  *executor.Registry
	Scheduler *executor.Scheduler
	Status    executor.StatusManager
	Pipelines *executor.PipelineRunner
	Server    *devserver.Server

	lockMgr executor.LockFileManager
	cache   executor.CacheManager
}

func NewApp(opts Options) (*App, error) {
	if opts.ConfigFile == "" {
		opts.ConfigFile = config.DefaultFile
	}
	if opts.FS == nil {
		opts.FS = fs.RealFileSystem{}
	}
	if opts.Exec == nil {
		opts.Exec = executor.RealCommandExecutor{}
	}

	project, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", opts.ConfigFile)
	}
	if opts.Port != 0 {
		project.Server.Port = opts.Port
	}

	app := &App{
		Project:  project,
		Registry: executor.NewRegistry(),
		Status:   executor.NewStatusManager(),
		Server:   devserver.New(project.Server),
	}
	app.Scheduler = executor.NewScheduler(app.Registry, app.Status)

	deps := transform.Deps{Exec: opts.Exec, Log: logger.GetDefault()}
	if !opts.NoCache {
		app.lockMgr = executor.NewLockFileManager(opts.FS, executor.DefaultLockFile)
		if err := app.lockMgr.LoadLockFile(); err != nil {
			return nil, errors.Wrap(err, "loading lock file")
		}
		app.cache = executor.NewCacheManager(opts.FS, executor.DefaultCacheDir, app.lockMgr)
		deps.Cache = app.cache
	}

	app.Pipelines = executor.NewPipelineRunner(opts.FS, deps, app.Status, executor.NewCleaner(opts.FS, "."))
	app.Pipelines.SetReloader(app.Server)

	if err := app.register(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) register() error {
	if err := a.Registry.Register(TaskServe, a.Server.Start); err != nil {
		return err
	}
	if err := a.Registry.Register(TaskWatch, func(ctx context.Context) error {
		return watcher.New(a.Project.Watch, a.Scheduler, a.Server).Run(ctx)
	}); err != nil {
		return err
	}

	names := make([]string, 0, len(a.Project.Tasks))
	for name := range a.Project.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := a.Project.Tasks[name]
		var err error
		switch def.Kind {
		case target.KindSeries:
			err = a.Registry.RegisterComposite(name, def.Children, a.Scheduler.Series(def.Children...))
		case target.KindParallel:
			err = a.Registry.RegisterComposite(name, def.Children, a.Scheduler.Parallel(def.Children...))
		default:
			var fn executor.TaskFunc
			if fn, err = a.Pipelines.Compile(def); err == nil {
				err = a.Registry.Register(name, fn)
			}
		}
		if err != nil {
			return errors.Wrapf(err, "registering %s", name)
		}
	}

	if err := a.Registry.Validate(); err != nil {
		return err
	}

	for _, b := range a.Project.Watch {
		if b.Action == target.ActionReload || b.Action == target.ActionInject {
			continue
		}
		if !a.Registry.Has(b.Action) {
			return errors.Wrapf(executor.ErrTaskNotFound, "watch %s: %s", b.Pattern, b.Action)
		}
	}
	return nil
}

// Mode says how a run treats per-file failures and the transform cache.
type Mode struct {
	// Strict fails a task on any file that could not be processed.
	Strict bool
	// Prune drops cache entries the run did not use. Only a full build
	// knows every live entry.
	Prune bool
}

// Run runs names one after the other.
func (a *App) Run(ctx context.Context, mode Mode, names ...string) error {
	a.Pipelines.SetStrict(mode.Strict)
	for _, name := range names {
		a.Status.SetStatus(name, executor.StatusQueued)
	}

	var runErr error
	for _, name := range names {
		if runErr = a.Scheduler.Run(ctx, name); runErr != nil {
			break
		}
	}

	if err := a.saveCache(runErr == nil && mode.Prune); err != nil {
		logger.FromContext(ctx).Warn("Failed to save cache index", "error", err)
	}
	return runErr
}

// saveCache writes the lock file, keeping entries this run did not touch
// unless prune is set.
func (a *App) saveCache(prune bool) error {
	if a.lockMgr == nil {
		return nil
	}
	if prune {
		removed, err := a.cache.Prune()
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Debug("Pruned cache", "blobs", removed)
		}
	} else {
		a.lockMgr.RetainUntouched()
	}
	if len(a.lockMgr.FreshLockFile()) == 0 && len(a.lockMgr.LockFile()) == 0 {
		return nil
	}
	return a.lockMgr.SaveFreshLockFile()
}
