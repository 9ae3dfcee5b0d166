package executor

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/ZacxDev/assetooni/fs"
	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/target"
	"github.com/ZacxDev/assetooni/transform"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Reloader is the live-reload side of a pipeline.
type Reloader interface {
	Reload()
	Inject(kind, path string)
}

type stage struct {
	transform transform.Transform
	dest      string
}

// PipelineRunner turns pipeline and clean definitions into task functions.
type PipelineRunner struct {
	fs        fs.FileSystem
	deps      transform.Deps
	statusMgr StatusManager
	cleaner   *Cleaner
	reloader  Reloader
	strict    bool
}

func NewPipelineRunner(fsys fs.FileSystem, deps transform.Deps, statusMgr StatusManager, cleaner *Cleaner) *PipelineRunner {
	if statusMgr == nil {
		statusMgr = NewStatusManager()
	}
	return &PipelineRunner{fs: fsys, deps: deps, statusMgr: statusMgr, cleaner: cleaner}
}

func (pr *PipelineRunner) SetReloader(r Reloader) { pr.reloader = r }

// SetStrict makes per-file failures fail the task once the surviving outputs
// are written. One-shot builds are strict; watch sessions are not.
func (pr *PipelineRunner) SetStrict(strict bool) { pr.strict = strict }

// Compile builds every transform of def up front so option mistakes surface
// at load time, not on the first file change.
func (pr *PipelineRunner) Compile(def *target.Definition) (TaskFunc, error) {
	switch def.Kind {
	case target.KindClean:
		if pr.cleaner == nil {
			return nil, errors.Errorf("task %s: no cleaner configured", def.Name)
		}
		return func(ctx context.Context) error {
			for _, p := range def.Paths {
				if err := pr.cleaner.Clean(p); err != nil {
					return err
				}
				logger.FromContext(ctx).Info("Cleaned", "path", p)
			}
			return nil
		}, nil
	case target.KindPipeline:
	default:
		return nil, errors.Errorf("task %s: kind %s is not a pipeline", def.Name, def.Kind)
	}

	stages := make([]stage, 0, len(def.Steps))
	for i, step := range def.Steps {
		if step.IsDest() {
			stages = append(stages, stage{dest: step.Dest})
			continue
		}
		t, err := transform.New(step.Transform, step.Options, pr.deps)
		if err != nil {
			return nil, errors.Wrapf(err, "task %s step %d", def.Name, i+1)
		}
		stages = append(stages, stage{transform: t})
	}

	return func(ctx context.Context) error {
		return pr.run(ctx, def, stages)
	}, nil
}

// Sources resolves the file set of a pipeline as it is right now.
func (pr *PipelineRunner) Sources(def *target.Definition) ([]fs.Match, error) {
	return fs.Resolve(pr.fs, def.Sources, def.Base)
}

func (pr *PipelineRunner) run(ctx context.Context, def *target.Definition, stages []stage) error {
	log := logger.FromContext(ctx)

	files, err := pr.read(ctx, def)
	if err != nil {
		return err
	}
	log.Debug("Resolved sources", "files", len(files))

	var (
		fileErrs []error
		written  []string
	)
	report := func(err error) {
		fileErrs = append(fileErrs, err)
		pr.statusMgr.AppendLog(def.Name, err.Error())
		log.Error("Skipping file", "error", err)
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch t := st.transform.(type) {
		case nil:
			paths, err := pr.write(st.dest, files)
			if err != nil {
				return err
			}
			written = append(written, paths...)
		case transform.FileTransform:
			next := make([]*transform.File, 0, len(files))
			for _, f := range files {
				out, err := t.TransformFile(ctx, f)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					report(err)
					continue
				}
				if out != nil {
					next = append(next, out)
				}
			}
			files = next
		case transform.SetTransform:
			out, err := t.TransformSet(ctx, files)
			var perFile transform.FileErrors
			switch {
			case errors.As(err, &perFile):
				for _, e := range perFile {
					report(e)
				}
			case err != nil:
				return errors.Wrapf(err, "%s", t.Name())
			}
			files = out
		default:
			return errors.Errorf("transform %s is neither a file nor a set transform", st.transform.Name())
		}
	}

	pr.statusMgr.SetFiles(def.Name, len(written))
	pr.signal(def, written)

	if len(fileErrs) > 0 && pr.strict && !def.AllowFailure {
		return errors.Wrapf(multierr.Combine(fileErrs...), "%d file(s) failed", len(fileErrs))
	}
	return nil
}

func (pr *PipelineRunner) read(ctx context.Context, def *target.Definition) ([]*transform.File, error) {
	matches, err := pr.Sources(def)
	if err != nil {
		return nil, err
	}

	files := make([]*transform.File, 0, len(matches))
	for _, m := range matches {
		content, err := pr.fs.ReadFile(m.Path)
		if err != nil {
			if os.IsNotExist(err) {
				// deleted between glob and read
				continue
			}
			return nil, &FilesystemError{Op: "read", Path: m.Path, Err: err}
		}
		mode := os.FileMode(0644)
		if info, err := pr.fs.Stat(m.Path); err == nil && info != nil && info.Mode().Perm() != 0 {
			mode = info.Mode().Perm()
		}
		files = append(files, &transform.File{Rel: m.Rel, Contents: content, Mode: mode, Source: m.Path})
	}
	return files, nil
}

func (pr *PipelineRunner) write(dest string, files []*transform.File) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		rel := filepath.FromSlash(f.Rel)
		if !filepath.IsLocal(rel) {
			return paths, &FilesystemError{Op: "write", Path: filepath.Join(dest, rel), Err: errors.New("output path escapes the destination")}
		}
		out := filepath.Join(dest, rel)
		if err := fs.WriteFileAtomic(pr.fs, out, f.Contents, f.Mode); err != nil {
			return paths, &FilesystemError{Op: "write", Path: out, Err: err}
		}
		paths = append(paths, out)
	}
	return paths, nil
}

// signal tells connected browsers about new outputs. Stylesheets can be
// swapped in place; anything else needs a full reload.
func (pr *PipelineRunner) signal(def *target.Definition, written []string) {
	if pr.reloader == nil || len(written) == 0 {
		return
	}
	switch def.Reload {
	case target.ReloadFull:
		pr.reloader.Reload()
	case target.ReloadInject:
		for _, p := range written {
			if path.Ext(filepath.ToSlash(p)) != ".css" {
				pr.reloader.Reload()
				return
			}
		}
		for _, p := range written {
			pr.reloader.Inject("css", p)
		}
	}
}
