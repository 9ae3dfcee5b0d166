package transform

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// execTransform pipes each file through an external tool on stdin/stdout.
type execTransform struct {
	name    string
	runner  CommandRunner
	command func(f *File) (Command, bool)
	outExt  string
	// partials are consumed by imports and never emitted
	skipPartials bool
}

func (t *execTransform) Name() string { return t.name }

func (t *execTransform) TransformFile(ctx context.Context, f *File) (*File, error) {
	if t.skipPartials && strings.HasPrefix(path.Base(f.Rel), "_") {
		return nil, nil
	}
	cmd, ok := t.command(f)
	if !ok {
		return f, nil
	}
	cmd.Stdin = f.Contents

	out, err := t.runner.Execute(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SourceSyntaxError{Path: sourceOf(f), Tool: t.name, Err: err}
	}

	result := f.Clone()
	result.Contents = out
	if t.outExt != "" {
		result.Rel = f.WithExt(t.outExt)
	}
	return result, nil
}

func sourceOf(f *File) string {
	if f.Source != "" {
		return f.Source
	}
	return f.Rel
}

type sassOptions struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Style     string   `mapstructure:"style"`
	LoadPaths []string `mapstructure:"load_paths"`
}

func newSass(opts map[string]any, deps Deps) (Transform, error) {
	o := sassOptions{Command: "sass", Style: "expanded"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if deps.Exec == nil {
		return nil, errors.New("sass needs a command runner")
	}
	return &execTransform{
		name:         "sass",
		runner:       deps.Exec,
		outExt:       ".css",
		skipPartials: true,
		command: func(f *File) (Command, bool) {
			ext := f.Ext()
			if ext != ".sass" && ext != ".scss" {
				return Command{}, false
			}
			args := []string{"--stdin", "--no-source-map", "--style=" + o.Style}
			if ext == ".sass" {
				args = append(args, "--indented")
			}
			if f.Source != "" {
				args = append(args, "--load-path="+filepath.Dir(f.Source))
			}
			for _, p := range o.LoadPaths {
				args = append(args, "--load-path="+p)
			}
			args = append(args, o.Args...)
			return Command{Name: o.Command, Args: args}, true
		},
	}, nil
}

type autoprefixOptions struct {
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
	Browsers []string `mapstructure:"browsers"`
}

func newAutoprefix(opts map[string]any, deps Deps) (Transform, error) {
	o := autoprefixOptions{Command: "postcss", Browsers: []string{"last 5 versions"}}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if deps.Exec == nil {
		return nil, errors.New("autoprefix needs a command runner")
	}
	return &execTransform{
		name:   "autoprefix",
		runner: deps.Exec,
		command: func(f *File) (Command, bool) {
			if f.Ext() != ".css" {
				return Command{}, false
			}
			args := append([]string{"--use", "autoprefixer", "--no-map"}, o.Args...)
			return Command{
				Name: o.Command,
				Args: args,
				Env:  []string{"BROWSERSLIST=" + strings.Join(o.Browsers, ", ")},
			}, true
		},
	}, nil
}

type execOptions struct {
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	Env        []string `mapstructure:"env"`
	Ext        string   `mapstructure:"ext"`
	Extensions []string `mapstructure:"extensions"`
}

func newExec(opts map[string]any, deps Deps) (Transform, error) {
	var o execOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Command == "" {
		return nil, errors.New("exec needs a command")
	}
	if deps.Exec == nil {
		return nil, errors.New("exec needs a command runner")
	}
	return &execTransform{
		name:   "exec",
		runner: deps.Exec,
		outExt: o.Ext,
		command: func(f *File) (Command, bool) {
			if len(o.Extensions) > 0 && !containsFold(o.Extensions, f.Ext()) {
				return Command{}, false
			}
			return Command{Name: o.Command, Args: o.Args, Env: o.Env}, true
		},
	}, nil
}

func containsFold(list []string, ext string) bool {
	for _, e := range list {
		if strings.EqualFold(strings.TrimPrefix(e, "."), strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}
