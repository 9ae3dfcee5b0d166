package config

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Builtins are predeclared in every config file and every loaded module.
// Each one returns a plain dict, so a config can also spell tasks out by hand.
func Builtins() starlark.StringDict {
	return starlark.StringDict{
		"task":     starlark.NewBuiltin("task", taskBuiltin),
		"step":     starlark.NewBuiltin("step", stepBuiltin),
		"dest":     starlark.NewBuiltin("dest", destBuiltin),
		"series":   starlark.NewBuiltin("series", compositeBuiltin(keySeries)),
		"parallel": starlark.NewBuiltin("parallel", compositeBuiltin(keyParallel)),
		"clean":    starlark.NewBuiltin("clean", compositeBuiltin(keyClean)),
	}
}

const (
	keySeries   = "series"
	keyParallel = "parallel"
	keyClean    = "clean"
)

func newDict(pairs ...any) *starlark.Dict {
	d := starlark.NewDict(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		d.SetKey(starlark.String(pairs[i].(string)), pairs[i+1].(starlark.Value))
	}
	return d
}

// task(src, steps=[], base="", reload="", allow_failure=False)
func taskBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		src          starlark.Value
		steps        *starlark.List = starlark.NewList(nil)
		base         string
		reload       string
		allowFailure bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"src", &src,
		"steps?", &steps,
		"base?", &base,
		"reload?", &reload,
		"allow_failure?", &allowFailure,
	); err != nil {
		return nil, err
	}

	switch src.(type) {
	case starlark.String, *starlark.List, starlark.Tuple:
	default:
		return nil, fmt.Errorf("%s: src must be a string or a list, got %s", b.Name(), src.Type())
	}

	return newDict(
		"src", src,
		"steps", steps,
		"base", starlark.String(base),
		"reload", starlark.String(reload),
		"allow_failure", starlark.Bool(allowFailure),
	), nil
}

// step(name, **options)
func stepBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
		return nil, err
	}

	options := starlark.NewDict(len(kwargs))
	for _, kv := range kwargs {
		options.SetKey(kv[0], kv[1])
	}
	return newDict("transform", starlark.String(name), "options", options), nil
}

// dest(path)
func destBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return newDict("dest", starlark.String(path)), nil
}

// series(*names), parallel(*names) and clean(*paths) all take a flat list of strings.
func compositeBuiltin(key string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: needs at least one argument", b.Name())
		}
		items := make([]starlark.Value, len(args))
		for i, arg := range args {
			if _, ok := arg.(starlark.String); !ok {
				return nil, fmt.Errorf("%s: argument %d must be a string, got %s", b.Name(), i+1, arg.Type())
			}
			items[i] = arg
		}
		return newDict(key, starlark.NewList(items)), nil
	}
}
