package transform

import (
	"context"
	"path"
	"strings"
)

type renameOptions struct {
	Dirname  *string `mapstructure:"dirname"`
	Basename *string `mapstructure:"basename"`
	Prefix   string  `mapstructure:"prefix"`
	Suffix   string  `mapstructure:"suffix"`
	Extname  *string `mapstructure:"extname"`
}

type renameTransform struct {
	opts renameOptions
}

func newRename(opts map[string]any, _ Deps) (Transform, error) {
	var o renameOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	return &renameTransform{opts: o}, nil
}

func (t *renameTransform) Name() string { return "rename" }

// TransformFile rewrites dir/prefix+base+suffix.ext, like gulp-rename.
func (t *renameTransform) TransformFile(_ context.Context, f *File) (*File, error) {
	dir, file := path.Split(f.Rel)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)

	if t.opts.Dirname != nil {
		dir = *t.opts.Dirname
	}
	if t.opts.Basename != nil {
		base = *t.opts.Basename
	}
	if t.opts.Extname != nil {
		ext = *t.opts.Extname
	}

	result := f.Clone()
	result.Rel = path.Join(dir, t.opts.Prefix+base+t.opts.Suffix+ext)
	return result, nil
}
