package transform

import (
	"bytes"
	"context"
	"os"

	"github.com/pkg/errors"
)

type concatOptions struct {
	File    string `mapstructure:"file"`
	Newline string `mapstructure:"newline"`
}

// concatTransform joins the stream, in stream order, into one file. Stream
// order is source-list order, so library dependency order survives.
type concatTransform struct {
	opts concatOptions
}

func newConcat(opts map[string]any, _ Deps) (Transform, error) {
	var o concatOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.File == "" {
		return nil, errors.New("concat needs a file name")
	}
	return &concatTransform{opts: o}, nil
}

func (t *concatTransform) Name() string { return "concat" }

// TransformSet emits nothing for an empty stream.
func (t *concatTransform) TransformSet(_ context.Context, files []*File) ([]*File, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for i, f := range files {
		if i > 0 {
			buf.WriteString(t.opts.Newline)
		}
		buf.Write(f.Contents)
	}

	mode := files[0].Mode
	if mode == 0 {
		mode = os.FileMode(0644)
	}
	return []*File{{Rel: t.opts.File, Contents: buf.Bytes(), Mode: mode}}, nil
}
