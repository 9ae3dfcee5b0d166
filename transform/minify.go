package transform

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

var mediaTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".svg":  "image/svg+xml",
	".html": "text/html",
	".htm":  "text/html",
}

var specialComment = regexp.MustCompile(`(?s)/\*!.*?\*/\n?`)

type minifyOptions struct {
	// Type forces a media type family (css, js, svg, html); empty picks by extension.
	Type                string `mapstructure:"type"`
	Precision           int    `mapstructure:"precision"`
	KeepSpecialComments bool   `mapstructure:"keep_special_comments"`
}

type minifyTransform struct {
	m    *minify.M
	opts minifyOptions
}

func newMinify(opts map[string]any, _ Deps) (Transform, error) {
	var o minifyOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	switch o.Type {
	case "", "css", "js", "svg", "html":
	default:
		return nil, errors.Errorf("unsupported minify type %q", o.Type)
	}

	m := minify.New()
	m.Add("text/css", &css.Minifier{Precision: o.Precision})
	m.Add("application/javascript", &js.Minifier{})
	m.Add("image/svg+xml", &svg.Minifier{Precision: o.Precision})
	m.Add("text/html", &html.Minifier{KeepDocumentTags: true, KeepEndTags: true, KeepQuotes: true})

	return &minifyTransform{m: m, opts: o}, nil
}

func (t *minifyTransform) Name() string { return "minify" }

func (t *minifyTransform) mediaType(f *File) (string, bool) {
	if t.opts.Type != "" {
		want := map[string]string{
			"css":  "text/css",
			"js":   "application/javascript",
			"svg":  "image/svg+xml",
			"html": "text/html",
		}[t.opts.Type]
		return want, mediaTypes[f.Ext()] == want
	}
	mt, ok := mediaTypes[f.Ext()]
	return mt, ok
}

func (t *minifyTransform) TransformFile(_ context.Context, f *File) (*File, error) {
	mt, ok := t.mediaType(f)
	if !ok {
		return f, nil
	}

	out, err := t.m.Bytes(mt, f.Contents)
	if err != nil {
		return nil, &SourceSyntaxError{Path: sourceOf(f), Tool: "minify", Err: err}
	}
	if mt == "text/css" && !t.opts.KeepSpecialComments {
		out = specialComment.ReplaceAll(out, nil)
	}

	result := f.Clone()
	result.Contents = out
	return result, nil
}
