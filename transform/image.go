package transform

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
	"golang.org/x/sync/errgroup"
)

type imageOptions struct {
	MinQuality      int      `mapstructure:"min_quality"`
	MaxQuality      int      `mapstructure:"max_quality"`
	QuantizeCommand string   `mapstructure:"quantize_command"`
	QuantizeArgs    []string `mapstructure:"quantize_args"`
	Speed           int      `mapstructure:"speed"`
	Concurrency     int      `mapstructure:"concurrency"`
	NoCache         bool     `mapstructure:"no_cache"`
}

// imageTransform runs lossless optimization, then lossy recompression inside
// [MinQuality, MaxQuality]. An image never grows: each stage keeps the
// smaller of its input and output.
type imageTransform struct {
	opts   imageOptions
	runner CommandRunner
	cache  Cache
	svg    *minify.M
	deps   Deps
}

func newImage(opts map[string]any, deps Deps) (Transform, error) {
	o := imageOptions{MinQuality: 65, MaxQuality: 70, Speed: 5}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.MinQuality < 1 || o.MaxQuality > 100 || o.MinQuality > o.MaxQuality {
		return nil, errors.Errorf("invalid quality band %d-%d", o.MinQuality, o.MaxQuality)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.QuantizeCommand != "" && deps.Exec == nil {
		return nil, errors.New("quantize_command needs a command runner")
	}

	m := minify.New()
	m.Add("image/svg+xml", &svg.Minifier{})

	t := &imageTransform{opts: o, runner: deps.Exec, svg: m, deps: deps}
	if !o.NoCache {
		t.cache = deps.Cache
	}
	return t, nil
}

func (t *imageTransform) Name() string { return "image" }

// TransformSet compresses every image independently. A failing image is
// reported in FileErrors and left out; the others are unaffected.
func (t *imageTransform) TransformSet(ctx context.Context, files []*File) ([]*File, error) {
	results := make([]*File, len(files))
	var (
		failed FileErrors
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			out, err := t.process(gctx, f)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				return nil
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*File, 0, len(files))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(failed) > 0 {
		return out, failed
	}
	return out, nil
}

func (t *imageTransform) cacheKey(f *File) string {
	h := sha256.New()
	h.Write(f.Contents)
	fmt.Fprintf(h, "|%s|%d-%d|%s|%s|%d", f.Ext(), t.opts.MinQuality, t.opts.MaxQuality,
		t.opts.QuantizeCommand, strings.Join(t.opts.QuantizeArgs, " "), t.opts.Speed)
	return hex.EncodeToString(h.Sum(nil))
}

func (t *imageTransform) process(ctx context.Context, f *File) (*File, error) {
	switch f.Ext() {
	case ".jpg", ".jpeg", ".png", ".gif", ".svg":
	default:
		return f, nil
	}

	var key string
	if t.cache != nil {
		key = t.cacheKey(f)
		if data, ok := t.cache.Get(key); ok {
			result := f.Clone()
			result.Contents = data
			return result, nil
		}
	}

	var (
		out []byte
		err error
	)
	switch f.Ext() {
	case ".jpg", ".jpeg":
		out, err = t.jpeg(f.Contents)
	case ".png":
		out, err = t.png(ctx, f.Contents)
	case ".gif":
		out, err = t.gif(f.Contents)
	case ".svg":
		out, err = t.svgMinify(f.Contents)
	}
	if err != nil {
		return nil, &SourceSyntaxError{Path: sourceOf(f), Tool: "image", Err: err}
	}

	if t.cache != nil {
		if err := t.cache.Put(key, out); err != nil {
			t.deps.logger().Warn("Failed to cache image", "file", f.Rel, "error", err)
		}
	}

	result := f.Clone()
	result.Contents = out
	return result, nil
}

func smaller(a, b []byte) []byte {
	if len(b) < len(a) {
		return b
	}
	return a
}

// jpeg has no lossless stage here; the lossy stage picks the highest quality
// in the band that actually shrinks the file.
func (t *imageTransform) jpeg(data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for q := t.opts.MaxQuality; q >= t.opts.MinQuality; q-- {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, err
		}
		if buf.Len() < len(data) {
			return buf.Bytes(), nil
		}
	}
	return data, nil
}

func (t *imageTransform) png(ctx context.Context, data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	best := smaller(data, buf.Bytes())

	if t.opts.QuantizeCommand == "" {
		return best, nil
	}
	args := append([]string{
		fmt.Sprintf("--quality=%d-%d", t.opts.MinQuality, t.opts.MaxQuality),
		fmt.Sprintf("--speed=%d", t.opts.Speed),
	}, t.opts.QuantizeArgs...)
	args = append(args, "-")
	quantized, err := t.runner.Execute(ctx, Command{Name: t.opts.QuantizeCommand, Args: args, Stdin: best})
	if err != nil {
		// pngquant refuses when the band cannot be met; the lossless result stands.
		t.deps.logger().Debug("Quantizer skipped image", "error", err)
		return best, nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(quantized)); err != nil {
		return best, nil
	}
	return smaller(best, quantized), nil
}

func (t *imageTransform) gif(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, err
	}
	return smaller(data, buf.Bytes()), nil
}

func (t *imageTransform) svgMinify(data []byte) ([]byte, error) {
	out, err := t.svg.Bytes("image/svg+xml", data)
	if err != nil {
		return nil, err
	}
	return smaller(data, out), nil
}
