// Package transform holds the opaque stages of an asset pipeline. Each stage
// either calls a library or shells out to a tool; the pipeline runner only
// sees the interfaces below.
package transform

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/ZacxDev/assetooni/logger"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// File is one unit flowing through a pipeline. Rel is slash separated and
// relative to the pipeline base; destinations mirror it.
type File struct {
	Rel      string
	Contents []byte
	Mode     os.FileMode
	// Source is the path the file was read from, for error messages.
	Source string
}

func (f *File) Ext() string { return strings.ToLower(path.Ext(f.Rel)) }

func (f *File) Clone() *File {
	cp := *f
	cp.Contents = append([]byte(nil), f.Contents...)
	return &cp
}

// WithExt returns Rel with its extension replaced.
func (f *File) WithExt(ext string) string {
	return strings.TrimSuffix(f.Rel, path.Ext(f.Rel)) + ext
}

type Transform interface {
	Name() string
}

// FileTransform converts files one at a time. Returning a nil file with a
// nil error drops the file from the stream.
type FileTransform interface {
	Transform
	TransformFile(ctx context.Context, f *File) (*File, error)
}

// SetTransform sees the whole stream at once, in order.
type SetTransform interface {
	Transform
	TransformSet(ctx context.Context, files []*File) ([]*File, error)
}

// SourceSyntaxError means a source could not be parsed. The file's output is
// withheld; the rest of the stream carries on.
type SourceSyntaxError struct {
	Path string
	Tool string
	Err  error
}

func (e *SourceSyntaxError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Path, e.Err)
}

func (e *SourceSyntaxError) Unwrap() error { return e.Err }

// Command is an external tool invocation.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin []byte
}

type CommandRunner interface {
	Execute(ctx context.Context, cmd Command) ([]byte, error)
}

// Cache is a content addressed store for expensive results.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

type Deps struct {
	Exec  CommandRunner
	Cache Cache
	Log   logger.Logger
}

func (d Deps) logger() logger.Logger {
	if d.Log == nil {
		return logger.GetDefault()
	}
	return d.Log
}

type Factory func(opts map[string]any, deps Deps) (Transform, error)

var factories = map[string]Factory{
	"sass":       newSass,
	"autoprefix": newAutoprefix,
	"exec":       newExec,
	"minify":     newMinify,
	"concat":     newConcat,
	"rename":     newRename,
	"image":      newImage,
}

// New builds the named transform with its option set.
func New(name string, opts map[string]any, deps Deps) (Transform, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, errors.Errorf("unknown transform %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	t, err := factory(opts, deps)
	if err != nil {
		return nil, errors.Wrapf(err, "configuring transform %s", name)
	}
	return t, nil
}

func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeOptions fills out from a loosely typed option map. Keys the
// transform does not know are ignored.
func decodeOptions(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(in); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}
	return nil
}

// FileErrors is returned by a set transform alongside outputs that are still
// valid: only the listed files failed.
type FileErrors []error

func (e FileErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
