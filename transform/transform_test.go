package transform

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	fn    func(cmd Command) ([]byte, error)
}

func (r *fakeRunner) Execute(_ context.Context, cmd Command) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(cmd)
	}
	return cmd.Stdin, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[key]
	if ok {
		c.hits++
	}
	return d, ok
}

func (c *mapCache) Put(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

func fileTransform(t *testing.T, name string, opts map[string]any, deps Deps) FileTransform {
	t.Helper()
	tr, err := New(name, opts, deps)
	require.NoError(t, err)
	ft, ok := tr.(FileTransform)
	require.True(t, ok, "%s is not a file transform", name)
	return ft
}

func TestNew_UnknownTransform(t *testing.T) {
	_, err := New("uglify", nil, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transform")
}

func TestMinify_CSSIsDeterministic(t *testing.T) {
	min := fileTransform(t, "minify", nil, Deps{})
	src := &File{Rel: "main.css", Contents: []byte("/*! keep? */\nbody {\n  color: #ff0000;\n  margin: 0px;\n}\n")}

	first, err := min.TransformFile(context.Background(), src)
	require.NoError(t, err)
	second, err := min.TransformFile(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, first.Contents, second.Contents)
	assert.NotContains(t, string(first.Contents), "keep?")
	assert.Less(t, len(first.Contents), len(src.Contents))
}

func TestMinify_KeepSpecialComments(t *testing.T) {
	min := fileTransform(t, "minify", map[string]any{"keep_special_comments": true}, Deps{})
	src := &File{Rel: "main.css", Contents: []byte("/*! license */\nbody { color: red; }\n")}

	out, err := min.TransformFile(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, string(out.Contents), "license")
}

func TestMinify_JSSyntaxError(t *testing.T) {
	min := fileTransform(t, "minify", nil, Deps{})

	_, err := min.TransformFile(context.Background(), &File{Rel: "broken.js", Contents: []byte("function ( {")})
	var syntaxErr *SourceSyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, "broken.js", syntaxErr.Path)
}

func TestMinify_PassesThroughUnknownTypes(t *testing.T) {
	min := fileTransform(t, "minify", map[string]any{"type": "css"}, Deps{})
	src := &File{Rel: "app.js", Contents: []byte("var  a = 1 ;")}

	out, err := min.TransformFile(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src.Contents, out.Contents)
}

func TestConcat_PreservesOrderThenMinify(t *testing.T) {
	tr, err := New("concat", map[string]any{"file": "libs.min.js"}, Deps{})
	require.NoError(t, err)
	concat := tr.(SetTransform)

	a := &File{Rel: "jquery/jquery.min.js", Contents: []byte("var a = 1;\n")}
	b := &File{Rel: "wow/wow.min.js", Contents: []byte("var b = 2;\n")}
	c := &File{Rel: "slick/slick.min.js", Contents: []byte("var c = 3;\n")}

	out, err := concat.TransformSet(context.Background(), []*File{a, b, c})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "libs.min.js", out[0].Rel)
	assert.Equal(t, "var a = 1;\nvar b = 2;\nvar c = 3;\n", string(out[0].Contents))

	min := fileTransform(t, "minify", nil, Deps{})
	minified, err := min.TransformFile(context.Background(), out[0])
	require.NoError(t, err)
	s := string(minified.Contents)
	assert.Less(t, strings.Index(s, "a=1"), strings.Index(s, "b=2"))
	assert.Less(t, strings.Index(s, "b=2"), strings.Index(s, "c=3"))
}

func TestConcat_EmptyStream(t *testing.T) {
	tr, err := New("concat", map[string]any{"file": "libs.min.js"}, Deps{})
	require.NoError(t, err)

	out, err := tr.(SetTransform).TransformSet(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConcat_RequiresFile(t *testing.T) {
	_, err := New("concat", nil, Deps{})
	assert.Error(t, err)
}

func TestRename(t *testing.T) {
	cases := []struct {
		opts map[string]any
		in   string
		want string
	}{
		{map[string]any{"suffix": ".min"}, "nested/main.css", "nested/main.min.css"},
		{map[string]any{"prefix": "x-", "extname": ".scss"}, "a.css", "x-a.scss"},
		{map[string]any{"basename": "bundle", "dirname": "out"}, "lib/a.js", "out/bundle.js"},
	}
	for _, tc := range cases {
		rn := fileTransform(t, "rename", tc.opts, Deps{})
		out, err := rn.TransformFile(context.Background(), &File{Rel: tc.in})
		require.NoError(t, err)
		assert.Equal(t, tc.want, out.Rel)
	}
}

func TestSass_BuildsCommandAndRenames(t *testing.T) {
	runner := &fakeRunner{fn: func(cmd Command) ([]byte, error) {
		return []byte("body{color:red}"), nil
	}}
	sass := fileTransform(t, "sass", nil, Deps{Exec: runner})

	out, err := sass.TransformFile(context.Background(), &File{
		Rel:      "pages/main.sass",
		Source:   "app/sass/pages/main.sass",
		Contents: []byte("body\n  color: red\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pages/main.css", out.Rel)
	assert.Equal(t, "body{color:red}", string(out.Contents))

	require.Len(t, runner.calls, 1)
	cmd := runner.calls[0]
	assert.Equal(t, "sass", cmd.Name)
	assert.Contains(t, cmd.Args, "--stdin")
	assert.Contains(t, cmd.Args, "--indented")
	assert.Contains(t, cmd.Args, "--load-path=app/sass/pages")
	assert.Equal(t, "body\n  color: red\n", string(cmd.Stdin))
}

func TestSass_SkipsPartialsAndReportsErrors(t *testing.T) {
	runner := &fakeRunner{fn: func(cmd Command) ([]byte, error) {
		return nil, errors.New("Error: expected \"}\"")
	}}
	sass := fileTransform(t, "sass", nil, Deps{Exec: runner})

	out, err := sass.TransformFile(context.Background(), &File{Rel: "_vars.scss"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, runner.calls)

	_, err = sass.TransformFile(context.Background(), &File{Rel: "main.scss", Contents: []byte("a {")})
	var syntaxErr *SourceSyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, "sass", syntaxErr.Tool)
}

func TestAutoprefix_SetsBrowserslist(t *testing.T) {
	runner := &fakeRunner{}
	ap := fileTransform(t, "autoprefix", map[string]any{"browsers": []any{"last 5 versions", "> 1%"}}, Deps{Exec: runner})

	_, err := ap.TransformFile(context.Background(), &File{Rel: "main.css", Contents: []byte("a{}")})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "postcss", runner.calls[0].Name)
	assert.Equal(t, []string{"BROWSERSLIST=last 5 versions, > 1%"}, runner.calls[0].Env)

	_, err = ap.TransformFile(context.Background(), &File{Rel: "main.js"})
	require.NoError(t, err)
	assert.Len(t, runner.calls, 1)
}

func TestExec_RequiresCommand(t *testing.T) {
	_, err := New("exec", map[string]any{}, Deps{Exec: &fakeRunner{}})
	assert.Error(t, err)
}
