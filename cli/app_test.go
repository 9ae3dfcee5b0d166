package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZacxDev/assetooni/executor"
	"github.com/ZacxDev/assetooni/fs/mock"
	"github.com/ZacxDev/assetooni/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExec stands in for external tools by passing input through.
type echoExec struct{}

func (echoExec) Execute(_ context.Context, cmd transform.Command) ([]byte, error) {
	return cmd.Stdin, nil
}

const project = `
config = {
    "styles": task(
        src = "app/sass/**/*.sass",
        steps = [step("sass"), dest("app/css"), "minify", step("rename", suffix = ".min"), dest("app/css")],
        reload = "inject",
    ),
    "html": task(src = "app/*.html", steps = [dest("dist")]),
    "copy-css": task(src = "app/css/*.min.css", steps = [dest("dist/css")]),
    "clean": clean("dist"),
    "build": series("clean", "styles", "html", "copy-css"),
    "default": parallel("styles", "serve", "watch"),
}
watch = {"app/sass/**/*.sass": "styles", "app/*.html": "reload"}
server = {"port": 0}
`

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assetooni.star")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func newTestApp(t *testing.T, src string) (*App, *mock.MockFileSystem) {
	t.Helper()
	m := mock.NewMockFileSystem()
	app, err := NewApp(Options{ConfigFile: writeConfig(t, src), FS: m, Exec: echoExec{}})
	require.NoError(t, err)
	return app, m
}

func TestNewApp_RegistersEverything(t *testing.T) {
	app, _ := newTestApp(t, project)

	assert.Equal(t,
		[]string{"build", "clean", "copy-css", "default", "html", "serve", "styles", "watch"},
		app.Registry.Names())
	assert.Equal(t, "default", app.Project.Default)
}

func TestApp_Build(t *testing.T) {
	app, m := newTestApp(t, project)
	require.NoError(t, m.WriteFile("app/sass/main.sass", []byte("body { color: red; }"), 0644))
	require.NoError(t, m.WriteFile("app/index.html", []byte("<p>hi</p>"), 0644))
	require.NoError(t, m.WriteFile("dist/stale.txt", []byte("old"), 0644))

	require.NoError(t, app.Run(context.Background(), Mode{Strict: true, Prune: true}, "build"))

	var dist []string
	for _, p := range m.Paths() {
		if strings.HasPrefix(p, "dist/") {
			dist = append(dist, p)
		}
	}
	assert.Equal(t, []string{"dist/css/main.min.css", "dist/index.html"}, dist)
	assert.Equal(t, "body{color:red}", m.Contents("dist/css/main.min.css"))

	snapshot := app.Status.Snapshot()
	for _, name := range []string{"build", "clean", "styles", "html", "copy-css"} {
		assert.Equal(t, executor.StatusCompleted, snapshot[name].Status, name)
	}
}

func TestApp_RunUnknownTask(t *testing.T) {
	app, _ := newTestApp(t, project)

	err := app.Run(context.Background(), Mode{Strict: true}, "nope")
	assert.ErrorIs(t, err, executor.ErrTaskNotFound)
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"unknown child", `config = {"b": series("a")}`, executor.ErrTaskNotFound},
		{"cycle", `config = {"a": series("b"), "b": series("a")}`, executor.ErrCycle},
		{"shadows builtin", `config = {"serve": clean("dist")}`, executor.ErrDuplicateTask},
		{"unknown watch task", `config = {}
watch = {"*.x": "missing"}`, executor.ErrTaskNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewApp(Options{ConfigFile: writeConfig(t, tt.src), FS: mock.NewMockFileSystem(), Exec: echoExec{}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewApp_BadTransformOptions(t *testing.T) {
	_, err := NewApp(Options{
		ConfigFile: writeConfig(t, `config = {"js": task(src = "a/*.js", steps = [step("concat")])}`),
		FS:         mock.NewMockFileSystem(),
		Exec:       echoExec{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registering js")
}

func TestApp_ListTasks(t *testing.T) {
	app, m := newTestApp(t, project)
	require.NoError(t, m.WriteFile("app/index.html", []byte("<p>hi</p>"), 0644))

	var out bytes.Buffer
	require.NoError(t, app.ListTasks(&out))

	text := out.String()
	assert.Contains(t, text, "clean -> styles -> html -> copy-css")
	assert.Contains(t, text, "styles | serve | watch")
	assert.Contains(t, text, "removes dist")
	assert.Contains(t, text, "sources: app/*.html (1 files)")
	assert.Contains(t, text, "app/index.html")
	assert.Contains(t, text, "app/sass/**/*.sass -> styles")
}

// sassExec fails on sources containing "ERR" and echoes the rest.
type sassExec struct{}

func (sassExec) Execute(_ context.Context, cmd transform.Command) ([]byte, error) {
	if strings.Contains(string(cmd.Stdin), "ERR") {
		return nil, errors.New("Error: expected expression")
	}
	return cmd.Stdin, nil
}

func TestApp_RunStrictAndLenient(t *testing.T) {
	m := mock.NewMockFileSystem()
	app, err := NewApp(Options{ConfigFile: writeConfig(t, project), FS: m, Exec: sassExec{}})
	require.NoError(t, err)
	require.NoError(t, m.WriteFile("app/sass/good.sass", []byte("a { b: c; }"), 0644))
	require.NoError(t, m.WriteFile("app/sass/bad.sass", []byte("ERR"), 0644))

	err = app.Run(context.Background(), Mode{Strict: true}, "styles")
	var syntaxErr *transform.SourceSyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, executor.StatusFailed, app.Status.Snapshot()["styles"].Status)

	require.NoError(t, app.Run(context.Background(), Mode{Strict: false}, "styles"))
	assert.Equal(t, executor.StatusCompleted, app.Status.Snapshot()["styles"].Status)
	assert.NotEmpty(t, m.Contents("app/css/good.min.css"))
	assert.Empty(t, m.Contents("app/css/bad.css"))
}

func TestRootCmd_RunKeepGoing(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	require.NoError(t, os.MkdirAll(dir+"/app", 0755))
	require.NoError(t, os.WriteFile(dir+"/app/good.js", []byte("var answer = 42;"), 0644))
	require.NoError(t, os.WriteFile(dir+"/app/broken.js", []byte("function ( {"), 0644))
	cfg := writeConfig(t, `config = {"js": task(src = "`+dir+`/app/*.js", steps = ["minify", dest("`+dir+`/out")])}`)

	run := func(extra ...string) error {
		cmd := RootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"run", "js", "--no-cache", "--log-level", "error", "--config", cfg}, extra...))
		return cmd.Execute()
	}

	require.Error(t, run())
	require.NoError(t, run("--keep-going"))

	_, err := os.Stat(dir + "/out/good.js")
	assert.NoError(t, err)
	_, err = os.Stat(dir + "/out/broken.js")
	assert.True(t, os.IsNotExist(err))
}

func TestRootCmd(t *testing.T) {
	cmd := RootCmd()
	for _, name := range []string{"config", "log-level", "json-logs", "port", "ui", "no-cache"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	cmd.SetArgs([]string{"run"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestRootCmd_RunWithConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "a.txt"), []byte("a"), 0644))
	cfg := `config = {"copy": task(src = "` + filepath.ToSlash(dir) + `/app/*.txt", steps = [dest("` + filepath.ToSlash(dir) + `/out")])}`

	cmd := RootCmd()
	cmd.SetArgs([]string{"run", "copy", "--no-cache", "--log-level", "error", "--config", writeConfig(t, cfg)})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(dir, "out", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestStopped(t *testing.T) {
	live := context.Background()
	assert.ErrorIs(t, stopped(live, context.Canceled), context.Canceled)

	ctx, cancel := context.WithCancel(live)
	cancel()
	assert.NoError(t, stopped(ctx, context.Canceled))
	assert.NoError(t, stopped(ctx, &executor.AggregateError{Errors: []error{context.Canceled}}))
	assert.EqualError(t, stopped(ctx, assert.AnError), assert.AnError.Error())
}
