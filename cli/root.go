package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZacxDev/assetooni/config"
	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const uiLogFile = "assetooni-debug.log"

type rootFlags struct {
	configFile string
	logLevel   string
	jsonLogs   bool
	port       int
	ui         bool
	noCache    bool
}

func RootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "assetooni",
		Short: "Build, serve and watch front-end assets",
		Long: "assetooni runs the asset tasks described in " + config.DefaultFile + ".\n" +
			"Without a subcommand it runs the default task: build, serve and watch.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd, "", Mode{}, nil)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", config.DefaultFile, "Path to the project config")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.jsonLogs, "json-logs", false, "Log as JSON")
	pf.IntVarP(&flags.port, "port", "p", 0, "Dev server port (overrides the config)")
	pf.BoolVar(&flags.ui, "ui", false, "Show a live status board instead of log lines")
	pf.BoolVar(&flags.noCache, "no-cache", false, "Do not read or write the transform cache")

	root.AddCommand(
		buildCmd(flags),
		cleanCmd(flags),
		runCmd(flags),
		tasksCmd(flags),
	)
	return root
}

func buildCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the production build once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd, "Build", Mode{Strict: true, Prune: true}, []string{"build"})
		},
	}
}

func cleanCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove build output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd, "Clean", Mode{Strict: true}, []string{"clean"})
		},
	}
}

func runCmd(flags *rootFlags) *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:   "run <task>...",
		Short: "Run tasks by name, one after the other",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "Run", Mode{Strict: !lenient}, args)
		},
	}
	cmd.Flags().BoolVar(&lenient, "keep-going", false, "Log files that fail to process instead of failing the task")
	return cmd
}

func (f *rootFlags) setupLogger(out io.Writer) error {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LogLevel(strings.ToLower(f.logLevel))
	cfg.JSON = f.jsonLogs
	if out != nil {
		cfg.Output = out
	}
	switch cfg.Level {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel:
	default:
		return errors.Errorf("unknown log level %q", f.logLevel)
	}
	logger.Init(cfg)
	return nil
}

func (f *rootFlags) load() (*App, error) {
	return NewApp(Options{
		ConfigFile: f.configFile,
		NoCache:    f.noCache,
		Port:       f.port,
	})
}

// run loads the project and runs names, or the project's default task when
// names is empty.
func (f *rootFlags) run(cmd *cobra.Command, title string, mode Mode, names []string) error {
	var logOut io.Writer
	if f.ui {
		file, err := os.OpenFile(uiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "opening ui log file")
		}
		defer file.Close()
		logOut = file
	}
	if err := f.setupLogger(logOut); err != nil {
		return err
	}

	app, err := f.load()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = []string{app.Project.Default}
		title = "Dev"
	}

	ctx := logger.ContextWithLogger(cmd.Context(), logger.GetDefault())
	if !f.ui {
		return stopped(ctx, app.Run(ctx, mode, names...))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx, mode, names...)
		cancel()
	}()

	if err := ui.Run(ctx, fmt.Sprintf("assetooni %s: %s", strings.ToLower(title), strings.Join(names, ", ")), app.Status); err != nil {
		cancel()
		<-done
		return errors.Wrap(err, "status board")
	}
	// quitting the board stops the run
	cancel()
	return stopped(ctx, <-done)
}

// stopped drops the cancellation error of a run the user interrupted.
func stopped(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
