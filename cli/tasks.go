package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZacxDev/assetooni/target"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	nameStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

func tasksCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks and the files they would read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.setupLogger(nil); err != nil {
				return err
			}
			app, err := flags.load()
			if err != nil {
				return err
			}
			return app.ListTasks(cmd.OutOrStdout())
		},
	}
}

// ListTasks prints every registered task with its kind and what it reads
// or runs.
func (a *App) ListTasks(w io.Writer) error {
	for _, name := range a.Registry.Names() {
		def, ok := a.Project.Tasks[name]
		if !ok {
			def = &target.Definition{Name: name, Kind: target.KindBuiltin}
		}

		header := nameStyle.Render(name) + " " + kindStyle.Render("("+string(def.Kind)+")")
		if name == a.Project.Default {
			header += kindStyle.Render(" default")
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}

		for _, line := range a.describe(def) {
			if _, err := fmt.Fprintln(w, "  "+line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) describe(def *target.Definition) []string {
	switch def.Kind {
	case target.KindSeries:
		return []string{strings.Join(def.Children, " -> ")}
	case target.KindParallel:
		return []string{strings.Join(def.Children, " | ")}
	case target.KindClean:
		return []string{"removes " + strings.Join(def.Paths, ", ")}
	case target.KindBuiltin:
		if def.Name == TaskServe {
			return []string{fmt.Sprintf("serves %s on %s:%d", a.Project.Server.Root, a.Project.Server.Host, a.Project.Server.Port)}
		}
		var patterns []string
		for _, b := range a.Project.Watch {
			patterns = append(patterns, b.Pattern+" -> "+b.Action)
		}
		sort.Strings(patterns)
		return patterns
	}

	var lines []string
	var steps []string
	for _, s := range def.Steps {
		if s.IsDest() {
			steps = append(steps, "dest "+s.Dest)
		} else {
			steps = append(steps, s.Transform)
		}
	}
	lines = append(lines, "steps: "+strings.Join(steps, " -> "))

	matches, err := a.Pipelines.Sources(def)
	if err != nil {
		return append(lines, errorStyle.Render(err.Error()))
	}
	lines = append(lines, fmt.Sprintf("sources: %s (%d files)", strings.Join(def.Sources, ", "), len(matches)))
	for _, m := range matches {
		lines = append(lines, "  "+m.Path)
	}
	return lines
}
