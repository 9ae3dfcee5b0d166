package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/ZacxDev/assetooni/transform"
	"github.com/pkg/errors"
)

// CommandExecutor interface for dependency injection and improved testability
type CommandExecutor interface {
	Execute(ctx context.Context, cmd transform.Command) ([]byte, error)
}

// RealCommandExecutor implements CommandExecutor interface using actual OS calls.
// Stdout is the result; stderr only shows up in the error.
type RealCommandExecutor struct{}

var _ transform.CommandRunner = RealCommandExecutor{}

func (RealCommandExecutor) Execute(ctx context.Context, c transform.Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, errors.Wrapf(err, "running %s", c.Name)
		}
		return nil, errors.Wrapf(err, "running %s: %s", c.Name, msg)
	}
	return stdout.Bytes(), nil
}
