package devserver

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/ZacxDev/assetooni/logger"
)

func openBrowser(ctx context.Context, url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.FromContext(ctx).Debug("No browser to open", "error", err)
		return
	}
	go func() { _ = cmd.Wait() }()
}
