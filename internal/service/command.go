package service

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/example/carmenu/internal/config"
	"github.com/example/carmenu/internal/logging"
)

// executeCommand starts item's command without waiting for it to finish.
func executeCommand(ctx context.Context, item config.CatalogEntry) error {
	if item.Command == "" {
		return nil
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), item.Command, item.Arguments...)
	if item.WorkingDir != "" {
		cmd.Dir = item.WorkingDir
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", item.Command, err)
	}
	logging.Debugf("started %s (pid %d)", item.Command, cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Debugf("%s exited: %v", item.Command, err)
		}
	}()
	return nil
}
