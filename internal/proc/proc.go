// Package proc starts external helper commands (ffmpeg, model and voice
// runners) so that cancelling a request stops the whole process tree.
package proc

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output after the process
// tree has been killed.
const WaitDelay = 2 * time.Second

// CommandContext is exec.CommandContext with the command started in its own
// process group. When ctx ends the whole group is killed, so children of
// wrapper scripts do not hold the output pipes open.
func CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	prepareTree(cmd)
	cmd.Cancel = func() error { return killTree(cmd) }
	cmd.WaitDelay = WaitDelay
	return cmd
}
