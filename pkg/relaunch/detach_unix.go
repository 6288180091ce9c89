//go:build unix

package relaunch

import (
	"os/exec"
	"syscall"
)

// detach puts the script in its own session so it outlives this process.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
