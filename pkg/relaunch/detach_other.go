//go:build !unix && !windows

package relaunch

import "os/exec"

func detach(cmd *exec.Cmd) {}
