//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the agent in its own process group so the whole tree
// can be killed at once
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the agent and every process it spawned
func killTree(pid int) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
