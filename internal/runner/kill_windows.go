//go:build windows

package runner

import (
	"fmt"
	"os/exec"
)

func setProcGroup(cmd *exec.Cmd) {}

// killTree kills the agent and every process it spawned
func killTree(pid int) error {
	return exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", pid)).Run()
}
