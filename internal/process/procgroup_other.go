//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

// Process groups are not available; only the direct child is signalled.

func setProcessGroup(cmd *exec.Cmd) {}

func groupAlive(pid int) bool {
	return false
}

func interruptGroup(pid int) error {
	return killGroup(pid)
}

func killGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
