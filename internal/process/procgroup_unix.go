//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptGroup(pgid int) error {
	return signalGroup(pgid, syscall.SIGTERM)
}

func killGroup(pgid int) error {
	return signalGroup(pgid, syscall.SIGKILL)
}

// groupAlive reports whether any process, zombies included, is still in the group
func groupAlive(pgid int) bool {
	err := syscall.Kill(-pgid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// signalGroup signals every process in the group. A group with no
// remaining members counts as success.
func signalGroup(pgid int, sig syscall.Signal) error {
	err := syscall.Kill(-pgid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
