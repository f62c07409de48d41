//go:build unix

package executor

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcessGroup puts the worker in its own group so a timeout also
// kills anything it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
}
