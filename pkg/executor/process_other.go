//go:build !unix

package executor

import (
	"os/exec"
	"time"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = time.Second
}
