//go:build unix

package truedlspeed

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// prepareProbe puts the probe in its own process group so cancellation
// takes down anything it spawned along with it.
func prepareProbe(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
		if err == unix.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}
}
