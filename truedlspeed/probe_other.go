//go:build !unix

package truedlspeed

import (
	"os/exec"
)

// prepareProbe keeps exec's default cancellation, which kills the process.
func prepareProbe(cmd *exec.Cmd) {}
