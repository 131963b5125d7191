//go:build !darwin && !linux

package lifecycle

import "os/exec"

func helperCommand() *exec.Cmd {
	return nil
}
