package lifecycle

import (
	"os"
	"os/exec"
	"strconv"
)

// caffeinate -w exits on its own once this process is gone.
func helperCommand() *exec.Cmd {
	return exec.Command("caffeinate", "-d", "-w", strconv.Itoa(os.Getpid()))
}
