package lifecycle

import (
	"os/exec"
	"syscall"
)

// systemd-inhibit holds an idle/sleep lock for as long as its child runs.
// Pdeathsig ties the helper's life to ours.
func helperCommand() *exec.Cmd {
	path, err := exec.LookPath("systemd-inhibit")
	if err != nil {
		return nil
	}
	cmd := exec.Command(path,
		"--what=idle:sleep",
		"--who=heartio",
		"--why=Heart rate monitoring",
		"--mode=block",
		"sleep", "infinity")
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
	return cmd
}
