//go:build unix

package lifecycle

import (
	"os"

	"golang.org/x/sys/unix"
)

var shutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

func terminate(pid int) error {
	return ignoreGone(unix.Kill(pid, unix.SIGTERM))
}

func kill(pid int) error {
	return ignoreGone(unix.Kill(pid, unix.SIGKILL))
}

func ignoreGone(err error) error {
	if err == unix.ESRCH {
		return nil
	}
	return err
}
