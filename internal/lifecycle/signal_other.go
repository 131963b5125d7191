//go:build !unix

package lifecycle

import "os"

var shutdownSignals = []os.Signal{os.Interrupt}

func terminate(pid int) error {
	return kill(pid)
}

func kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
