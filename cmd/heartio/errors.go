package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/heartio/internal/config"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/discovery"
	"github.com/srg/heartio/internal/lifecycle"
	"github.com/srg/heartio/internal/sink"
	"github.com/srg/heartio/internal/source"
)

// FormatUserError turns an error chain into a message for the terminal.
func FormatUserError(err error) string {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(verr.Problems, "\n  - "))

	case errors.Is(err, device.ErrAdapterUnavailable):
		return "Bluetooth adapter is not available. Turn Bluetooth on and make sure heartio is allowed to use it."

	case errors.Is(err, discovery.ErrTimeout):
		return "no heart-rate device found. Put the sensor in pairing mode, or set device.name / device.address " +
			"in " + config.FileName + " (run 'heartio scan' to list nearby devices)."

	case errors.Is(err, device.ErrConnectionLost):
		return "connection to the heart-rate device was lost. Restart heartio to reconnect."

	case errors.Is(err, source.ErrNoHeartRate), errors.Is(err, source.ErrServiceDiscovery):
		return fmt.Sprintf("the device does not provide heart-rate measurements: %v", err)

	case errors.Is(err, sink.ErrSink):
		return fmt.Sprintf("output failed: %v", err)

	case errors.Is(err, lifecycle.ErrShutdownTimeout), errors.Is(err, lifecycle.ErrForcedShutdown):
		return fmt.Sprintf("%v; background helpers were force-stopped", err)

	default:
		return err.Error()
	}
}
