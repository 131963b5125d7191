package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/heartrate"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockPeripheral(address string) *PeripheralBuilder {
	return NewPeripheralBuilder(address)
}

// CreateHeartRatePeripheral builds a peripheral exposing the standard heart-rate service.
func CreateHeartRatePeripheral(address string) *PeripheralBuilder {
	return NewPeripheralBuilder(address).
		WithService("0000180d-0000-1000-8000-00805f9b34fb",
			NewCharacteristic("00002a37-0000-1000-8000-00805f9b34fb", true),
			NewCharacteristic("00002a38-0000-1000-8000-00805f9b34fb", false),
		)
}

// ReceiveSample waits up to timeout for a sample on ch and fails the test otherwise.
func (h *TestHelper) ReceiveSample(ch <-chan heartrate.Sample, timeout time.Duration) heartrate.Sample {
	h.T.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(timeout):
		h.T.Fatalf("no sample received within %s", timeout)
		return heartrate.Sample{}
	}
}

// ExpectNoSample asserts that nothing arrives on ch during wait.
func (h *TestHelper) ExpectNoSample(ch <-chan heartrate.Sample, wait time.Duration) {
	h.T.Helper()
	select {
	case s := <-ch:
		h.T.Fatalf("unexpected sample: %+v", s)
	case <-time.After(wait):
	}
}
