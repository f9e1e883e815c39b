package main

import (
	"errors"

	"github.com/srg/blink/internal/central"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during
	// operation. This is distinct from central.ErrNotConnected, which indicates an
	// attempt to use a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError rewrites lifecycle errors into actionable one-liners for
// the terminal. Errors without a friendlier wording pass through unchanged.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, central.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, ErrConnectionLost):
		return "Connection lost. The device may be out of range or powered off."
	case errors.Is(err, central.ErrConnectTimeout):
		return "Connection attempt timed out. The device may be out of range or busy."
	case errors.Is(err, central.ErrAlreadyConnected):
		return "Already connected to the device."
	case errors.Is(err, central.ErrAlreadyScanning):
		return "A scan is already running."
	case errors.Is(err, central.ErrNotConnected):
		return "Not connected. Connect to the device and try again."
	case errors.Is(err, central.ErrDisposed):
		return "The BLE session was already shut down."
	default:
		return err.Error()
	}
}
