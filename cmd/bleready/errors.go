package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bleready/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE link dropped while a command was
	// running. device.ErrNotConnected is reported when a command needs a
	// connection that never existed.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns known errors into a hint the user can act on
func FormatUserError(err error) string {
	var notFound *device.NotFoundError

	switch {
	case errors.Is(err, device.ErrChooserCancelled):
		return "no matching device found; check that it is powered on and advertising"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("timed out: %s", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case errors.Is(err, device.ErrNotConnected):
		return "not connected to a device"
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s; check --service and --characteristic", notFound.Error())
	default:
		return err.Error()
	}
}
