package central

import (
	"errors"
	"fmt"
)

// Op names the adapter operation an AdapterError originates from.
type Op string

const (
	OpScan    Op = "scan"
	OpConnect Op = "connect"
	OpRead    Op = "read"
	OpWrite   Op = "write"
)

// AdapterError represents the failure of one adapter operation.
type AdapterError struct {
	Op  Op
	Msg string
}

// Error implements the error interface
func (e *AdapterError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Msg)
}

// Is allows errors.Is to compare AdapterError values by Op
func (e *AdapterError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AdapterError)
	if !ok {
		return false
	}
	return e.Op == t.Op
}

// Predefined sentinel errors for adapter operation failures
var (
	ErrScanFailed    = &AdapterError{Op: OpScan}
	ErrConnectFailed = &AdapterError{Op: OpConnect}
	ErrReadFailed    = &AdapterError{Op: OpRead}
	ErrWriteFailed   = &AdapterError{Op: OpWrite}
)

// Lifecycle errors
var (
	ErrAlreadyScanning  = errors.New("already scanning")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrScanTimeout      = errors.New("scan timed out")
	ErrConnectTimeout   = errors.New("connection timed out")
	ErrBluetoothOff     = errors.New("bluetooth is powered off")
	ErrDisposed         = errors.New("lifecycle disposed")
)

// WrapOp tags err with the failed operation while keeping the cause in the
// errors.Is/As chain, so callers can match both the operation sentinel and
// the underlying condition.
func WrapOp(sentinel *AdapterError, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// IsAdapterOp reports whether err is an AdapterError for the given operation
func IsAdapterOp(err error, op Op) bool {
	var aerr *AdapterError
	if errors.As(err, &aerr) {
		return aerr.Op == op
	}
	return false
}
