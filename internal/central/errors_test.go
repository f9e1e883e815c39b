package central

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterError(t *testing.T) {
	// GOAL: Verify adapter errors match their operation sentinels
	//
	// TEST SCENARIO: Wrap causes per operation → errors.Is against sentinels and causes
	t.Run("MessageFormat", func(t *testing.T) {
		assert.Equal(t, "read failed", ErrReadFailed.Error())
		withMsg := &AdapterError{Op: OpScan, Msg: "hci0 busy"}
		assert.Equal(t, "scan failed: hci0 busy", withMsg.Error())
	})

	t.Run("MatchesByOperation", func(t *testing.T) {
		err := &AdapterError{Op: OpWrite, Msg: "att timeout"}
		assert.ErrorIs(t, err, ErrWriteFailed)
		assert.NotErrorIs(t, err, ErrReadFailed)
	})

	t.Run("WrapKeepsSentinelAndCause", func(t *testing.T) {
		cause := errors.New("device went away")
		err := WrapOp(ErrConnectFailed, cause)

		assert.ErrorIs(t, err, ErrConnectFailed)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connect failed")
		assert.Contains(t, err.Error(), "device went away")
	})

	t.Run("WrapKeepsSentinelChain", func(t *testing.T) {
		// Precondition failures wrap one sentinel in another; both must
		// stay visible to errors.Is.
		err := WrapOp(ErrReadFailed, ErrNotConnected)
		assert.ErrorIs(t, err, ErrReadFailed)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("IsAdapterOp", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", WrapOp(ErrScanFailed, errors.New("radio off")))
		assert.True(t, IsAdapterOp(err, OpScan))
		assert.False(t, IsAdapterOp(err, OpConnect))
		assert.False(t, IsAdapterOp(errors.New("plain"), OpScan))
	})
}

func TestLifecycleSentinels(t *testing.T) {
	// GOAL: Verify lifecycle sentinels are distinct and wrappable
	//
	// TEST SCENARIO: Wrap each sentinel → errors.Is still matches, messages stay stable
	sentinels := []error{
		ErrAlreadyScanning,
		ErrAlreadyConnected,
		ErrNotConnected,
		ErrScanTimeout,
		ErrConnectTimeout,
		ErrBluetoothOff,
		ErrDisposed,
	}

	for i, s := range sentinels {
		wrapped := fmt.Errorf("context: %w", s)
		require.ErrorIs(t, wrapped, s)
		for j, other := range sentinels {
			if i == j {
				continue
			}
			require.NotErrorIs(t, wrapped, other)
		}
	}

	assert.Equal(t, "already scanning", ErrAlreadyScanning.Error())
	assert.Equal(t, "not connected", ErrNotConnected.Error())
}
