package testutils

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a logger suitable for lifecycle tests: silent by
// default so assertion output stays readable, full debug stream when
// BLINK_TEST_DEBUG is set and a hang needs tracing.
func NewTestLogger(t *testing.T) *logrus.Logger {
	t.Helper()

	logger := logrus.New()
	if os.Getenv("BLINK_TEST_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
		return logger
	}
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
