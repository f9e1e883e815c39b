package central

import (
	"context"

	"github.com/sirupsen/logrus"
)

// CharacteristicClient performs reads and writes against one fixed
// service/characteristic pair. It is stateless and never retries; whether a
// failed transfer is worth repeating is the caller's call. Connection
// preconditions are the coordinator's job, not the client's.
type CharacteristicClient struct {
	adapter CharacteristicIO
	target  Target
	logger  *logrus.Logger
}

// NewCharacteristicClient creates a client addressing target. The target's
// UUIDs are expected in normalized form (see NewTarget).
func NewCharacteristicClient(adapter CharacteristicIO, target Target, logger *logrus.Logger) *CharacteristicClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &CharacteristicClient{
		adapter: adapter,
		target:  target,
		logger:  logger,
	}
}

// Target returns the service/characteristic pair the client addresses.
func (c *CharacteristicClient) Target() Target {
	return c.target
}

// Read fetches the characteristic value from deviceID. A failure is wrapped
// as ErrReadFailed with the cause kept in the error chain.
func (c *CharacteristicClient) Read(ctx context.Context, deviceID string) ([]byte, error) {
	value, err := c.adapter.Read(ctx, deviceID, c.target)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device":         deviceID,
			"service":        c.target.Service,
			"characteristic": c.target.Characteristic,
		}).Error("Characteristic read failed")
		return nil, WrapOp(ErrReadFailed, err)
	}

	c.logger.WithFields(logrus.Fields{
		"device": deviceID,
		"bytes":  len(value),
	}).Debug("Characteristic read")
	return value, nil
}

// Write sends value as a write-with-response. A failure is wrapped as
// ErrWriteFailed with the cause kept in the error chain.
func (c *CharacteristicClient) Write(ctx context.Context, deviceID string, value []byte) error {
	if err := c.adapter.Write(ctx, deviceID, c.target, value); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device":         deviceID,
			"service":        c.target.Service,
			"characteristic": c.target.Characteristic,
		}).Error("Characteristic write failed")
		return WrapOp(ErrWriteFailed, err)
	}

	c.logger.WithFields(logrus.Fields{
		"device": deviceID,
		"bytes":  len(value),
	}).Debug("Characteristic written")
	return nil
}
