package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blink/internal/groutine"
)

// ConnState represents the connection half of the lifecycle
type ConnState uint8

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnFailed
)

// String returns a human-readable connection state name.
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnCallbacks receive connection session effects. They are invoked with
// the session lock held, so they must not call back into the session. Nil
// members are replaced with no-ops.
type ConnCallbacks struct {
	OnState  func(state ConnState, target string)
	OnNotify func(Notification)
}

func (cb ConnCallbacks) withDefaults() ConnCallbacks {
	if cb.OnState == nil {
		cb.OnState = func(ConnState, string) {}
	}
	if cb.OnNotify == nil {
		cb.OnNotify = func(Notification) {}
	}
	return cb
}

// ConnSession owns the connection half of the lifecycle: at most one link,
// its target device and the establishment deadline.
//
// The deadline is bound to the attempt generation it was armed for. A timer
// that fires after its attempt settled, or after a newer attempt replaced
// it, finds the generation advanced and does nothing. Without the binding a
// leftover timer from attempt A could tear down a healthy attempt B.
//
// The session's target is non-empty exactly while the state is not
// ConnDisconnected.
type ConnSession struct {
	adapter Connector
	timeout time.Duration
	logger  *logrus.Logger
	cb      ConnCallbacks

	mu     sync.Mutex
	state  ConnState
	target string
	closed bool
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	guard  *time.Timer
}

// NewConnSession creates a disconnected session. The timeout bounds link
// establishment; it must be positive.
func NewConnSession(adapter Connector, timeout time.Duration, logger *logrus.Logger, cb ConnCallbacks) *ConnSession {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConnSession{
		adapter: adapter,
		timeout: timeout,
		logger:  logger,
		cb:      cb.withDefaults(),
	}
}

// Connect begins a connection attempt to deviceID. It fails with
// ErrAlreadyConnected unless the session is disconnected. The attempt is
// guarded by the establishment deadline; if the link is not up when the
// guard fires, the attempt fails with a ConnectionTimeout notification.
func (c *ConnSession) Connect(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrDisposed
	}
	if c.state != ConnDisconnected {
		return ErrAlreadyConnected
	}

	c.gen++
	gen := c.gen
	c.state = ConnConnecting
	c.target = deviceID

	connCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done

	c.cb.OnState(ConnConnecting, deviceID)

	c.logger.WithFields(logrus.Fields{
		"device":  deviceID,
		"timeout": c.timeout,
	}).Info("Connecting to device")

	c.guard = time.AfterFunc(c.timeout, func() {
		c.deadline(gen)
	})

	groutine.Go(connCtx, "link-worker", func(ctx context.Context) {
		defer close(done)
		err := c.adapter.Connect(ctx, deviceID, c.timeout, func(ev LinkEvent) {
			c.handleLink(gen, ev)
		})
		c.finish(gen, err)
	})

	return nil
}

// Disconnect tears the connection down and waits for the link worker to
// exit, so the adapter is quiet when Disconnect returns. Disconnecting a
// disconnected session is a no-op.
func (c *ConnSession) Disconnect() {
	c.halt(false)
}

// Close disconnects and permanently rejects further connection attempts.
func (c *ConnSession) Close() {
	c.halt(true)
}

func (c *ConnSession) halt(closeSession bool) {
	c.mu.Lock()
	if closeSession {
		c.closed = true
	}
	if c.state == ConnDisconnected {
		c.mu.Unlock()
		return
	}
	cancel, done := c.teardownLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Current returns the connection state and target as one consistent pair.
func (c *ConnSession) Current() (ConnState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.target
}

// handleLink applies one adapter link event. Events from retired attempts
// are dropped; link states outside the known set are transient and ignored.
func (c *ConnSession) handleLink(gen uint64, ev LinkEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	switch ev.State {
	case LinkConnected:
		if c.state != ConnConnecting {
			return
		}
		c.stopGuard()
		c.state = ConnConnected
		c.logger.WithField("device", c.target).Info("Device connected")
		c.cb.OnState(ConnConnected, c.target)

	case LinkDisconnected:
		// Remote drop. The transition to disconnected is the signal;
		// there is no error to report. The worker cannot be joined from
		// its own callback, so only cancel here and let the stale exit
		// fall through finish.
		c.logger.WithField("device", c.target).Info("Device disconnected")
		cancel, _ := c.teardownLocked()
		if cancel != nil {
			cancel()
		}

	default:
		// LinkConnecting and unknown adapter states do not move the
		// session.
	}
}

// finish settles the session when the link worker exits on its own. Stale
// exits change nothing: Disconnect, the deadline or a remote drop already
// settled this attempt.
func (c *ConnSession) finish(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	c.gen++
	c.stopGuard()
	target := c.target
	cancel := c.cancel
	c.cancel, c.done = nil, nil

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		// Link closed cleanly underneath us.
		c.logger.WithField("device", target).Info("Link closed")
		c.state = ConnDisconnected
		c.target = ""
		c.cb.OnState(ConnDisconnected, "")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrConnectTimeout):
		c.failLocked(target, NotifyConnectionTimeout,
			fmt.Errorf("%w: %s after %s", ErrConnectTimeout, target, c.timeout))
	default:
		c.failLocked(target, NotifyConnectionError, WrapOp(ErrConnectFailed, err))
	}

	if cancel != nil {
		cancel()
	}
}

// deadline fires when establishment outlives the configured timeout. The
// guard was armed for one specific attempt generation: if that attempt has
// settled or been replaced, the timer is stale and must not act.
func (c *ConnSession) deadline(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != ConnConnecting {
		return
	}

	c.gen++
	c.guard = nil
	target := c.target
	cancel := c.cancel
	c.cancel, c.done = nil, nil

	c.failLocked(target, NotifyConnectionTimeout,
		fmt.Errorf("%w: %s after %s", ErrConnectTimeout, target, c.timeout))

	if cancel != nil {
		cancel()
	}
}

// failLocked publishes the failed attempt, then settles to the rest state.
// The ConnFailed transition keeps the target set, so observers see which
// attempt failed before the session comes to rest. Caller holds c.mu.
func (c *ConnSession) failLocked(target string, nt NotificationType, err error) {
	c.state = ConnFailed
	c.target = target
	c.logger.WithError(err).WithField("device", target).Error("Connection attempt failed")
	c.cb.OnState(ConnFailed, target)
	c.cb.OnNotify(Notification{Type: nt, Err: err})

	c.state = ConnDisconnected
	c.target = ""
	c.cb.OnState(ConnDisconnected, "")
}

// teardownLocked retires the current attempt and settles to the rest state.
// It returns the retired attempt's cancel and done pair; the caller cancels
// and, when not on the worker's own callback path, joins outside the lock.
func (c *ConnSession) teardownLocked() (context.CancelFunc, chan struct{}) {
	c.gen++
	c.stopGuard()
	c.state = ConnDisconnected
	c.target = ""
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.cb.OnState(ConnDisconnected, "")
	return cancel, done
}

func (c *ConnSession) stopGuard() {
	if c.guard != nil {
		c.guard.Stop()
		c.guard = nil
	}
}
