package central

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blink/internal/ringchan"
)

// Lifecycle defaults, shared with pkg/config.
const (
	DefaultScanTimeout    = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultFeedCapacity   = 128
)

// NotificationType enumerates the discrete lifecycle events surfaced beside
// the state snapshot.
type NotificationType uint8

const (
	NotifyScanError NotificationType = iota
	NotifyScanTimeout
	NotifyConnectionError
	NotifyConnectionTimeout
	NotifyReadFailed
	NotifyWriteFailed
)

// String returns a human-readable notification type name.
func (t NotificationType) String() string {
	switch t {
	case NotifyScanError:
		return "scan error"
	case NotifyScanTimeout:
		return "scan timed out"
	case NotifyConnectionError:
		return "connection error"
	case NotifyConnectionTimeout:
		return "connection timed out"
	case NotifyReadFailed:
		return "read failed"
	case NotifyWriteFailed:
		return "write failed"
	default:
		return "unknown"
	}
}

// Notification is one discrete lifecycle event. Err carries the cause with
// the matching sentinel in its chain.
type Notification struct {
	Type NotificationType
	Err  error
}

// Snapshot is one atomic view of the whole lifecycle.
type Snapshot struct {
	Scan     ScanState `json:"scanState"`
	Devices  []Device  `json:"devices"`
	Conn     ConnState `json:"connectionState"`
	Selected *Device   `json:"selectedDevice,omitempty"`
}

// Options configure a Coordinator. Zero timeouts and capacity fall back to
// the package defaults.
type Options struct {
	ScanTimeout    time.Duration // bounds each scan attempt
	ConnectTimeout time.Duration // bounds link establishment
	Filter         Filter        // authoritative discovery filter
	Target         Target        // service/characteristic pair for I/O
	FeedCapacity   int           // snapshot and notification buffering
}

// Coordinator composes the scan and connection sessions behind one
// concurrency-safe facade. Every state change is published to the snapshot
// feed as one atomic value; failures additionally surface on the
// notification feed. Neither feed ever blocks the lifecycle: lagging
// observers lose the oldest entries first.
type Coordinator struct {
	scan   *ScanSession
	conn   *ConnSession
	chars  *CharacteristicClient
	logger *logrus.Logger

	// mirror of session state, composed into snapshots
	mu        sync.Mutex
	scanState ScanState
	devices   []Device
	connState ConnState
	selected  *Device

	// feedMu gates feed sends against Dispose closing the rings
	feedMu        sync.RWMutex
	disposed      atomic.Bool
	snapshots     *ringchan.Ring[Snapshot]
	notifications *ringchan.Ring[Notification]
}

// NewCoordinator wires the sessions over adapter and publishes the baseline
// snapshot.
func NewCoordinator(adapter Adapter, opts Options, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.FeedCapacity <= 0 {
		opts.FeedCapacity = DefaultFeedCapacity
	}

	co := &Coordinator{
		logger:        logger,
		snapshots:     ringchan.New[Snapshot](opts.FeedCapacity),
		notifications: ringchan.New[Notification](opts.FeedCapacity),
	}

	co.scan = NewScanSession(adapter, opts.ScanTimeout, opts.Filter, logger, ScanCallbacks{
		OnState:   co.onScanState,
		OnDevices: co.onDevices,
		OnNotify:  co.onNotify,
	})
	co.conn = NewConnSession(adapter, opts.ConnectTimeout, logger, ConnCallbacks{
		OnState:  co.onConnState,
		OnNotify: co.onNotify,
	})
	co.chars = NewCharacteristicClient(adapter, opts.Target, logger)

	co.publish(co.Snapshot())
	return co
}

// StartScan begins device discovery. It fails with ErrAlreadyScanning while
// a scan is active and with ErrDisposed after Dispose.
func (co *Coordinator) StartScan(ctx context.Context) error {
	if co.disposed.Load() {
		return ErrDisposed
	}
	return co.scan.Start(ctx)
}

// StopScan ends discovery. The device list keeps what was found so far.
func (co *Coordinator) StopScan() {
	co.scan.Stop()
}

// SelectDevice connects to deviceID. Any active scan is stopped first and
// any prior connection is torn down second, both synchronously, before the
// new attempt begins.
func (co *Coordinator) SelectDevice(ctx context.Context, deviceID string) error {
	if co.disposed.Load() {
		return ErrDisposed
	}
	co.scan.Stop()
	co.conn.Disconnect()
	return co.conn.Connect(ctx, deviceID)
}

// Disconnect tears down the current connection, if any.
func (co *Coordinator) Disconnect() {
	co.conn.Disconnect()
}

// ReadCharacteristic reads the fixed characteristic from the selected
// device. Without an established connection it fails with ErrNotConnected
// before the adapter is touched. Failures surface both as the returned
// error and on the notification feed.
func (co *Coordinator) ReadCharacteristic(ctx context.Context) ([]byte, error) {
	if co.disposed.Load() {
		return nil, ErrDisposed
	}

	state, target := co.conn.Current()
	if state != ConnConnected {
		err := WrapOp(ErrReadFailed, ErrNotConnected)
		co.notify(Notification{Type: NotifyReadFailed, Err: err})
		return nil, err
	}

	value, err := co.chars.Read(ctx, target)
	if err != nil {
		co.notify(Notification{Type: NotifyReadFailed, Err: err})
		return nil, err
	}
	return value, nil
}

// WriteCharacteristic writes value to the fixed characteristic with
// response. Preconditions and failure surfacing match ReadCharacteristic.
func (co *Coordinator) WriteCharacteristic(ctx context.Context, value []byte) error {
	if co.disposed.Load() {
		return ErrDisposed
	}

	state, target := co.conn.Current()
	if state != ConnConnected {
		err := WrapOp(ErrWriteFailed, ErrNotConnected)
		co.notify(Notification{Type: NotifyWriteFailed, Err: err})
		return err
	}

	if err := co.chars.Write(ctx, target, value); err != nil {
		co.notify(Notification{Type: NotifyWriteFailed, Err: err})
		return err
	}
	return nil
}

// Snapshot returns the current composite state as one consistent value.
func (co *Coordinator) Snapshot() Snapshot {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.snapshotLocked()
}

// Snapshots returns the live snapshot feed. Lagging observers lose the
// oldest snapshots first; the latest received value is always a complete,
// consistent view.
func (co *Coordinator) Snapshots() <-chan Snapshot {
	return co.snapshots.C()
}

// Notifications returns the discrete failure feed, with the same
// drop-oldest behavior as Snapshots.
func (co *Coordinator) Notifications() <-chan Notification {
	return co.notifications.C()
}

// Target returns the service/characteristic pair all I/O addresses.
func (co *Coordinator) Target() Target {
	return co.chars.Target()
}

// Dispose tears the whole lifecycle down: the scan stops, the connection
// drops and both feeds close. It is idempotent and safe from any state;
// operations after Dispose fail with ErrDisposed and late session effects
// are dropped instead of panicking on a closed feed.
func (co *Coordinator) Dispose() {
	if !co.disposed.CompareAndSwap(false, true) {
		return
	}

	co.scan.Close()
	co.conn.Close()

	co.feedMu.Lock()
	co.snapshots.Close()
	co.notifications.Close()
	co.feedMu.Unlock()

	co.logger.Info("Lifecycle disposed")
}

func (co *Coordinator) onScanState(s ScanState) {
	co.mu.Lock()
	co.scanState = s
	snap := co.snapshotLocked()
	co.mu.Unlock()
	co.publish(snap)
}

func (co *Coordinator) onDevices(devices []Device) {
	co.mu.Lock()
	co.devices = devices
	snap := co.snapshotLocked()
	co.mu.Unlock()
	co.publish(snap)
}

func (co *Coordinator) onConnState(state ConnState, target string) {
	co.mu.Lock()
	co.connState = state
	switch {
	case target == "":
		co.selected = nil
	case co.selected == nil || co.selected.ID != target:
		dev := co.lookupDeviceLocked(target)
		co.selected = &dev
	}
	snap := co.snapshotLocked()
	co.mu.Unlock()
	co.publish(snap)
}

func (co *Coordinator) onNotify(n Notification) {
	co.notify(n)
}

// lookupDeviceLocked resolves target against the mirrored device list. A
// target selected outside the list (or after the list was rebuilt) still
// yields a usable device carrying just the ID.
func (co *Coordinator) lookupDeviceLocked(target string) Device {
	for _, d := range co.devices {
		if d.ID == target {
			return d
		}
	}
	return Device{ID: target}
}

func (co *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Scan:    co.scanState,
		Devices: co.devices,
		Conn:    co.connState,
	}
	if co.selected != nil {
		dev := *co.selected
		snap.Selected = &dev
	}
	return snap
}

func (co *Coordinator) publish(snap Snapshot) {
	co.feedMu.RLock()
	defer co.feedMu.RUnlock()
	if co.disposed.Load() {
		return
	}
	co.snapshots.Send(snap)
}

func (co *Coordinator) notify(n Notification) {
	co.feedMu.RLock()
	defer co.feedMu.RUnlock()
	if co.disposed.Load() {
		return
	}
	co.notifications.Send(n)
}
