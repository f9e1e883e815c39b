// Package goble backs the lifecycle core with the go-ble host stack. It is
// the only package that talks to the OS Bluetooth layer; everything above it
// sees the Adapter port and normalized errors.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blink/internal/central"
)

const (
	// DefaultReadTimeout bounds a single characteristic read so an
	// unresponsive peripheral cannot block the caller indefinitely.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteChunkSize is the maximum payload per write. Values
	// larger than the BLE ATT payload are split into chunks of this size.
	DefaultWriteChunkSize = 20

	// DefaultWriteDelay is the pause between write chunks, giving the
	// peripheral time to process each one.
	DefaultWriteDelay = 10 * time.Millisecond
)

// Adapter drives a real BLE central through go-ble. One platform device
// backs all operations; it is created lazily on first use and registered as
// the process-wide default go-ble device.
type Adapter struct {
	logger *logrus.Logger

	deviceOnce sync.Once
	dev        ble.Device
	devErr     error

	// links maps device ID to its live link. Entries exist only while the
	// owning Connect call is running.
	links *hashmap.Map[string, *link]
}

// New creates an Adapter. The platform BLE device is not touched until the
// first scan or connect.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger: logger,
		links:  hashmap.New[string, *link](),
	}
}

// device returns the shared platform BLE device, creating it on first use.
func (a *Adapter) device() (ble.Device, error) {
	a.deviceOnce.Do(func() {
		a.dev, a.devErr = DeviceFactory()
		if a.devErr != nil {
			a.logger.WithError(a.devErr).Error("Failed to create BLE device")
			return
		}
		ble.SetDefaultDevice(a.dev)
	})
	return a.dev, a.devErr
}

// advertisement is the slice of ble.Advertisement the adapter reads.
type advertisement interface {
	Addr() ble.Addr
	LocalName() string
	RSSI() int
	Services() []ble.UUID
}

// discoveryEvent maps one advertisement report to the port type.
func discoveryEvent(adv advertisement) central.DiscoveryEvent {
	uuids := adv.Services()
	services := make([]string, 0, len(uuids))
	for _, u := range uuids {
		services = append(services, u.String())
	}
	return central.DiscoveryEvent{
		ID:       adv.Addr().String(),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: services,
	}
}

// Scan blocks on the go-ble scanner, forwarding every advertisement to fn
// until ctx ends or the backend fails. Duplicate reports are left to the
// caller's registry, which keeps first-seen data.
func (a *Adapter) Scan(ctx context.Context, filter central.Filter, fn func(central.DiscoveryEvent)) error {
	if _, err := a.device(); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"allow":    len(filter.Allow),
		"block":    len(filter.Block),
		"services": len(filter.Services),
	}).Debug("Starting BLE scan backend")

	var bleFilter func(ble.Advertisement) bool
	if len(filter.Allow) > 0 || len(filter.Block) > 0 || len(filter.Services) > 0 {
		bleFilter = func(adv ble.Advertisement) bool {
			return filter.Match(discoveryEvent(adv))
		}
	}

	err := ble.Scan(ctx, false, func(adv ble.Advertisement) {
		fn(discoveryEvent(adv))
	}, bleFilter)
	return NormalizeError(err)
}

// gattClient is the slice of ble.Client a live link uses.
type gattClient interface {
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// link is one established connection with its discovered characteristics.
type link struct {
	client  gattClient
	chars   map[string]*ble.Characteristic
	writeMu sync.Mutex
}

// newLink indexes the discovered profile by normalized service and
// characteristic UUID, so lookups are independent of the form the OS
// reports.
func newLink(client gattClient, profile *ble.Profile) *link {
	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		svcUUID := central.NormalizeUUID(svc.UUID.String())
		for _, char := range svc.Characteristics {
			chars[charKey(svcUUID, central.NormalizeUUID(char.UUID.String()))] = char
		}
	}
	return &link{client: client, chars: chars}
}

func charKey(service, characteristic string) string {
	return service + "/" + characteristic
}

// characteristic resolves a target against the discovered profile.
func (l *link) characteristic(t central.Target) (*ble.Characteristic, error) {
	char, ok := l.chars[charKey(t.Service, t.Characteristic)]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", t.Characteristic, t.Service)
	}
	return char, nil
}

// Connect dials deviceID, discovers its profile and then blocks for the
// lifetime of the link. The timeout bounds the dial only. fn receives link
// state changes; a remote drop is reported as LinkDisconnected before
// Connect returns.
func (a *Adapter) Connect(ctx context.Context, deviceID string, timeout time.Duration, fn func(central.LinkEvent)) error {
	if _, err := a.device(); err != nil {
		return err
	}

	fn(central.LinkEvent{State: central.LinkConnecting})

	a.logger.WithFields(logrus.Fields{
		"address": deviceID,
		"timeout": timeout,
	}).Debug("Dialing BLE device")

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	client, err := ble.Dial(dialCtx, ble.NewAddr(deviceID))
	cancel()
	if err != nil {
		return NormalizeError(err)
	}

	a.logger.WithField("address", deviceID).Debug("Discovering services and characteristics")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			a.logger.WithError(cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	lnk := newLink(client, profile)
	a.links.Set(deviceID, lnk)
	defer a.links.Del(deviceID)

	a.logger.WithFields(logrus.Fields{
		"address":         deviceID,
		"services":        len(profile.Services),
		"characteristics": len(lnk.chars),
	}).Info("BLE device connected")

	fn(central.LinkEvent{State: central.LinkConnected})

	// The Darwin client exposes the CoreBluetooth disconnect signal; other
	// platforms surface drops through failing I/O instead.
	var lost <-chan struct{}
	if mon, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		lost = mon.Disconnected()
	}

	select {
	case <-ctx.Done():
		if err := client.CancelConnection(); err != nil {
			a.logger.WithError(err).Warn("BLE device disconnected with errors")
		} else {
			a.logger.WithField("address", deviceID).Info("BLE device disconnected")
		}
		return ctx.Err()
	case <-lost:
		a.logger.WithField("address", deviceID).Warn("Remote device dropped the link")
		fn(central.LinkEvent{State: central.LinkDisconnected})
		return nil
	}
}

// Read reads the target characteristic on an established link. The read is
// bounded by ctx and DefaultReadTimeout, whichever ends first.
func (a *Adapter) Read(ctx context.Context, deviceID string, target central.Target) ([]byte, error) {
	lnk, ok := a.links.Get(deviceID)
	if !ok {
		return nil, central.ErrNotConnected
	}
	char, err := lnk.characteristic(target)
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := lnk.client.ReadCharacteristic(char)
		resultCh <- readResult{data: data, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, NormalizeError(res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(DefaultReadTimeout):
		return nil, fmt.Errorf("read of characteristic %s timed out after %s", target.Characteristic, DefaultReadTimeout)
	}
}

// Write writes value to the target characteristic with response, splitting
// payloads larger than DefaultWriteChunkSize. Writes on one link are
// serialized.
func (a *Adapter) Write(ctx context.Context, deviceID string, target central.Target, value []byte) error {
	lnk, ok := a.links.Get(deviceID)
	if !ok {
		return central.ErrNotConnected
	}
	char, err := lnk.characteristic(target)
	if err != nil {
		return err
	}

	lnk.writeMu.Lock()
	defer lnk.writeMu.Unlock()

	data := value
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(data)
		if n > DefaultWriteChunkSize {
			n = DefaultWriteChunkSize
		}
		if err := lnk.client.WriteCharacteristic(char, data[:n], false); err != nil {
			return NormalizeError(err)
		}
		data = data[n:]
		time.Sleep(DefaultWriteDelay)
	}
	return nil
}
