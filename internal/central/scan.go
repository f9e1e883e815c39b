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

// ScanState represents the scan half of the lifecycle
type ScanState uint8

const (
	ScanIdle ScanState = iota
	ScanActive
)

// String returns a human-readable scan state name.
func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanActive:
		return "scanning"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s ScanState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Filter restricts which advertisements enter the device list.
type Filter struct {
	Allow    []string // device IDs; empty admits all
	Block    []string // device IDs; a block match wins over Allow
	Services []string // service UUIDs in any format; at least one must be advertised
}

// Match applies block, allow and service rules to ev. Service UUIDs are
// compared in normalized form, so "0x180D" matches
// "0000180d-0000-1000-8000-00805f9b34fb".
func (f Filter) Match(ev DiscoveryEvent) bool {
	for _, blocked := range f.Block {
		if ev.ID == blocked {
			return false
		}
	}

	if len(f.Allow) > 0 {
		allowed := false
		for _, a := range f.Allow {
			if ev.ID == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.Services) > 0 {
		hasRequired := false
		for _, required := range f.Services {
			req := NormalizeUUID(required)
			for _, advertised := range ev.Services {
				if NormalizeUUID(advertised) == req {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// ScanCallbacks receive scan session effects. They are invoked with the
// session lock held, so they must not call back into the session. Nil
// members are replaced with no-ops.
type ScanCallbacks struct {
	OnState   func(ScanState)
	OnDevices func([]Device)
	OnNotify  func(Notification)
}

func (cb ScanCallbacks) withDefaults() ScanCallbacks {
	if cb.OnState == nil {
		cb.OnState = func(ScanState) {}
	}
	if cb.OnDevices == nil {
		cb.OnDevices = func([]Device) {}
	}
	if cb.OnNotify == nil {
		cb.OnNotify = func(Notification) {}
	}
	return cb
}

// ScanSession owns the scan half of the lifecycle: the device registry, at
// most one live adapter subscription, and the scan deadline. The deadline
// shares a context with the subscription, so both are cancelled as one unit.
//
// Every asynchronous effect carries the generation of the attempt that armed
// it. The generation advances whenever an attempt starts or settles, which
// makes effects from torn-down attempts inert.
type ScanSession struct {
	adapter  Scanner
	registry *Registry
	timeout  time.Duration
	filter   Filter
	logger   *logrus.Logger
	cb       ScanCallbacks

	mu     sync.Mutex
	state  ScanState
	closed bool
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanSession creates an idle scan session. The timeout bounds every scan
// attempt; it must be positive.
func NewScanSession(adapter Scanner, timeout time.Duration, filter Filter, logger *logrus.Logger, cb ScanCallbacks) *ScanSession {
	if logger == nil {
		logger = logrus.New()
	}
	return &ScanSession{
		adapter:  adapter,
		registry: NewRegistry(),
		timeout:  timeout,
		filter:   filter,
		logger:   logger,
		cb:       cb.withDefaults(),
	}
}

// Start begins a scan attempt: the registry is rebuilt, the state moves to
// ScanActive and a single adapter subscription is opened with the scan
// deadline attached. Starting while a scan is active fails with
// ErrAlreadyScanning and leaves the running subscription untouched.
func (s *ScanSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrDisposed
	}
	if s.state == ScanActive {
		return ErrAlreadyScanning
	}

	s.gen++
	gen := s.gen
	s.state = ScanActive
	s.registry.Reset()

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	s.cb.OnDevices(s.registry.Devices())
	s.cb.OnState(ScanActive)

	s.logger.WithFields(logrus.Fields{
		"timeout": s.timeout,
	}).Info("Starting BLE scan")

	groutine.Go(scanCtx, "scan-worker", func(ctx context.Context) {
		defer close(done)
		err := s.adapter.Scan(ctx, s.filter, func(ev DiscoveryEvent) {
			s.handleDiscovery(gen, ev)
		})
		s.finish(gen, err)
	})

	return nil
}

// Stop ends the active scan and waits for the subscription to tear down, so
// the adapter is quiet when Stop returns. Stopping an idle session is a
// no-op.
func (s *ScanSession) Stop() {
	s.halt(false)
}

// Close stops the session and permanently rejects further starts.
func (s *ScanSession) Close() {
	s.halt(true)
}

func (s *ScanSession) halt(closeSession bool) {
	s.mu.Lock()
	if closeSession {
		s.closed = true
	}
	if s.state != ScanActive {
		s.mu.Unlock()
		return
	}

	s.gen++
	s.state = ScanIdle
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.cb.OnState(ScanIdle)
	s.mu.Unlock()

	cancel()
	<-done
}

// State returns the current scan state.
func (s *ScanSession) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the discovery-ordered device snapshot.
func (s *ScanSession) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Devices()
}

// Lookup returns the recorded device for id, if it was discovered.
func (s *ScanSession) Lookup(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(id)
}

// handleDiscovery records one advertisement. Events from retired attempts
// are dropped before they can touch the registry.
func (s *ScanSession) handleDiscovery(gen uint64, ev DiscoveryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != ScanActive {
		return
	}
	if !s.filter.Match(ev) {
		return
	}
	if !s.registry.Record(ev) {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device": ev.Name,
		"id":     ev.ID,
		"rssi":   ev.RSSI,
	}).Info("Discovered new device")

	s.cb.OnDevices(s.registry.Devices())
}

// finish settles the session when the subscription ends on its own. A stale
// exit changes nothing: Stop or a newer Start already settled this attempt.
func (s *ScanSession) finish(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}

	s.gen++
	s.state = ScanIdle
	s.cancel()
	s.cancel = nil
	s.done = nil

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.WithField("device_count", s.registry.Len()).Info("Scan deadline reached")
		s.cb.OnState(ScanIdle)
		s.cb.OnNotify(Notification{
			Type: NotifyScanTimeout,
			Err:  fmt.Errorf("%w after %s", ErrScanTimeout, s.timeout),
		})
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.WithField("device_count", s.registry.Len()).Info("BLE scan completed")
		s.cb.OnState(ScanIdle)
	default:
		s.logger.WithError(err).Error("BLE scan failed")
		s.cb.OnState(ScanIdle)
		s.cb.OnNotify(Notification{
			Type: NotifyScanError,
			Err:  WrapOp(ErrScanFailed, err),
		})
	}
}
