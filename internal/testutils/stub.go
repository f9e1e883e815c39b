package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srg/blink/internal/central"
)

// StubAdapter is a scriptable central.Adapter for lifecycle tests.
//
// Every adapter call is appended to an ordered log ("scan:start",
// "scan:cancelled", "connect:<id>", "read:<id>", ...), so tests can assert
// the exact order the lifecycle drives the adapter in. Discovery and link
// callbacks are retained past the end of their calls, which lets tests
// deliver deliberately stale events and verify the sessions drop them.
//
// Scan and Connect block the way real backends do: until their context ends
// or a scripted failure fires.
type StubAdapter struct {
	mu sync.Mutex

	calls      []string
	scanScript []central.DiscoveryEvent
	scanErr    error
	scanFn     func(central.DiscoveryEvent)
	scanAbort  chan error
	scanStarts int
	activeScan int

	linkScript []central.LinkState
	connectErr error
	linkFns    map[string]func(central.LinkEvent)

	readValue  []byte
	readErr    error
	writeErr   error
	writes     [][]byte
	lastTarget central.Target
}

var _ central.Adapter = (*StubAdapter)(nil)

// NewStubAdapter creates a stub whose Scan and Connect block until
// cancelled and whose Read returns an empty value.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{linkFns: make(map[string]func(central.LinkEvent))}
}

// WithDiscoveries scripts events delivered synchronously when a scan opens.
func (s *StubAdapter) WithDiscoveries(evs ...central.DiscoveryEvent) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanScript = append(s.scanScript, evs...)
	return s
}

// WithScanError makes the next scans fail with err right after the scripted
// discoveries are delivered.
func (s *StubAdapter) WithScanError(err error) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr = err
	return s
}

// WithLinkScript scripts link states delivered synchronously when a dial
// opens.
func (s *StubAdapter) WithLinkScript(states ...central.LinkState) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkScript = append(s.linkScript, states...)
	return s
}

// WithConnectError makes dials fail with err after the scripted link states.
func (s *StubAdapter) WithConnectError(err error) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
	return s
}

// WithReadValue scripts the value served by Read.
func (s *StubAdapter) WithReadValue(value []byte) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readValue = append([]byte(nil), value...)
	return s
}

// WithReadError makes Read fail with err.
func (s *StubAdapter) WithReadError(err error) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
	return s
}

// WithWriteError makes Write fail with err.
func (s *StubAdapter) WithWriteError(err error) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
	return s
}

// Scan implements central.Scanner. It delivers the scripted discoveries,
// then blocks until the context ends, AbortScan fires or a scripted error
// is set.
func (s *StubAdapter) Scan(ctx context.Context, _ central.Filter, fn func(central.DiscoveryEvent)) error {
	s.mu.Lock()
	s.calls = append(s.calls, "scan:start")
	s.scanStarts++
	s.activeScan++
	s.scanFn = fn
	scripted := append([]central.DiscoveryEvent(nil), s.scanScript...)
	scanErr := s.scanErr
	abort := make(chan error, 1)
	s.scanAbort = abort
	s.mu.Unlock()

	for _, ev := range scripted {
		fn(ev)
	}

	if scanErr != nil {
		s.endScan("scan:error")
		return scanErr
	}

	select {
	case err := <-abort:
		s.endScan("scan:error")
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.endScan("scan:deadline")
		} else {
			s.endScan("scan:cancelled")
		}
		return ctx.Err()
	}
}

func (s *StubAdapter) endScan(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeScan--
	s.calls = append(s.calls, entry)
}

// Connect implements central.Connector. It delivers the scripted link
// states, then blocks until the context ends or a scripted error is set.
// The timeout parameter is deliberately ignored: establishment deadlines
// are the session's job and tests exercise them there.
func (s *StubAdapter) Connect(ctx context.Context, deviceID string, _ time.Duration, fn func(central.LinkEvent)) error {
	s.mu.Lock()
	s.calls = append(s.calls, "connect:"+deviceID)
	s.linkFns[deviceID] = fn
	scripted := append([]central.LinkState(nil), s.linkScript...)
	connectErr := s.connectErr
	s.mu.Unlock()

	for _, state := range scripted {
		fn(central.LinkEvent{State: state})
	}

	if connectErr != nil {
		return connectErr
	}

	<-ctx.Done()
	return ctx.Err()
}

// Read implements central.CharacteristicIO.
func (s *StubAdapter) Read(_ context.Context, deviceID string, target central.Target) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "read:"+deviceID)
	s.lastTarget = target
	value := append([]byte(nil), s.readValue...)
	err := s.readErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return value, nil
}

// Write implements central.CharacteristicIO.
func (s *StubAdapter) Write(_ context.Context, deviceID string, target central.Target, value []byte) error {
	s.mu.Lock()
	s.calls = append(s.calls, "write:"+deviceID)
	s.lastTarget = target
	err := s.writeErr
	if err == nil {
		s.writes = append(s.writes, append([]byte(nil), value...))
	}
	s.mu.Unlock()
	return err
}

// EmitDiscovery delivers ev through the most recently registered discovery
// callback, live or stale. It reports whether any scan ever registered one.
func (s *StubAdapter) EmitDiscovery(ev central.DiscoveryEvent) bool {
	s.mu.Lock()
	fn := s.scanFn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// EmitLink delivers a link state change through the callback registered for
// deviceID, live or stale. It reports whether that device was ever dialed.
func (s *StubAdapter) EmitLink(deviceID string, state central.LinkState) bool {
	s.mu.Lock()
	fn := s.linkFns[deviceID]
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(central.LinkEvent{State: state})
	return true
}

// AbortScan makes the active scan return err. It reports whether a scan was
// active to abort.
func (s *StubAdapter) AbortScan(err error) bool {
	s.mu.Lock()
	abort := s.scanAbort
	active := s.activeScan > 0
	s.mu.Unlock()
	if !active || abort == nil {
		return false
	}
	select {
	case abort <- err:
		return true
	default:
		return false
	}
}

// Calls returns a copy of the ordered call log.
func (s *StubAdapter) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ScanStarts returns how many times Scan was entered.
func (s *StubAdapter) ScanStarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanStarts
}

// ActiveScans returns how many Scan calls are currently blocked.
func (s *StubAdapter) ActiveScans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeScan
}

// Writes returns copies of the payloads accepted by Write.
func (s *StubAdapter) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	for i, w := range s.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// LastTarget returns the target of the most recent Read or Write.
func (s *StubAdapter) LastTarget() central.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTarget
}
