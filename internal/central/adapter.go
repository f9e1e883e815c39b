package central

import (
	"context"
	"time"
)

// DiscoveryEvent is one advertisement report delivered by the adapter.
type DiscoveryEvent struct {
	ID       string   // stable peripheral identifier (address or OS handle)
	Name     string   // advertised local name, may be empty
	RSSI     int      // signal strength in dBm
	Services []string // advertised service UUIDs, any format
}

// LinkState is the adapter's view of one peripheral link. Adapters may
// report values outside the declared set; sessions treat those as
// transient and ignore them.
type LinkState uint8

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

// String returns a human-readable link state name.
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// LinkEvent reports a link state change for the peripheral being dialed.
type LinkEvent struct {
	State LinkState
}

// Target identifies the service/characteristic pair all reads and writes
// address. Both UUIDs are held in normalized form.
type Target struct {
	Service        string
	Characteristic string
}

// NewTarget builds a Target, normalizing both UUIDs.
func NewTarget(service, characteristic string) Target {
	return Target{
		Service:        NormalizeUUID(service),
		Characteristic: NormalizeUUID(characteristic),
	}
}

// Scanner delivers advertisement reports.
type Scanner interface {
	// Scan blocks, invoking fn for every advertisement, until ctx ends or
	// the backend fails. It returns ctx.Err() when terminated by the
	// context. The filter is advisory for the adapter; the scan session
	// applies it authoritatively on every event.
	Scan(ctx context.Context, filter Filter, fn func(DiscoveryEvent)) error
}

// Connector dials one peripheral and streams link state changes.
type Connector interface {
	// Connect blocks for the lifetime of the link, invoking fn on every
	// link state change, until ctx ends or the link fails. The timeout
	// bounds link establishment only, not the link lifetime.
	Connect(ctx context.Context, deviceID string, timeout time.Duration, fn func(LinkEvent)) error
}

// CharacteristicIO performs GATT characteristic I/O on an established link.
type CharacteristicIO interface {
	Read(ctx context.Context, deviceID string, target Target) ([]byte, error)
	// Write performs a write-with-response.
	Write(ctx context.Context, deviceID string, target Target, value []byte) error
}

// Adapter is the full port the lifecycle core drives. Implementations must
// be safe for concurrent use.
type Adapter interface {
	Scanner
	Connector
	CharacteristicIO
}
