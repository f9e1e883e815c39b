package central

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Device is one discovered peripheral as held by the registry.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	RSSI int    `json:"rssi"`
}

// DisplayName returns the advertised name or "unknown" when the peripheral
// did not advertise one.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return "unknown"
	}
	return d.Name
}

// Registry is a deduplicated device list that preserves discovery order.
// The first sighting of an ID wins: later advertisements for the same
// peripheral never overwrite the recorded name or RSSI.
//
// Registry is not safe for concurrent use. The owning scan session
// serializes all access.
type Registry struct {
	devices *orderedmap.OrderedMap[string, Device]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: orderedmap.New[string, Device]()}
}

// Record adds the device from ev unless its ID is already present or empty.
// It reports whether the registry changed.
func (r *Registry) Record(ev DiscoveryEvent) bool {
	if ev.ID == "" {
		return false
	}
	if _, exists := r.devices.Get(ev.ID); exists {
		return false
	}
	r.devices.Set(ev.ID, Device{ID: ev.ID, Name: ev.Name, RSSI: ev.RSSI})
	return true
}

// Get returns the recorded device for id, if present.
func (r *Registry) Get(id string) (Device, bool) {
	return r.devices.Get(id)
}

// Devices returns a snapshot of all recorded devices in discovery order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of recorded devices.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// Reset drops every recorded device.
func (r *Registry) Reset() {
	r.devices = orderedmap.New[string, Device]()
}
