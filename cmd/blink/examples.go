package main

// Example device ID used in command help text.
const (
	exampleDeviceID = "aa:bb:cc:dd:ee:ff"
	deviceIDNote    = "Device ID format: MAC address on Linux (aa:bb:cc:dd:ee:ff),\n  128-bit UUID on macOS (01234567-89AB-CDEF-0123-456789ABCDEF)\n  Use 'blink scan' to discover devices"
)
